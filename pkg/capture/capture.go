// Package capture is the class-definition hook: it persists each defined
// class under the output root, attributes the definition to the code that
// produced it, and keeps session statistics.
package capture

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/odvcencio/classtap/pkg/host"
	"github.com/odvcencio/classtap/pkg/layout"
	"github.com/odvcencio/classtap/pkg/logging"
	"github.com/odvcencio/classtap/pkg/stats"
	"github.com/odvcencio/classtap/pkg/store"
)

// DefaultIgnorePrefixes are the platform namespaces never captured.
var DefaultIgnorePrefixes = []string{"java/", "javax/", "com/sun", "sun/", "jdk/"}

// ErrRedefinition is returned for redefinition events, which are not
// supported. The host must abort.
var ErrRedefinition = errors.New("capture: class redefinition is not supported")

// IsFatal reports whether err requires the host process to stop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRedefinition) ||
		errors.Is(err, layout.ErrPathTooLong) ||
		errors.Is(err, layout.ErrMalformedName) ||
		errors.Is(err, layout.ErrOutputDir)
}

// Event is one class-definition notification.
type Event struct {
	Name         string // slash-separated; empty for anonymous classes
	Loader       host.Loader
	Thread       host.Thread
	Payload      []byte
	Redefinition bool
}

// Result describes how one event was handled.
type Result struct {
	Ignored  bool
	Identity layout.Identity
	Write    store.WriteResult
	// WriteErr is a non-fatal I/O failure writing the class payload.
	WriteErr error
	Record   *ContextRecord
	// StatsErr is a statistics invariant violation for this event.
	StatsErr error
	// SinkErr is a failure emitting the context record.
	SinkErr error
}

// Options configures a Capturer. Zero values select defaults.
type Options struct {
	Root           string // default "out"
	MaxFrames      int    // default DefaultMaxFrames
	IgnorePrefixes []string
	Sink           store.Sink // default store.InfoFileSink
	Stats          *stats.Aggregator
	Logger         *slog.Logger
	Session        string
	// Unserialized drops the pipeline lock, leaving only the statistics
	// lock. Concurrent events for one identity may then race on disk.
	Unserialized bool
}

// Capturer handles class-definition events. It is safe for concurrent use.
type Capturer struct {
	mu        sync.Mutex
	serialize bool

	host     host.Host
	resolver *layout.Resolver
	store    *store.Store
	sink     store.Sink
	stats    *stats.Aggregator
	rec      *Reconstructor
	ignore   []string
	log      *slog.Logger
	session  string
}

// New returns a Capturer backed by h.
func New(h host.Host, opts Options) *Capturer {
	if opts.Root == "" {
		opts.Root = "out"
	}
	if opts.IgnorePrefixes == nil {
		opts.IgnorePrefixes = DefaultIgnorePrefixes
	}
	if opts.Sink == nil {
		opts.Sink = store.InfoFileSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Stats == nil {
		opts.Stats = stats.New(stats.WithLogger(opts.Logger))
	}
	if opts.Session == "" {
		opts.Session = uuid.NewString()
	}
	log := opts.Logger.With("component", "capture", "session", opts.Session)

	return &Capturer{
		serialize: !opts.Unserialized,
		host:      h,
		resolver:  layout.NewResolver(opts.Root),
		store:     store.NewStore(log),
		sink:      opts.Sink,
		stats:     opts.Stats,
		rec:       NewReconstructor(h, opts.Stats, opts.MaxFrames),
		ignore:    append([]string(nil), opts.IgnorePrefixes...),
		log:       log,
		session:   opts.Session,
	}
}

// Stats returns the session aggregator.
func (c *Capturer) Stats() *stats.Aggregator { return c.stats }

// Session returns the session id stamped on every record.
func (c *Capturer) Session() string { return c.session }

// Root returns the output root.
func (c *Capturer) Root() string { return c.resolver.Root() }

// Ignored reports whether a named class falls in an ignored namespace.
func (c *Capturer) Ignored(name string) bool {
	for _, p := range c.ignore {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Capture handles one event. A non-nil error is fatal (see IsFatal); every
// recoverable problem is logged and reported in Result.
func (c *Capturer) Capture(ev Event) (Result, error) {
	if ev.Redefinition {
		c.log.Error("class redefinition is not supported", "class", ev.Name)
		return Result{}, ErrRedefinition
	}

	c.stats.EventReceived()

	if ev.Name != "" && c.Ignored(ev.Name) {
		c.stats.Ignored()
		c.log.Debug("ignoring built-in class", "class", ev.Name)
		return Result{Ignored: true}, nil
	}

	if c.serialize {
		c.mu.Lock()
		defer c.mu.Unlock()
	}

	loaderID := c.host.LoaderHash(ev.Loader)
	id, err := c.resolver.Resolve(ev.Name, loaderID)
	if err != nil {
		c.log.Error("cannot derive class path", "class", ev.Name, "err", err)
		return Result{}, err
	}
	if err := layout.EnsureDir(id); err != nil {
		c.log.Error("cannot create output directory", "dir", id.Dir(), "err", err)
		return Result{}, err
	}

	name := ev.Name
	if name == "" {
		name = id.Stem
		c.log.Info("anonymous class found", "class", name, "loader", loaderID)
	} else {
		c.log.Info("saving class", "class", name, "dir", id.Dir(), "loader", loaderID)
	}

	res := Result{Identity: id}
	res.Write, res.WriteErr = c.store.Write(id, name, ev.Payload)
	if res.WriteErr != nil {
		c.log.Error("class write failed", "class", name, "err", res.WriteErr)
	}

	rec := &ContextRecord{
		Session:    c.session,
		Class:      name,
		Anonymous:  ev.Name == "",
		PayloadLen: len(ev.Payload),
		Digest:     store.Digest(ev.Payload),
		Write:      res.Write,
		LoaderID:   loaderID,
	}
	res.StatsErr = c.rec.Reconstruct(ev.Thread, ev.Loader, rec)
	res.Record = rec

	if err := c.sink.Emit(id, rec.Bytes()); err != nil {
		res.SinkErr = err
		c.log.Error("context record not written", "class", name, "err", err)
	}
	return res, nil
}
