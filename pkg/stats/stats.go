// Package stats aggregates capture outcomes across all events of a session.
//
// Every event that reaches classification lands in exactly one outcome
// bucket; Classify checks that after each event and reports any drift
// immediately rather than at shutdown.
package stats

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/odvcencio/classtap/pkg/bytecode"
	"github.com/odvcencio/classtap/pkg/logging"
)

// Generator is a known code-generation entry point.
type Generator int

const (
	DefineClass Generator = iota
	DefineAnonymousClass
	DefineHiddenClass

	NumGenerators
)

func (g Generator) String() string {
	switch g {
	case DefineClass:
		return "defineClass"
	case DefineAnonymousClass:
		return "defineAnonymousClass"
	case DefineHiddenClass:
		return "defineHiddenClass"
	default:
		return fmt.Sprintf("generator-%d", int(g))
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Total           uint64
	Ignored         uint64
	ByGenerator     [NumGenerators]uint64
	Unknown         uint64 // innermost frame is not a known generator
	NoFramesOrError uint64 // stack unreadable or empty
	Opcodes         [256]uint64
}

// Classified is the sum of all outcome buckets.
func (s Snapshot) Classified() uint64 {
	sum := s.Unknown + s.NoFramesOrError
	for _, n := range s.ByGenerator {
		sum += n
	}
	return sum
}

// Uncounted is Total minus every other bucket; nonzero means an event was
// dropped or double-counted.
func (s Snapshot) Uncounted() int64 {
	return int64(s.Total) - int64(s.Ignored) - int64(s.Classified())
}

// InvariantError reports an event that did not move the outcome sum by one.
type InvariantError struct {
	Before, After Snapshot
}

func (e *InvariantError) Error() string {
	var gens string
	for g := Generator(0); g < NumGenerators; g++ {
		gens += fmt.Sprintf(" %s=%+d", g, int64(e.After.ByGenerator[g])-int64(e.Before.ByGenerator[g]))
	}
	return fmt.Sprintf("class stats check failed: outcome sum %d -> %d, diffs: unknown=%+d no-frames=%+d%s",
		e.Before.Classified(), e.After.Classified(),
		int64(e.After.Unknown)-int64(e.Before.Unknown),
		int64(e.After.NoFramesOrError)-int64(e.Before.NoFramesOrError),
		gens)
}

// Aggregator holds the process-wide counters. The zero value is not usable;
// call New.
type Aggregator struct {
	mu      sync.Mutex
	s       Snapshot
	log     *slog.Logger
	metrics *metrics
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets where invariant violations are reported.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

// New returns a zeroed Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{metrics: newMetrics()}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logging.Discard()
	}
	return a
}

// Reset zeroes every counter and replaces the metrics registry.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s = Snapshot{}
	a.metrics = newMetrics()
}

// EventReceived counts one notification, ignored or not.
func (a *Aggregator) EventReceived() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s.Total++
	a.metrics.events.Inc()
}

// Ignored counts one built-in class skipped before classification.
func (a *Aggregator) Ignored() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s.Ignored++
	a.metrics.ignored.Inc()
}

// Tally applies one event's outcome. It is only valid inside Classify.
type Tally struct {
	a *Aggregator
}

// Generator counts an event defined by a known generator.
func (t *Tally) Generator(g Generator) {
	if g < 0 || g >= NumGenerators {
		return
	}
	t.a.s.ByGenerator[g]++
	t.a.metrics.outcomes.WithLabelValues("known", g.String()).Inc()
}

// Unknown counts an event whose innermost frame is not a known generator.
func (t *Tally) Unknown() {
	t.a.s.Unknown++
	t.a.metrics.outcomes.WithLabelValues("unknown", "none").Inc()
}

// NoFramesOrError counts an event with an unreadable or empty stack.
func (t *Tally) NoFramesOrError() {
	t.a.s.NoFramesOrError++
	t.a.metrics.outcomes.WithLabelValues("no-frames", "none").Inc()
}

// Opcode counts the call-site instruction of an unattributed event.
func (t *Tally) Opcode(op bytecode.Opcode) {
	t.a.s.Opcodes[op]++
	t.a.metrics.opcodes.WithLabelValues(op.String()).Inc()
}

// Classify runs fn under the statistics lock and verifies that it moved
// the outcome sum by exactly one. A violation is logged and returned as an
// *InvariantError; the counters keep whatever fn did.
func (a *Aggregator) Classify(fn func(t *Tally)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	before := a.s
	fn(&Tally{a: a})
	after := a.s

	if after.Classified() != before.Classified()+1 {
		a.metrics.violations.Inc()
		err := &InvariantError{Before: before, After: after}
		a.log.Error("statistics invariant violated", "err", err.Error())
		return err
	}
	return nil
}

// Snapshot returns a copy of the counters.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.s
}
