// Package layout derives where a captured class lands on disk:
//
//	<root>/<loader>/<package/path>/<Stem>.class
//	<root>/<loader>/AnonGeneratedClass_<n>.class
//
// Derive is pure; Resolver adds the shared anonymous counter and EnsureDir
// performs the only filesystem side effect.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	// AnonPrefix prefixes synthesized stems for unnamed classes.
	AnonPrefix = "AnonGeneratedClass_"

	// MaxPathLen bounds every constructed path.
	MaxPathLen = 4096
	// MaxNameLen bounds each path component, artifact names included.
	MaxNameLen = 255
	// MaxAnonNameLen bounds synthesized anonymous stems.
	MaxAnonNameLen = 40

	ClassExt = ".class"
	InfoExt  = ".info"
)

var (
	// ErrPathTooLong is returned when a derived path or name exceeds its bound.
	ErrPathTooLong = errors.New("layout: path too long")
	// ErrMalformedName is returned for names with empty, "." or ".." segments.
	ErrMalformedName = errors.New("layout: malformed class name")
	// ErrOutputDir is returned when the output directory cannot be created.
	ErrOutputDir = errors.New("layout: cannot create output directory")
)

// Identity is the on-disk identity of one class-definition event.
type Identity struct {
	BaseDir string // <root>/<loader>
	RelPath string // package path below BaseDir, OS separators, may be empty
	Stem    string
}

// Dir is the directory holding the artifacts.
func (id Identity) Dir() string {
	if id.RelPath == "" {
		return id.BaseDir
	}
	return filepath.Join(id.BaseDir, id.RelPath)
}

// ClassPath is the path of the .class artifact.
func (id Identity) ClassPath() string {
	return filepath.Join(id.Dir(), id.Stem+ClassExt)
}

// InfoPath is the path of the companion .info artifact.
func (id Identity) InfoPath() string {
	return filepath.Join(id.Dir(), id.Stem+InfoExt)
}

// AnonName returns the synthesized stem for the n-th anonymous class.
func AnonName(n uint64) string {
	return AnonPrefix + strconv.FormatUint(n, 10)
}

// LoaderDir returns the per-loader base directory under root.
func LoaderDir(root string, loaderID int32) string {
	return filepath.Join(root, strconv.FormatInt(int64(loaderID), 10))
}

// Derive maps a slash-separated class name under a loader to an Identity.
// An empty name is anonymous and uses anonN for its stem.
func Derive(root string, loaderID int32, name string, anonN uint64) (Identity, error) {
	id := Identity{BaseDir: LoaderDir(root, loaderID)}

	if name == "" {
		id.Stem = AnonName(anonN)
		if len(id.Stem) >= MaxAnonNameLen {
			return Identity{}, fmt.Errorf("anonymous name %q: %w", id.Stem, ErrPathTooLong)
		}
	} else {
		for _, seg := range strings.Split(name, "/") {
			if seg == "" || seg == "." || seg == ".." || strings.ContainsRune(seg, filepath.Separator) {
				return Identity{}, fmt.Errorf("class name %q: %w", name, ErrMalformedName)
			}
			if len(seg) > MaxNameLen {
				return Identity{}, fmt.Errorf("class %q: segment of %d bytes: %w", name, len(seg), ErrPathTooLong)
			}
		}
		if i := strings.LastIndexByte(name, '/'); i >= 0 {
			id.RelPath = filepath.FromSlash(name[:i])
			id.Stem = name[i+1:]
		} else {
			id.Stem = name
		}
	}

	if n := len(id.Stem) + max(len(ClassExt), len(InfoExt)); n > MaxNameLen {
		return Identity{}, fmt.Errorf("class %q: file name of %d bytes: %w", name, n, ErrPathTooLong)
	}
	if n := len(id.InfoPath()); n > MaxPathLen {
		return Identity{}, fmt.Errorf("class %q (%d bytes): %w", name, n, ErrPathTooLong)
	}
	return id, nil
}

// Resolver derives identities under one output root and owns the
// process-wide anonymous counter.
type Resolver struct {
	root string
	anon atomic.Uint64
}

// NewResolver returns a Resolver rooted at root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Root returns the output root.
func (r *Resolver) Root() string { return r.root }

// Resolve derives the identity for an event. Each anonymous call consumes
// the next counter value, starting at 1, even under concurrent use.
func (r *Resolver) Resolve(name string, loaderID int32) (Identity, error) {
	var n uint64
	if name == "" {
		n = r.anon.Add(1)
	}
	return Derive(r.root, loaderID, name, n)
}

// AnonCount returns how many anonymous names were allocated.
func (r *Resolver) AnonCount() uint64 {
	return r.anon.Load()
}

// EnsureDir creates id's directory and all parents.
func EnsureDir(id Identity) error {
	if err := os.MkdirAll(id.Dir(), 0o755); err != nil {
		return fmt.Errorf("%w %s: %v", ErrOutputDir, id.Dir(), err)
	}
	return nil
}
