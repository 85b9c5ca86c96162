// Package store persists captured class payloads and their context records
// under the output root. Class files are write-once: a second write for the
// same identity either confirms the bytes on disk or reports a conflict.
package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/odvcencio/classtap/pkg/layout"
	"github.com/odvcencio/classtap/pkg/logging"
)

// Outcome is the result of writing one class payload.
type Outcome int

const (
	// Written means the payload was stored as a new file.
	Written Outcome = iota + 1
	// AlreadyIdentical means the file existed with the same bytes.
	AlreadyIdentical
	// Conflict means the file existed with different bytes.
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Written:
		return "written"
	case AlreadyIdentical:
		return "already-identical"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("outcome-%d", int(o))
	}
}

// WriteResult describes a Write call.
type WriteResult struct {
	Outcome Outcome
	Path    string
	Size    int
	// ExistingSize is the on-disk size when a file already existed.
	ExistingSize int64
	// FirstDiff is the first differing offset of a same-size Conflict, or -1.
	FirstDiff int64
}

// Store writes class payloads. It keeps no record of what it wrote: every
// call re-checks the filesystem, so files left by earlier runs are honored.
type Store struct {
	log *slog.Logger
}

// NewStore returns a Store logging through log.
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = logging.Discard()
	}
	return &Store{log: log}
}

// Write stores payload at id.ClassPath() unless a file is already there.
// The payload is staged in a temp file and published with a hard link, so
// the class file never appears partially written and is never replaced.
// The directory must exist. name is only used for diagnostics.
func (s *Store) Write(id layout.Identity, name string, payload []byte) (WriteResult, error) {
	path := id.ClassPath()
	res := WriteResult{Path: path, Size: len(payload), FirstDiff: -1}

	// Fast path: already captured.
	if _, err := os.Lstat(path); err == nil {
		return s.compare(res, name, payload)
	}

	tmp, err := os.CreateTemp(id.Dir(), ".tmp-*")
	if err != nil {
		return res, fmt.Errorf("class write tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return res, fmt.Errorf("class write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("class write close %s: %w", path, err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return s.compare(res, name, payload)
		}
		return res, fmt.Errorf("class write link %s: %w", path, err)
	}

	s.log.Debug("class written", "class", name, "path", path, "bytes", len(payload))
	res.Outcome = Written
	return res, nil
}

func (s *Store) compare(res WriteResult, name string, payload []byte) (WriteResult, error) {
	f, err := os.Open(res.Path)
	if err != nil {
		return res, fmt.Errorf("class compare open %s: %w", res.Path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return res, fmt.Errorf("class compare stat %s: %w", res.Path, err)
	}
	res.ExistingSize = st.Size()

	if res.ExistingSize != int64(len(payload)) {
		res.Outcome = Conflict
		s.log.Warn("class conflict: different size",
			"class", name, "path", res.Path, "existing_bytes", res.ExistingSize, "incoming_bytes", len(payload))
		return res, nil
	}

	diff, err := firstDiff(f, payload)
	if err != nil {
		return res, fmt.Errorf("class compare read %s: %w", res.Path, err)
	}
	if diff < 0 {
		res.Outcome = AlreadyIdentical
		s.log.Debug("class already captured", "class", name, "path", res.Path)
		return res, nil
	}

	res.Outcome = Conflict
	res.FirstDiff = diff
	s.log.Warn("class conflict: different contents",
		"class", name, "path", res.Path, "first_diff", diff)
	return res, nil
}

// firstDiff returns the first offset where r differs from want, or -1 if
// r yields exactly want.
func firstDiff(r io.Reader, want []byte) (int64, error) {
	br := bufio.NewReaderSize(r, 32*1024)
	buf := make([]byte, 32*1024)
	var off int64
	for {
		n, err := br.Read(buf)
		if n > 0 {
			got := buf[:n]
			rest := want[min(off, int64(len(want))):]
			if len(got) > len(rest) {
				return off + int64(commonPrefix(got, rest)), nil
			}
			if i := commonPrefix(got, rest[:n]); i < n {
				return off + int64(i), nil
			}
			off += int64(n)
		}
		if err == io.EOF {
			if off < int64(len(want)) {
				return off, nil
			}
			return -1, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	if bytes.Equal(a[:n], b[:n]) {
		return n
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
