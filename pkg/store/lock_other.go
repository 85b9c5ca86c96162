//go:build !unix

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LockFile is the name of the lock file in the output root.
const LockFile = ".classtap.lock"

// ErrLocked is returned when another process holds the output root.
var ErrLocked = errors.New("store: output root is locked by another process")

// LockRoot creates root/LockFile exclusively; release removes it.
func LockRoot(root string) (func() error, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("lock root mkdir %s: %w", root, err)
	}
	path := filepath.Join(root, LockFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, root)
		}
		return nil, fmt.Errorf("lock root open %s: %w", path, err)
	}
	f.Close()
	return func() error { return os.Remove(path) }, nil
}
