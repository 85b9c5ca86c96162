//go:build unix

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// LockFile is the name of the advisory lock file in the output root.
const LockFile = ".classtap.lock"

// ErrLocked is returned when another process holds the output root.
var ErrLocked = errors.New("store: output root is locked by another process")

// LockRoot takes an exclusive advisory lock on root, creating root if
// needed. The returned release func drops the lock.
func LockRoot(root string) (func() error, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("lock root mkdir %s: %w", root, err)
	}
	path := filepath.Join(root, LockFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock root open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, root)
		}
		return nil, fmt.Errorf("lock root flock %s: %w", path, err)
	}

	// Owner pid for whoever trips over the lock.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	return func() error {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			f.Close()
			return fmt.Errorf("lock root unlock %s: %w", path, err)
		}
		return f.Close()
	}, nil
}
