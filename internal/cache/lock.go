package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLockTimeout is returned by Lock when dir's advisory lock cannot be
// acquired within timeout. Callers in this package treat it as a signal to
// degrade: proceed without the cache for this invocation, logging a
// warning, rather than surfacing it as an RPC error (spec.md §9: transient
// I/O errors on cache acquisition are swallowed).
var ErrLockTimeout = errors.New("cache: lock acquisition timed out")

// Lock takes an advisory flock on a sentinel file inside dir, retrying
// until timeout elapses. The returned unlock func releases the lock and
// closes the sentinel file descriptor.
func Lock(ctx context.Context, dir string, timeout time.Duration) (unlock func(), err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: mkdir %s: %w", dir, err)
	}
	sentinel := filepath.Join(dir, ".lock")
	f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: open lock sentinel: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return func() {
				unix.Flock(int(f.Fd()), unix.LOCK_UN)
				f.Close()
			}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("cache: flock %s: %w", sentinel, err)
		}
		if timeout <= 0 || time.Now().After(deadline) {
			f.Close()
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}
