package isolation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// Locker serializes quarantine mutations across host processes. The
// browser starts one host per connection, so two hosts may try to move
// the same isolation root at once.
type Locker struct {
	lock *flock.Flock
}

// NewLocker returns a Locker backed by the file at path. An empty path
// yields a Locker that never blocks.
func NewLocker(path string) *Locker {
	if path == "" {
		return &Locker{}
	}
	return &Locker{lock: flock.New(path)}
}

// Lock blocks until the lock is held or ctx is done. The returned func
// releases it.
func (l *Locker) Lock(ctx context.Context) (func(), error) {
	if l == nil || l.lock == nil {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.lock.Path()), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	ok, err := l.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", l.lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("acquiring %s: lock not obtained", l.lock.Path())
	}
	return func() { _ = l.lock.Unlock() }, nil
}
