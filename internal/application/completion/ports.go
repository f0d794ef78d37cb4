package completion

import (
	"context"
)

// Locker serializes work on a key across every process sharing the job store.
// fn runs while the lock is held; the ctx passed to fn may carry a database
// transaction that job store calls must use.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
