package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persist-and-fire primitive the scheduler builds on.
type Store interface {
	// Schedule persists a pending job that fires at runAt.
	Schedule(ctx context.Context, hook string, runAt time.Time, payload Payload) (*Job, error)

	// FindPending returns the pending jobs for hook, oldest RunAt first.
	FindPending(ctx context.Context, hook string) ([]*Job, error)

	// Cancel removes a pending job.
	Cancel(ctx context.Context, handle uuid.UUID) error
}

// Queue is the firing side of the primitive used by the dispatcher.
type Queue interface {
	Store

	// ClaimDue moves up to limit due pending jobs for hook to running and returns them.
	ClaimDue(ctx context.Context, hook string, now time.Time, limit int) ([]*Job, error)

	// Finish records the outcome of a claimed job. A nil runErr marks it done.
	Finish(ctx context.Context, handle uuid.UUID, runErr error) error

	// Requeue returns a claimed job to pending with a new run time and payload.
	Requeue(ctx context.Context, handle uuid.UUID, runAt time.Time, payload Payload) error
}
