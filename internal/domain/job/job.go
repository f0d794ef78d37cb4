package job

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a scheduled job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is a single scheduled callback: at RunAt the hook is invoked with Payload.
type Job struct {
	Handle    uuid.UUID
	Hook      string
	RunAt     time.Time
	Payload   Payload
	Status    Status
	LastError *string
	CreatedAt time.Time
}

// New creates a pending job for hook.
func New(hook string, runAt time.Time, payload Payload) *Job {
	return &Job{
		Handle:    uuid.New(),
		Hook:      hook,
		RunAt:     runAt,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// IsDue reports whether the job should fire at now.
func (j *Job) IsDue(now time.Time) bool {
	return j.Status == StatusPending && !j.RunAt.After(now)
}

// Payload is an ordered set of distinct order IDs.
type Payload []string

// NewPayload builds a payload from ids, dropping empty and repeated entries
// while keeping first-seen order.
func NewPayload(ids ...string) Payload {
	p := make(Payload, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		p = append(p, id)
	}
	return p
}

// Contains reports whether id is part of the payload.
func (p Payload) Contains(id string) bool {
	for _, existing := range p {
		if existing == id {
			return true
		}
	}
	return false
}

// Missing returns the ids from incoming that are not yet in p.
func (p Payload) Missing(incoming Payload) Payload {
	diff := make(Payload, 0, len(incoming))
	for _, id := range incoming {
		if !p.Contains(id) && !diff.Contains(id) {
			diff = append(diff, id)
		}
	}
	return diff
}

// Merge appends the ids of extra that p lacks. Existing entries keep their order.
func (p Payload) Merge(extra Payload) Payload {
	merged := make(Payload, 0, len(p)+len(extra))
	merged = append(merged, p...)
	return append(merged, p.Missing(extra)...)
}
