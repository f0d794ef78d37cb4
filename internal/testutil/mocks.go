package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/domain/job"
	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/google/uuid"
)

// --- Order Repository Mock ---

// MockOrderRepository is an in-memory order.Repository. It stores copies so
// callers only observe what was saved.
type MockOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	notes  map[string][]order.Note
	saves  int

	GetFunc  func(ctx context.Context, id string) (*order.Order, error)
	SaveFunc func(ctx context.Context, o *order.Order) error
}

func NewMockOrderRepository(orders ...*order.Order) *MockOrderRepository {
	m := &MockOrderRepository{
		orders: make(map[string]*order.Order),
		notes:  make(map[string][]order.Note),
	}
	for _, o := range orders {
		m.orders[o.ID] = o.Clone()
	}
	return m
}

func (m *MockOrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (m *MockOrderRepository) Save(ctx context.Context, o *order.Order) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[o.ID] = append(m.notes[o.ID], o.FlushNotes()...)
	m.orders[o.ID] = o.Clone()
	m.saves++
	return nil
}

// Stored returns the saved copy of an order, or nil.
func (m *MockOrderRepository) Stored(id string) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	return o.Clone()
}

// Notes returns the note texts saved for an order.
func (m *MockOrderRepository) Notes(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	texts := make([]string, 0, len(m.notes[id]))
	for _, n := range m.notes[id] {
		texts = append(texts, n.Text)
	}
	return texts
}

// Saves returns how many times Save stored an order.
func (m *MockOrderRepository) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// --- Job Store Mock ---

// MockJobStore is an in-memory job.Queue.
type MockJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*job.Job

	ScheduleFunc    func(ctx context.Context, hook string, runAt time.Time, payload job.Payload) (*job.Job, error)
	FindPendingFunc func(ctx context.Context, hook string) ([]*job.Job, error)
	CancelFunc      func(ctx context.Context, handle uuid.UUID) error
	ClaimDueFunc    func(ctx context.Context, hook string, now time.Time, limit int) ([]*job.Job, error)
	FinishFunc      func(ctx context.Context, handle uuid.UUID, runErr error) error
	RequeueFunc     func(ctx context.Context, handle uuid.UUID, runAt time.Time, payload job.Payload) error
}

func NewMockJobStore() *MockJobStore {
	return &MockJobStore{jobs: make(map[uuid.UUID]*job.Job)}
}

func (m *MockJobStore) Schedule(ctx context.Context, hook string, runAt time.Time, payload job.Payload) (*job.Job, error) {
	if m.ScheduleFunc != nil {
		return m.ScheduleFunc(ctx, hook, runAt, payload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j := job.New(hook, runAt, append(job.Payload(nil), payload...))
	m.jobs[j.Handle] = j
	return copyJob(j), nil
}

func (m *MockJobStore) FindPending(ctx context.Context, hook string) ([]*job.Job, error) {
	if m.FindPendingFunc != nil {
		return m.FindPendingFunc(ctx, hook)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(j *job.Job) bool {
		return j.Hook == hook && j.Status == job.StatusPending
	}), nil
}

func (m *MockJobStore) Cancel(ctx context.Context, handle uuid.UUID) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, handle)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[handle]
	if !ok || j.Status != job.StatusPending {
		return domainErrors.ErrJobNotFound
	}
	j.Status = job.StatusCancelled
	return nil
}

func (m *MockJobStore) ClaimDue(ctx context.Context, hook string, now time.Time, limit int) ([]*job.Job, error) {
	if m.ClaimDueFunc != nil {
		return m.ClaimDueFunc(ctx, hook, now, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	due := m.filter(func(j *job.Job) bool {
		return j.Hook == hook && j.IsDue(now)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, j := range due {
		m.jobs[j.Handle].Status = job.StatusRunning
		j.Status = job.StatusRunning
	}
	return due, nil
}

func (m *MockJobStore) Finish(ctx context.Context, handle uuid.UUID, runErr error) error {
	if m.FinishFunc != nil {
		return m.FinishFunc(ctx, handle, runErr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[handle]
	if !ok {
		return domainErrors.ErrJobNotFound
	}
	j.Status = job.StatusDone
	if runErr != nil {
		msg := runErr.Error()
		j.Status = job.StatusFailed
		j.LastError = &msg
	}
	return nil
}

func (m *MockJobStore) Requeue(ctx context.Context, handle uuid.UUID, runAt time.Time, payload job.Payload) error {
	if m.RequeueFunc != nil {
		return m.RequeueFunc(ctx, handle, runAt, payload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[handle]
	if !ok || j.Status != job.StatusRunning {
		return domainErrors.ErrJobNotFound
	}
	j.Status = job.StatusPending
	j.RunAt = runAt
	j.Payload = append(job.Payload(nil), payload...)
	return nil
}

// Put stores j as is, bypassing Schedule.
func (m *MockJobStore) Put(j *job.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.Handle] = copyJob(j)
}

// Job returns a copy of the job with the given handle, or nil.
func (m *MockJobStore) Job(handle uuid.UUID) *job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[handle]
	if !ok {
		return nil
	}
	return copyJob(j)
}

// All returns copies of every job ordered by RunAt.
func (m *MockJobStore) All() []*job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(*job.Job) bool { return true })
}

func (m *MockJobStore) filter(keep func(*job.Job) bool) []*job.Job {
	out := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].RunAt.Equal(out[b].RunAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].RunAt.Before(out[b].RunAt)
	})
	return out
}

func copyJob(j *job.Job) *job.Job {
	c := *j
	c.Payload = append(job.Payload(nil), j.Payload...)
	return &c
}

// --- Locker Mock ---

// MockLocker serializes callers with a mutex per key.
type MockLocker struct {
	mu    sync.Mutex
	keys  map[string]*sync.Mutex
	calls int

	WithLockFunc func(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func NewMockLocker() *MockLocker {
	return &MockLocker{keys: make(map[string]*sync.Mutex)}
}

func (m *MockLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if m.WithLockFunc != nil {
		return m.WithLockFunc(ctx, key, fn)
	}
	m.mu.Lock()
	l, ok := m.keys[key]
	if !ok {
		l = &sync.Mutex{}
		m.keys[key] = l
	}
	m.calls++
	m.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

// Calls returns how many times WithLock was entered.
func (m *MockLocker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Notifier Mock ---

// StatusEvent is a status change captured by MockNotifier.
type StatusEvent struct {
	OrderID string
	From    order.Status
	To      order.Status
}

// MockNotifier records status change notifications.
type MockNotifier struct {
	mu     sync.Mutex
	events []StatusEvent

	StatusChangedFunc func(ctx context.Context, orderID string, t order.Transition) error
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) StatusChanged(ctx context.Context, orderID string, t order.Transition) error {
	if m.StatusChangedFunc != nil {
		return m.StatusChangedFunc(ctx, orderID, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, StatusEvent{OrderID: orderID, From: t.From, To: t.To})
	return nil
}

// Events returns the recorded notifications.
func (m *MockNotifier) Events() []StatusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusEvent(nil), m.events...)
}
