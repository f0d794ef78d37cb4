package order

import (
	"strconv"
	"time"

	"github.com/cassiomorais/ordercompletion/internal/domain/errors"
)

// Status represents the order status as seen by the completion workflow
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusOnHold     Status = "on_hold"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Metadata keys persisted on the order by the completion workflow.
const (
	MetaPurchaseReference = "purchase_reference"
	MetaRescheduleCount   = "reschedule_count"
)

// Note is a free-text entry appended to the order history.
type Note struct {
	Text      string
	CreatedAt time.Time
}

// Transition records a status change that has not been announced yet.
type Transition struct {
	From Status
	To   Status
	Note string
	At   time.Time
}

// Order is an order record owned by the order store. The completion
// workflow only changes its status, metadata and notes.
type Order struct {
	ID            string
	PaymentMethod string
	Status        Status
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	notes       []Note
	transitions []Transition
}

// New creates an order in pending status.
func New(id, paymentMethod string) *Order {
	now := time.Now()
	return &Order{
		ID:            id,
		PaymentMethod: paymentMethod,
		Status:        StatusPending,
		Metadata:      make(map[string]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsTerminal reports whether the order can no longer change status.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed
}

// CanTransitionTo checks if the order can move to the given status.
// completed and failed are terminal; every other status may move anywhere,
// including on_hold to on_hold when an order is deferred again.
func (o *Order) CanTransitionTo(newStatus Status) bool {
	if newStatus == "" {
		return false
	}
	return !o.IsTerminal()
}

// SetStatus moves the order to newStatus and records note in its history.
func (o *Order) SetStatus(newStatus Status, note string) error {
	if !o.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(o.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}

	now := time.Now()
	if newStatus != o.Status {
		o.transitions = append(o.transitions, Transition{From: o.Status, To: newStatus, Note: note, At: now})
	}
	o.Status = newStatus
	o.UpdatedAt = now
	if note != "" {
		o.AddNote(note)
	}
	return nil
}

// AddNote appends a note that is written on the next save.
func (o *Order) AddNote(text string) {
	o.notes = append(o.notes, Note{Text: text, CreatedAt: time.Now()})
}

// Meta returns the metadata value for key, or "" when absent.
func (o *Order) Meta(key string) string {
	if o.Metadata == nil {
		return ""
	}
	return o.Metadata[key]
}

// UpdateMeta sets a metadata value.
func (o *Order) UpdateMeta(key, value string) {
	if o.Metadata == nil {
		o.Metadata = make(map[string]string)
	}
	o.Metadata[key] = value
	o.UpdatedAt = time.Now()
}

// PurchaseReference returns the provider payment-session identifier, if any.
func (o *Order) PurchaseReference() string {
	return o.Meta(MetaPurchaseReference)
}

// RescheduleCount returns how many times completion was deferred.
// Absent or malformed values count as zero.
func (o *Order) RescheduleCount() int {
	n, err := strconv.Atoi(o.Meta(MetaRescheduleCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// SetRescheduleCount stores the reschedule counter.
func (o *Order) SetRescheduleCount(n int) {
	o.UpdateMeta(MetaRescheduleCount, strconv.Itoa(n))
}

// PendingNotes returns the notes added since the last save.
func (o *Order) PendingNotes() []Note {
	return o.notes
}

// FlushNotes returns the unsaved notes and forgets them. Repositories call it
// once the notes are stored.
func (o *Order) FlushNotes() []Note {
	notes := o.notes
	o.notes = nil
	return notes
}

// DrainTransitions returns the status changes recorded since the last call.
func (o *Order) DrainTransitions() []Transition {
	t := o.transitions
	o.transitions = nil
	return t
}

// Clone returns a copy of the persisted state of the order. Unsaved notes and
// transitions are not copied.
func (o *Order) Clone() *Order {
	c := *o
	c.Metadata = make(map[string]string, len(o.Metadata))
	for k, v := range o.Metadata {
		c.Metadata[k] = v
	}
	c.notes = nil
	c.transitions = nil
	return &c
}
