package order_test

import (
	"testing"

	"github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	o := order.New("1001", "aco")

	assert.Equal(t, "1001", o.ID)
	assert.Equal(t, "aco", o.PaymentMethod)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.NotNil(t, o.Metadata)
	assert.False(t, o.IsTerminal())
}

func TestRescheduleCount_DefaultsToZero(t *testing.T) {
	o := order.New("1001", "aco")
	assert.Equal(t, 0, o.RescheduleCount())

	o.UpdateMeta(order.MetaRescheduleCount, "not-a-number")
	assert.Equal(t, 0, o.RescheduleCount())

	o.UpdateMeta(order.MetaRescheduleCount, "-3")
	assert.Equal(t, 0, o.RescheduleCount())
}

func TestRescheduleCount_RoundTrip(t *testing.T) {
	o := order.New("1001", "aco")
	o.SetRescheduleCount(4)

	assert.Equal(t, "4", o.Meta(order.MetaRescheduleCount))
	assert.Equal(t, 4, o.RescheduleCount())
}

func TestMeta_NilMap(t *testing.T) {
	o := &order.Order{ID: "1001"}
	assert.Equal(t, "", o.PurchaseReference())

	o.UpdateMeta(order.MetaPurchaseReference, "pur_1")
	assert.Equal(t, "pur_1", o.PurchaseReference())
}

// --- State Machine Tests ---

func TestSetStatus_RecordsTransitionAndNote(t *testing.T) {
	o := order.New("1001", "aco")

	require.NoError(t, o.SetStatus(order.StatusOnHold, "held"))

	assert.Equal(t, order.StatusOnHold, o.Status)
	notes := o.PendingNotes()
	require.Len(t, notes, 1)
	assert.Equal(t, "held", notes[0].Text)

	transitions := o.DrainTransitions()
	require.Len(t, transitions, 1)
	assert.Equal(t, order.StatusPending, transitions[0].From)
	assert.Equal(t, order.StatusOnHold, transitions[0].To)
	assert.Empty(t, o.DrainTransitions())
}

func TestSetStatus_OnHoldToOnHold(t *testing.T) {
	o := order.New("1001", "aco")
	require.NoError(t, o.SetStatus(order.StatusOnHold, "first"))
	o.DrainTransitions()

	require.NoError(t, o.SetStatus(order.StatusOnHold, "second"))

	assert.Equal(t, order.StatusOnHold, o.Status)
	assert.Empty(t, o.DrainTransitions())
	assert.Len(t, o.PendingNotes(), 2)
}

func TestSetStatus_TerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []order.Status{order.StatusCompleted, order.StatusFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			o := order.New("1001", "aco")
			require.NoError(t, o.SetStatus(terminal, ""))
			assert.True(t, o.IsTerminal())

			for _, next := range []order.Status{order.StatusOnHold, order.StatusCompleted, order.StatusFailed, order.StatusProcessing} {
				err := o.SetStatus(next, "")
				assert.ErrorIs(t, err, errors.ErrInvalidStateTransition)
			}
			assert.Equal(t, terminal, o.Status)
		})
	}
}

func TestSetStatus_EmptyStatus(t *testing.T) {
	o := order.New("1001", "aco")
	assert.Error(t, o.SetStatus("", "note"))
}

func TestFlushNotes(t *testing.T) {
	o := order.New("1001", "aco")
	o.AddNote("a")
	o.AddNote("b")

	flushed := o.FlushNotes()
	assert.Len(t, flushed, 2)
	assert.Empty(t, o.PendingNotes())
}
