package completion

import (
	"context"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/domain/job"
	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/cassiomorais/ordercompletion/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCompletion_NoPurchaseReferenceIsDeferred(t *testing.T) {
	x := testutil.NewTestOrder("X", "", 0)
	f := newFixture(t, nil, x)

	res, err := f.service.RequestCompletion(context.Background(), "X")
	require.NoError(t, err)

	assert.Equal(t, Defer, res.Decision)
	assert.Equal(t, order.StatusOnHold, res.Status)

	stored := f.orders.Stored("X")
	assert.Equal(t, order.StatusOnHold, stored.Status)
	assert.Equal(t, 1, stored.RescheduleCount())

	require.NotNil(t, res.Job)
	assert.Equal(t, job.Payload{"X"}, res.Job.Payload)
	assert.True(t, f.now.Add(3600*time.Second).Equal(res.Job.RunAt))
}

func TestRequestCompletion_ProcessedPaymentCompletes(t *testing.T) {
	o := testutil.NewTestOrder("A", "ref-A", 0)
	f := newFixture(t, processedProvider("ref-A"), o)

	res, err := f.service.RequestCompletion(context.Background(), "A")
	require.NoError(t, err)

	assert.Equal(t, Allow, res.Decision)
	assert.Equal(t, order.StatusCompleted, f.orders.Stored("A").Status)
	assert.Contains(t, f.orders.Notes("A"), noteCompleted)
	assert.Empty(t, f.jobs.All())
	assert.Equal(t, []testutil.StatusEvent{
		{OrderID: "A", From: order.StatusProcessing, To: order.StatusCompleted},
	}, f.notifier.Events())
}

func TestRequestCompletion_OtherPaymentMethodCompletesDirectly(t *testing.T) {
	o := order.New("C", "card")
	f := newFixture(t, unprocessedProvider(), o)

	res, err := f.service.RequestCompletion(context.Background(), "C")
	require.NoError(t, err)

	assert.Equal(t, Allow, res.Decision)
	assert.Equal(t, order.StatusCompleted, f.orders.Stored("C").Status)
	assert.Equal(t, 0, f.provider.Calls())
	assert.Empty(t, f.jobs.All())
}

func TestRequestCompletion_BoundReachedFails(t *testing.T) {
	o := testutil.NewOnHoldOrder("Z", "ref-Z", 5)
	f := newFixture(t, unprocessedProvider(), o)

	res, err := f.service.RequestCompletion(context.Background(), "Z")
	require.NoError(t, err)

	assert.Equal(t, Failed, res.Decision)
	assert.Equal(t, order.StatusFailed, res.Status)
	assert.Nil(t, res.Job)
	assert.Empty(t, f.jobs.All())
}

func TestRequestCompletion_AlreadyCompleted(t *testing.T) {
	o := testutil.NewOrderWithStatus("D", order.StatusCompleted)
	f := newFixture(t, unprocessedProvider(), o)

	res, err := f.service.RequestCompletion(context.Background(), "D")
	require.NoError(t, err)

	assert.Equal(t, Allow, res.Decision)
	assert.Equal(t, 0, f.orders.Saves())
	assert.Equal(t, 0, f.provider.Calls())
}

func TestRequestCompletion_OrderNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.RequestCompletion(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrOrderNotFound)
}

func TestRequestCompletion_DeferredOrdersShareJob(t *testing.T) {
	a := testutil.NewTestOrder("A", "ref-A", 0)
	b := testutil.NewTestOrder("B", "", 0)
	f := newFixture(t, unprocessedProvider(), a, b)
	ctx := context.Background()

	first, err := f.service.RequestCompletion(ctx, "A")
	require.NoError(t, err)
	f.now = f.now.Add(10 * time.Minute)
	second, err := f.service.RequestCompletion(ctx, "B")
	require.NoError(t, err)

	assert.True(t, first.Job.RunAt.Equal(second.Job.RunAt))
	jobs := pendingJobs(t, f)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.Payload{"A", "B"}, jobs[0].Payload)
}

func TestRequestCompletion_DeferErrorRestoresCount(t *testing.T) {
	o := testutil.NewTestOrder("A", "ref-A", 2)
	f := newFixture(t, unprocessedProvider(), o)
	f.locker.WithLockFunc = func(context.Context, string, func(context.Context) error) error {
		return domainErrors.ErrLockAcquisitionFailed
	}

	_, err := f.service.RequestCompletion(context.Background(), "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrLockAcquisitionFailed)

	stored := f.orders.Stored("A")
	assert.Equal(t, order.StatusOnHold, stored.Status)
	assert.Equal(t, 2, stored.RescheduleCount())

	// The retried request counts once.
	f.locker.WithLockFunc = nil
	res, err := f.service.RequestCompletion(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, Defer, res.Decision)
	assert.Equal(t, 3, f.orders.Stored("A").RescheduleCount())
	require.NotNil(t, res.Job)
	assert.Equal(t, job.Payload{"A"}, res.Job.Payload)
}
