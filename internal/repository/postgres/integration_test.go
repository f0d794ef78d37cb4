//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/domain/job"
	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/cassiomorais/ordercompletion/internal/repository/postgres"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ordercompletion"),
		tcpostgres.WithUsername("ordercompletion"),
		tcpostgres.WithPassword("ordercompletion"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://migrations", dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("apply migrations: %v", err)
	}
	_, _ = m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestOrderRepository_SaveAndGet(t *testing.T) {
	pool := setupDB(t)
	repo := postgres.NewOrderRepository(pool)
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domainErrors.ErrOrderNotFound)

	o := order.New("1001", "aco")
	o.UpdateMeta(order.MetaPurchaseReference, "ref-1001")
	require.NoError(t, repo.Save(ctx, o))

	require.NoError(t, o.SetStatus(order.StatusOnHold, "held"))
	o.SetRescheduleCount(1)
	require.NoError(t, repo.Save(ctx, o))
	assert.Empty(t, o.PendingNotes())

	got, err := repo.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, order.StatusOnHold, got.Status)
	assert.Equal(t, "ref-1001", got.PurchaseReference())
	assert.Equal(t, 1, got.RescheduleCount())

	notes, err := repo.Notes(ctx, "1001")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "held", notes[0].Text)
}

func TestJobStore_Lifecycle(t *testing.T) {
	pool := setupDB(t)
	store := postgres.NewJobStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	j, err := store.Schedule(ctx, "hook", now.Add(-time.Second), job.NewPayload("A", "B"))
	require.NoError(t, err)

	pending, err := store.FindPending(ctx, "hook")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.Payload{"A", "B"}, pending[0].Payload)

	claimed, err := store.ClaimDue(ctx, "hook", now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, j.Handle, claimed[0].Handle)
	assert.Equal(t, job.StatusRunning, claimed[0].Status)

	require.NoError(t, store.Finish(ctx, j.Handle, errors.New("boom")))
	assert.ErrorIs(t, store.Cancel(ctx, j.Handle), domainErrors.ErrJobNotFound)
}

func TestJobStore_Requeue(t *testing.T) {
	pool := setupDB(t)
	store := postgres.NewJobStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	j, err := store.Schedule(ctx, "hook", now.Add(-time.Second), job.NewPayload("A"))
	require.NoError(t, err)
	assert.ErrorIs(t, store.Requeue(ctx, j.Handle, now, job.NewPayload("A")), domainErrors.ErrJobNotFound)

	_, err = store.ClaimDue(ctx, "hook", now, 10)
	require.NoError(t, err)

	runAt := now.Add(time.Hour)
	require.NoError(t, store.Requeue(ctx, j.Handle, runAt, job.NewPayload("A", "B")))

	pending, err := store.FindPending(ctx, "hook")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, j.Handle, pending[0].Handle)
	assert.Equal(t, job.Payload{"A", "B"}, pending[0].Payload)
	assert.True(t, runAt.Equal(pending[0].RunAt))
}

func TestJobStore_OnePendingJobPerHook(t *testing.T) {
	pool := setupDB(t)
	store := postgres.NewJobStore(pool)
	ctx := context.Background()

	_, err := store.Schedule(ctx, "hook", time.Now().Add(time.Hour), job.NewPayload("A"))
	require.NoError(t, err)
	_, err = store.Schedule(ctx, "hook", time.Now().Add(time.Hour), job.NewPayload("B"))
	assert.Error(t, err)
}

func TestAdvisoryLocker_MergesConcurrentDefers(t *testing.T) {
	pool := setupDB(t)
	store := postgres.NewJobStore(pool)
	locker := postgres.NewAdvisoryLocker(pool)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := locker.WithLock(ctx, "hook", func(ctx context.Context) error {
				pending, err := store.FindPending(ctx, "hook")
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					_, err := store.Schedule(ctx, "hook", time.Now().Add(time.Hour), job.NewPayload(id))
					return err
				}
				if err := store.Cancel(ctx, pending[0].Handle); err != nil {
					return err
				}
				_, err = store.Schedule(ctx, "hook", pending[0].RunAt, pending[0].Payload.Merge(job.NewPayload(id)))
				return err
			})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	pending, err := store.FindPending(ctx, "hook")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D", "E"}, []string(pending[0].Payload))
}
