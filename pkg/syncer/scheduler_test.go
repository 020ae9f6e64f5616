package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/keylock"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	tenants []string
	ids     []uuid.UUID
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, connectionID uuid.UUID) (*Dispatch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants = append(d.tenants, appctx.GetTenantID(ctx))
	d.ids = append(d.ids, connectionID)
	return &Dispatch{Queued: true}, nil
}

func TestScheduler_DispatchesDueConnections(t *testing.T) {
	f := newFixture(t)
	due := f.connection(t, true)
	f.connection(t, false)
	fresh := f.connection(t, true)
	require.NoError(t, f.store.Connections.MarkSynced(f.ctx, fresh.ID, time.Now().UTC()))

	dispatcher := &recordingDispatcher{}
	scheduler := NewScheduler(f.store.Connections, dispatcher, keylock.NewLocal(), DefaultSchedulerConfig(), getTestLogger())

	assert.Equal(t, 1, scheduler.RunCycle(context.Background()))
	assert.Equal(t, []uuid.UUID{due.ID}, dispatcher.ids)
	assert.Equal(t, []string{appctx.GetTenantID(f.ctx)}, dispatcher.tenants)
}

func TestScheduler_SkipsLockedConnection(t *testing.T) {
	f := newFixture(t)
	conn := f.connection(t, true)

	locker := keylock.NewLocal()
	held, err := locker.Acquire(context.Background(), keylock.Key("schedule", conn.ID.String()), time.Minute, 0)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	dispatcher := &recordingDispatcher{}
	scheduler := NewScheduler(f.store.Connections, dispatcher, locker, DefaultSchedulerConfig(), getTestLogger())

	assert.Equal(t, 0, scheduler.RunCycle(context.Background()))
	assert.Empty(t, dispatcher.ids)
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	f.connection(t, true)

	dispatcher := &recordingDispatcher{}
	cfg := DefaultSchedulerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	scheduler := NewScheduler(f.store.Connections, dispatcher, keylock.NewLocal(), cfg, getTestLogger())

	require.NoError(t, scheduler.Start(context.Background()))
	assert.ErrorIs(t, scheduler.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return len(dispatcher.ids) > 0
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(ctx))
}
