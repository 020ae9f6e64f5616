package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/testhelpers"
	"github.com/Ramsey-B/clover/pkg/redis"
)

func TestWorker_ProcessesQueuedSync(t *testing.T) {
	testRedis := testhelpers.GetTestRedis(t)
	f := newFixture(t)
	conn := f.connection(t, true)

	streams := redis.NewStreams(testRedis.Client)
	stream := "clover:sync:test:" + uuid.NewString()

	queue := NewQueue(streams, stream, f.service)
	dispatch, err := queue.Dispatch(f.ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, dispatch.Queued)
	assert.NotEmpty(t, dispatch.MessageID)

	_, err = queue.Dispatch(f.ctx, uuid.New())
	require.Error(t, err)

	cfg := DefaultWorkerConfig()
	cfg.Stream = stream
	cfg.ConsumerName = "test"
	cfg.BlockTimeout = 100 * time.Millisecond
	worker := NewWorker(streams, f.service, cfg, getTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		stored, err := f.store.Connections.GetByID(f.ctx, conn.ID)
		return err == nil && stored.LastSyncAt != nil
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	runs, err := f.service.Runs(f.ctx, conn.ID, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
