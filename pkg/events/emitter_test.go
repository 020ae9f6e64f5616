package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/clover/pkg/context"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type published struct {
	key     string
	headers map[string]string
	value   any
}

type recordingPublisher struct {
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, headers map[string]string, value any) error {
	p.msgs = append(p.msgs, published{key, headers, value})
	return p.err
}

func TestEntityMerged(t *testing.T) {
	publisher := &recordingPublisher{}
	emitter := NewEmitter(publisher, getTestLogger())
	ctx := appctx.WithTenant(context.Background(), "tenant-1", "ana")

	emitter.EntityMerged(ctx, EntityMergedEvent{EntityID: "p1", EntityType: "contact", MergedIDs: []string{"d1"}})

	require.Len(t, publisher.msgs, 1)
	msg := publisher.msgs[0]
	assert.Equal(t, "p1", msg.key)
	assert.Equal(t, "entity.merged", msg.headers["event_type"])
	assert.Equal(t, "tenant-1", msg.headers["tenant_id"])

	event, ok := msg.value.(EntityMergedEvent)
	require.True(t, ok)
	assert.Equal(t, SchemaVersion, event.SchemaVersion)
	assert.Equal(t, "ana", event.ActorID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestSyncCompleted_KeyedByTenant(t *testing.T) {
	publisher := &recordingPublisher{}
	emitter := NewEmitter(publisher, getTestLogger())
	ctx := appctx.WithTenant(context.Background(), "tenant-1", "system")

	emitter.SyncCompleted(ctx, SyncCompletedEvent{Provider: "chatwoot", Created: 2})

	require.Len(t, publisher.msgs, 1)
	assert.Equal(t, "tenant-1", publisher.msgs[0].key)
}

func TestEmit_FailuresAndNilPublisherAreSwallowed(t *testing.T) {
	ctx := context.Background()

	failing := NewEmitter(&recordingPublisher{err: errors.New("down")}, getTestLogger())
	assert.NotPanics(t, func() { failing.EntityRestored(ctx, EntityRestoredEvent{EntityID: "x"}) })

	noop := NewEmitter(nil, getTestLogger())
	assert.NotPanics(t, func() { noop.DetectionCompleted(ctx, DetectionCompletedEvent{JobID: "j"}) })

	var nilEmitter *Emitter
	assert.NotPanics(t, func() { nilEmitter.EntityMerged(ctx, EntityMergedEvent{}) })
}
