// Package events emits lifecycle events for merges, restores, syncs and detections.
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Publisher writes one keyed message, e.g. *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, headers map[string]string, value any) error
}

// Emitter publishes events after the state they describe is committed. Publish failures are
// logged and never undo or fail the operation.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates an emitter. A nil publisher drops every event.
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{publisher: publisher, logger: logger}
}

func (e *Emitter) base(ctx context.Context, eventType EventType) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		TenantID:      appctx.GetTenantID(ctx),
		ActorID:       appctx.GetActorID(ctx),
		Timestamp:     time.Now().UTC(),
		CorrelationID: appctx.GetRequestID(ctx),
	}
}

func (e *Emitter) emit(ctx context.Context, key string, base BaseEvent, event any) {
	if e == nil || e.publisher == nil {
		return
	}

	headers := map[string]string{
		"event_type":     string(base.EventType),
		"tenant_id":      base.TenantID,
		"schema_version": SchemaVersion,
	}
	if err := e.publisher.Publish(ctx, key, headers, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", base.EventType)
	}
}

func (e *Emitter) EntityMerged(ctx context.Context, event EntityMergedEvent) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityMerged")
	defer span.End()

	event.BaseEvent = e.base(ctx, EventTypeEntityMerged)
	e.emit(ctx, event.EntityID, event.BaseEvent, event)
}

func (e *Emitter) EntityRestored(ctx context.Context, event EntityRestoredEvent) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityRestored")
	defer span.End()

	event.BaseEvent = e.base(ctx, EventTypeEntityRestored)
	e.emit(ctx, event.EntityID, event.BaseEvent, event)
}

func (e *Emitter) SyncCompleted(ctx context.Context, event SyncCompletedEvent) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.SyncCompleted")
	defer span.End()

	event.BaseEvent = e.base(ctx, EventTypeSyncCompleted)
	e.emit(ctx, event.TenantID, event.BaseEvent, event)
}

func (e *Emitter) DetectionCompleted(ctx context.Context, event DetectionCompletedEvent) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.DetectionCompleted")
	defer span.End()

	event.BaseEvent = e.base(ctx, EventTypeDetectionCompleted)
	e.emit(ctx, event.TenantID, event.BaseEvent, event)
}
