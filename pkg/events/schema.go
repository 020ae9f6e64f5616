package events

import (
	"time"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeEntityMerged       EventType = "entity.merged"
	EventTypeEntityRestored     EventType = "entity.restored"
	EventTypeSyncCompleted      EventType = "sync.completed"
	EventTypeDetectionCompleted EventType = "detection.completed"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	TenantID      string    `json:"tenant_id"`
	ActorID       string    `json:"actor_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EntityMergedEvent is emitted after duplicates were folded into a primary
type EntityMergedEvent struct {
	BaseEvent
	EntityID       string   `json:"entity_id"`
	EntityType     string   `json:"entity_type"`
	MergedIDs      []string `json:"merged_ids"`
	LedgerIDs      []string `json:"ledger_ids"`
	Version        int      `json:"version"`
	DetectionRunID string   `json:"detection_run_id,omitempty"`
}

// EntityRestoredEvent is emitted when a ledger entry was rolled back
type EntityRestoredEvent struct {
	BaseEvent
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	LedgerID   string `json:"ledger_id"`
	MergedID   string `json:"merged_id"`
	PrimaryID  string `json:"primary_id"`
}

// SyncCompletedEvent is emitted after each pulled entity type of a connection
type SyncCompletedEvent struct {
	BaseEvent
	ConnectionID string `json:"connection_id"`
	SyncRunID    string `json:"sync_run_id"`
	Provider     string `json:"provider"`
	EntityType   string `json:"entity_type"`
	Status       string `json:"status"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Errors       int    `json:"errors"`
}

// DetectionCompletedEvent is emitted when a detection job finished clustering
type DetectionCompletedEvent struct {
	BaseEvent
	JobID      string `json:"job_id"`
	EntityType string `json:"entity_type"`
	Compared   int64  `json:"compared"`
	Matched    int    `json:"matched"`
	Groups     int    `json:"groups"`
}
