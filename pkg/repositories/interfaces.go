package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Every repository reads the tenant from the context and joins the transaction bound to it, if
// any. Lookups that miss return a 404 httperror unless documented otherwise.

// EntityRepo defines the interface for canonical entity operations
type EntityRepo interface {
	Create(ctx context.Context, entity *models.Entity) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	// GetByIDs returns the entities that exist, in no particular order.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Entity, error)
	Update(ctx context.Context, entity *models.Entity) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListPage returns up to limit entities of entityType with id > afterID ordered by id.
	ListPage(ctx context.Context, entityType string, afterID uuid.UUID, limit int) ([]models.Entity, error)
}

// MappingRepo defines the interface for the external to internal id mapping store
type MappingRepo interface {
	// Find returns nil, nil when no mapping exists.
	Find(ctx context.Context, provider, entityType, externalID string) (*models.ExternalEntityMap, error)
	// FindByInternalID returns nil, nil when the entity has no mapping for the provider.
	FindByInternalID(ctx context.Context, provider, entityType string, internalID uuid.UUID) (*models.ExternalEntityMap, error)
	// Create fails with a MappingConflictError when the external key is already mapped.
	Create(ctx context.Context, mapping *models.ExternalEntityMap) error
	// Upsert is idempotent on the composite key. It fails with a MappingConflictError instead of
	// re-pointing an existing mapping at a different internal id.
	Upsert(ctx context.Context, mapping *models.ExternalEntityMap) error
	// Repoint moves every mapping of fromIDs to toID and returns how many moved.
	Repoint(ctx context.Context, fromIDs []uuid.UUID, toID uuid.UUID) (int64, error)
	ListByInternalID(ctx context.Context, internalID uuid.UUID) ([]models.ExternalEntityMap, error)
}

// RelationshipRepo defines the interface for links between canonical entities
type RelationshipRepo interface {
	// Create is a no-op when the same link already exists.
	Create(ctx context.Context, rel *models.Relationship) error
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]models.Relationship, error)
	// Reparent rewrites both ends of every link touching fromIDs to toID, then drops self links
	// and duplicates the rewrite produced.
	Reparent(ctx context.Context, fromIDs []uuid.UUID, toID uuid.UUID) (int64, error)
}

// DetectionRunRepo defines the interface for duplicate group operations
type DetectionRunRepo interface {
	Create(ctx context.Context, run *models.DetectionRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DetectionRun, error)
	// List filters by entity type and status; empty values match everything.
	List(ctx context.Context, entityType string, status models.DetectionStatus) ([]models.DetectionRun, error)
	// Resolve moves a pending run to a terminal status. It returns 409 when the run is no longer pending.
	Resolve(ctx context.Context, id uuid.UUID, status models.DetectionStatus) error
	CountByStatus(ctx context.Context, entityType string) (map[models.DetectionStatus]int, error)
}

// DetectionJobRepo defines the interface for detection checkpoints
type DetectionJobRepo interface {
	Create(ctx context.Context, job *models.DetectionJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DetectionJob, error)
	Update(ctx context.Context, job *models.DetectionJob) error
	AddMatches(ctx context.Context, matches []models.DetectionMatch) error
	ListMatches(ctx context.Context, jobID uuid.UUID) ([]models.DetectionMatch, error)
}

// MergeLedgerRepo defines the interface for the merge audit log
type MergeLedgerRepo interface {
	Create(ctx context.Context, entry *models.MergeLedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MergeLedgerEntry, error)
	List(ctx context.Context, limit, offset int) ([]models.MergeLedgerEntry, error)
	// CreateRollback returns 409 when the ledger entry was already rolled back.
	CreateRollback(ctx context.Context, rollback *models.MergeRollback) error
	// GetRollback returns nil, nil when the entry was never rolled back.
	GetRollback(ctx context.Context, ledgerID uuid.UUID) (*models.MergeRollback, error)
}

// FeedbackRepo defines the interface for feedback records, events and counters
type FeedbackRepo interface {
	CreateRecord(ctx context.Context, record *models.FeedbackRecord) error
	ListRecords(ctx context.Context, limit int) ([]models.FeedbackRecord, error)
	CreateEvent(ctx context.Context, event *models.FeedbackEvent) error
	// IncrementStats bumps the lifetime counters for the event's action and entity type.
	IncrementStats(ctx context.Context, event *models.FeedbackEvent) (*models.FeedbackStats, error)
	CountSince(ctx context.Context, action, entityType string, since time.Time) (models.WindowCounts, error)
	TopStats(ctx context.Context, limit int) ([]models.FeedbackStats, error)
}

// SuggestionRepo defines the interface for automation suggestions
type SuggestionRepo interface {
	Create(ctx context.Context, suggestion *models.AutomationSuggestion) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AutomationSuggestion, error)
	List(ctx context.Context, status models.SuggestionStatus) ([]models.AutomationSuggestion, error)
	ListFor(ctx context.Context, action, entityType string) ([]models.AutomationSuggestion, error)
	// Review moves a pending suggestion to accepted or rejected. It returns 409 otherwise.
	Review(ctx context.Context, id uuid.UUID, status models.SuggestionStatus, reviewer string) error
}

// WorkflowRepo defines the interface for standing automations
type WorkflowRepo interface {
	Create(ctx context.Context, workflow *models.Workflow) error
	List(ctx context.Context) ([]models.Workflow, error)
	// FindActive returns nil, nil when no active workflow automates the action.
	FindActive(ctx context.Context, action, entityType string) (*models.Workflow, error)
}

// ConnectionRepo defines the interface for provider connections
type ConnectionRepo interface {
	Create(ctx context.Context, conn *models.Connection) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	List(ctx context.Context) ([]models.Connection, error)
	Update(ctx context.Context, conn *models.Connection) error
	Delete(ctx context.Context, id uuid.UUID) error
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error
	// ListDue is not tenant scoped. It returns enabled connections never synced or last synced before cutoff.
	ListDue(ctx context.Context, cutoff time.Time, limit int) ([]models.Connection, error)
}

// SyncRunRepo defines the interface for sync run history
type SyncRunRepo interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Finish(ctx context.Context, run *models.SyncRun) error
	ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]models.SyncRun, error)
}

// Store bundles every repository with the transaction manager they share.
type Store struct {
	Tx            database.TxManager
	Entities      EntityRepo
	Mappings      MappingRepo
	Relationships RelationshipRepo
	DetectionRuns DetectionRunRepo
	DetectionJobs DetectionJobRepo
	Ledger        MergeLedgerRepo
	Feedback      FeedbackRepo
	Suggestions   SuggestionRepo
	Workflows     WorkflowRepo
	Connections   ConnectionRepo
	SyncRuns      SyncRunRepo
}
