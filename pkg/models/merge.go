package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
)

// MergeLedgerEntry is the immutable record of one duplicate merged away, with its full
// pre-merge state.
type MergeLedgerEntry struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	TenantID       uuid.UUID              `db:"tenant_id" json:"tenant_id"`
	EntityType     string                 `db:"entity_type" json:"entity_type"`
	PrimaryID      uuid.UUID              `db:"primary_id" json:"primary_id"`
	MergedID       uuid.UUID              `db:"merged_id" json:"merged_id"`
	MergedSnapshot database.JSONB[Entity] `db:"merged_snapshot" json:"merged_snapshot"`
	ActorID        string                 `db:"actor_id" json:"actor_id"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
}

// MergeRollback marks a ledger entry as restored.
type MergeRollback struct {
	LedgerID   uuid.UUID `db:"ledger_id" json:"ledger_id"`
	TenantID   uuid.UUID `db:"tenant_id" json:"tenant_id"`
	RestoredID uuid.UUID `db:"restored_id" json:"restored_id"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// MergeRequest names the primary and the duplicates to fold into it.
type MergeRequest struct {
	PrimaryID      uuid.UUID   `json:"primary_id" validate:"required"`
	DuplicateIDs   []uuid.UUID `json:"duplicate_ids" validate:"required,min=1"`
	EntityType     string      `json:"entity_type" validate:"required"`
	DetectionRunID *uuid.UUID  `json:"detection_run_id,omitempty"`
}

type MergeResult struct {
	Primary          Entity             `json:"primary"`
	LedgerEntries    []MergeLedgerEntry `json:"ledger_entries"`
	ReparentedLinks  int64              `json:"reparented_links"`
	RepointedMapping int64              `json:"repointed_mappings"`
}
