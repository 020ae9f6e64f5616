package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
)

// ConnectionConfig holds provider credentials and endpoints.
type ConnectionConfig struct {
	APIURL    string `json:"api_url,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	PipeID    string `json:"pipe_id,omitempty"`
	// RateLimit caps requests per second to the provider. Zero uses the connector default.
	RateLimit float64 `json:"rate_limit,omitempty"`
}

// Connection is a tenant's configured link to a provider.
type Connection struct {
	ID          uuid.UUID                        `db:"id" json:"id"`
	TenantID    uuid.UUID                        `db:"tenant_id" json:"tenant_id"`
	Provider    string                           `db:"provider" json:"provider"`
	Name        string                           `db:"name" json:"name"`
	Config      database.JSONB[ConnectionConfig] `db:"config" json:"config"`
	EntityTypes pq.StringArray                   `db:"entity_types" json:"entity_types"`
	Enabled     bool                             `db:"enabled" json:"enabled"`
	LastSyncAt  *time.Time                       `db:"last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt   time.Time                        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time                        `db:"updated_at" json:"updated_at"`
}

// SyncResult summarizes a pull batch. It is returned even when records fail.
type SyncResult struct {
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	Skipped       int      `json:"skipped"`
	Errors        int      `json:"errors"`
	ErrorMessages []string `json:"error_messages"`
	// FetchFailed is set when the provider could not be read at all.
	FetchFailed bool `json:"fetch_failed,omitempty"`
}

func (r *SyncResult) AddError(msg string) {
	r.Errors++
	r.ErrorMessages = append(r.ErrorMessages, msg)
}

func (r *SyncResult) Add(other SyncResult) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Errors += other.Errors
	r.ErrorMessages = append(r.ErrorMessages, other.ErrorMessages...)
	r.FetchFailed = r.FetchFailed || other.FetchFailed
}

type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

const (
	DirectionPull = "pull"
	DirectionPush = "push"
)

// SyncRun records one pull of one entity type over a connection.
type SyncRun struct {
	ID           uuid.UUID                  `db:"id" json:"id"`
	TenantID     uuid.UUID                  `db:"tenant_id" json:"tenant_id"`
	ConnectionID uuid.UUID                  `db:"connection_id" json:"connection_id"`
	Provider     string                     `db:"provider" json:"provider"`
	EntityType   string                     `db:"entity_type" json:"entity_type"`
	Direction    string                     `db:"direction" json:"direction"`
	Status       SyncStatus                 `db:"status" json:"status"`
	Stats        database.JSONB[SyncResult] `db:"stats" json:"stats"`
	StartedAt    time.Time                  `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time                 `db:"finished_at" json:"finished_at,omitempty"`
}

// PushResult is the outcome of writing one canonical entity to a provider.
type PushResult struct {
	Action     string `json:"action"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}
