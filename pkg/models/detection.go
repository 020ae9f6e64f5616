package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
)

type DetectionStatus string

const (
	DetectionStatusPending  DetectionStatus = "pending"
	DetectionStatusMerged   DetectionStatus = "merged"
	DetectionStatusRejected DetectionStatus = "rejected"
	DetectionStatusIgnored  DetectionStatus = "ignored"
)

func (s DetectionStatus) IsTerminal() bool {
	return s == DetectionStatusMerged || s == DetectionStatusRejected || s == DetectionStatusIgnored
}

// CandidatePair is the pairwise evidence behind a duplicate group.
type CandidatePair struct {
	PrimaryRef   uuid.UUID `json:"primary_ref"`
	DuplicateRef uuid.UUID `json:"duplicate_ref"`
	Similarity   float64   `json:"similarity"`
	Reasons      []string  `json:"reasons"`
}

// DetectionRun is one duplicate group awaiting review.
type DetectionRun struct {
	ID             uuid.UUID                       `db:"id" json:"id"`
	TenantID       uuid.UUID                       `db:"tenant_id" json:"tenant_id"`
	EntityType     string                          `db:"entity_type" json:"entity_type"`
	JobID          *uuid.UUID                      `db:"job_id" json:"job_id,omitempty"`
	Status         DetectionStatus                 `db:"status" json:"status"`
	PrimaryID      uuid.UUID                       `db:"primary_id" json:"primary_id"`
	MemberIDs      database.JSONB[[]uuid.UUID]     `db:"member_ids" json:"member_ids"`
	CandidateGroup database.JSONB[[]CandidatePair] `db:"candidate_group" json:"candidate_group"`
	CreatedAt      time.Time                       `db:"created_at" json:"created_at"`
	ResolvedAt     *time.Time                      `db:"resolved_at" json:"resolved_at,omitempty"`
}

// DuplicateIDs returns the members other than the primary.
func (r DetectionRun) DuplicateIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.MemberIDs.Data))
	for _, id := range r.MemberIDs.Data {
		if id != r.PrimaryID {
			ids = append(ids, id)
		}
	}
	return ids
}

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// DetectionJob checkpoints a detection pass so large tenants can be scanned across invocations.
// Cursor is the last candidate id whose comparisons are fully persisted.
type DetectionJob struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	TenantID   uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	EntityType string     `db:"entity_type" json:"entity_type"`
	Threshold  float64    `db:"threshold" json:"threshold"`
	Status     JobStatus  `db:"status" json:"status"`
	Cursor     *uuid.UUID `db:"cursor_id" json:"cursor,omitempty"`
	Compared   int64      `db:"compared" json:"compared"`
	Matched    int        `db:"matched" json:"matched"`
	Groups     int        `db:"group_count" json:"groups"`
	Error      string     `db:"error" json:"error,omitempty"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// DetectionMatch is a pair at or above the job threshold.
type DetectionMatch struct {
	JobID      uuid.UUID                `db:"job_id" json:"job_id"`
	AID        uuid.UUID                `db:"a_id" json:"a_id"`
	BID        uuid.UUID                `db:"b_id" json:"b_id"`
	Similarity float64                  `db:"similarity" json:"similarity"`
	Reasons    database.JSONB[[]string] `db:"reasons" json:"reasons"`
}
