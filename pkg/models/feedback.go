package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
)

type FeedbackAction string

const (
	FeedbackAccepted FeedbackAction = "accepted"
	FeedbackRejected FeedbackAction = "rejected"
	FeedbackIgnored  FeedbackAction = "ignored"
)

// FeedbackRecord is the append-only outcome of a merge decision.
type FeedbackRecord struct {
	ID             uuid.UUID                   `db:"id" json:"id"`
	TenantID       uuid.UUID                   `db:"tenant_id" json:"tenant_id"`
	PrimaryID      uuid.UUID                   `db:"primary_id" json:"primary_id"`
	MergedIDs      database.JSONB[[]uuid.UUID] `db:"merged_ids" json:"merged_ids"`
	Action         FeedbackAction              `db:"action" json:"action"`
	DetectionRunID *uuid.UUID                  `db:"detection_run_id" json:"detection_run_id,omitempty"`
	ActorID        string                      `db:"actor_id" json:"actor_id"`
	CreatedAt      time.Time                   `db:"created_at" json:"created_at"`
}

type EventResult string

const (
	ResultSuccess EventResult = "success"
	ResultError   EventResult = "error"
	ResultSkipped EventResult = "skipped"
)

// Well known feedback actions.
const (
	ActionMerge    = "merge"
	ActionSyncPull = "sync.pull"
)

// FeedbackEvent is one observed outcome of an action on an entity type.
type FeedbackEvent struct {
	ID         uuid.UUID                      `db:"id" json:"id"`
	TenantID   uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	ActorID    string                         `db:"actor_id" json:"actor_id"`
	Action     string                         `db:"action" json:"action" validate:"required"`
	EntityType string                         `db:"entity_type" json:"entity_type" validate:"required"`
	EntityID   string                         `db:"entity_id" json:"entity_id,omitempty"`
	Result     EventResult                    `db:"result" json:"result" validate:"required,oneof=success error skipped"`
	Context    database.JSONB[map[string]any] `db:"context" json:"context,omitempty"`
	CreatedAt  time.Time                      `db:"created_at" json:"created_at"`
}

// FeedbackStats are lifetime counters per (tenant, action, entity type).
type FeedbackStats struct {
	TenantID       uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Action         string    `db:"action" json:"action"`
	EntityType     string    `db:"entity_type" json:"entity_type"`
	Total          int       `db:"total" json:"total"`
	Success        int       `db:"success" json:"success"`
	Errors         int       `db:"errors" json:"errors"`
	Skipped        int       `db:"skipped" json:"skipped"`
	LastOccurrence time.Time `db:"last_occurrence" json:"last_occurrence"`
}

func (s FeedbackStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Total)
}

func (s FeedbackStats) ErrorRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Total)
}

// WindowCounts are event counts inside a rolling window.
type WindowCounts struct {
	Total   int `db:"total"`
	Success int `db:"success"`
}

type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionAccepted SuggestionStatus = "accepted"
	SuggestionRejected SuggestionStatus = "rejected"
)

// AutomationSuggestion proposes automating an action that keeps succeeding.
type AutomationSuggestion struct {
	ID            uuid.UUID                      `db:"id" json:"id"`
	TenantID      uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	Action        string                         `db:"action" json:"action"`
	EntityType    string                         `db:"entity_type" json:"entity_type"`
	Confidence    float64                        `db:"confidence" json:"confidence"`
	Reason        string                         `db:"reason" json:"reason"`
	SuggestedRule database.JSONB[map[string]any] `db:"suggested_rule" json:"suggested_rule"`
	Status        SuggestionStatus               `db:"status" json:"status"`
	ReviewedBy    string                         `db:"reviewed_by" json:"reviewed_by,omitempty"`
	CreatedAt     time.Time                      `db:"created_at" json:"created_at"`
	ReviewedAt    *time.Time                     `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

const WorkflowStatusActive = "ACTIVE"

// Workflow is a standing automation created when a suggestion is accepted.
type Workflow struct {
	ID           uuid.UUID                      `db:"id" json:"id"`
	TenantID     uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	SuggestionID *uuid.UUID                     `db:"suggestion_id" json:"suggestion_id,omitempty"`
	Name         string                         `db:"name" json:"name"`
	Description  string                         `db:"description" json:"description"`
	Action       string                         `db:"action" json:"action"`
	EntityType   string                         `db:"entity_type" json:"entity_type"`
	Definition   database.JSONB[map[string]any] `db:"definition" json:"definition"`
	Status       string                         `db:"status" json:"status"`
	CreatedBy    string                         `db:"created_by" json:"created_by"`
	CreatedAt    time.Time                      `db:"created_at" json:"created_at"`
}

// Insight is an observation derived from feedback statistics.
type Insight struct {
	Type           string  `json:"type"`
	Priority       string  `json:"priority"`
	Action         string  `json:"action"`
	EntityType     string  `json:"entity_type"`
	Message        string  `json:"message"`
	Recommendation string  `json:"recommendation"`
	Rate           float64 `json:"rate"`
}
