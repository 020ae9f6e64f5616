package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	suggestionsTable = "automation_suggestions"
	workflowsTable   = "workflows"

	uniqueViolation = "23505"
)

var (
	suggestionStruct = database.NewStruct(new(models.AutomationSuggestion))
	workflowStruct   = database.NewStruct(new(models.Workflow))
)

// SuggestionRepository handles automation suggestions
type SuggestionRepository struct {
	*Repository
}

// NewSuggestionRepository creates a new suggestion repository
func NewSuggestionRepository(db database.DB, logger ectologger.Logger) *SuggestionRepository {
	return &SuggestionRepository{Repository: NewRepository(db, logger)}
}

// Create stores a pending suggestion. A second pending suggestion for the same action and
// entity type is a 409.
func (r *SuggestionRepository) Create(ctx context.Context, suggestion *models.AutomationSuggestion) error {
	ctx, span := tracing.StartSpan(ctx, "SuggestionRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	suggestion.TenantID = tenantID
	if suggestion.ID == uuid.Nil {
		suggestion.ID = uuid.New()
	}
	if suggestion.Status == "" {
		suggestion.Status = models.SuggestionPending
	}
	suggestion.CreatedAt = time.Now().UTC()

	query, args := suggestionStruct.InsertInto(suggestionsTable, suggestion).Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return Conflict("a pending suggestion for %s on %s already exists", suggestion.Action, suggestion.EntityType)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to create automation suggestion")
		return internalError("failed to create automation suggestion")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"suggestion_id": suggestion.ID,
		"action":        suggestion.Action,
		"entity_type":   suggestion.EntityType,
	}).Debugf("Created %s", suggestionsTable)
	return nil
}

func (r *SuggestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AutomationSuggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "SuggestionRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := suggestionStruct.SelectFrom(suggestionsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var suggestion models.AutomationSuggestion
	err = r.Conn(ctx).GetContext(ctx, &suggestion, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("automation suggestion %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get automation suggestion")
		return nil, internalError("failed to get automation suggestion")
	}
	return &suggestion, nil
}

func (r *SuggestionRepository) List(ctx context.Context, status models.SuggestionStatus) ([]models.AutomationSuggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "SuggestionRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := suggestionStruct.SelectFrom(suggestionsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	if status != "" {
		sb.Where(sb.Equal("status", status))
	}
	sb.OrderBy("created_at").Desc()

	return r.list(ctx, sb)
}

// ListFor returns every suggestion ever made for action on entityType, newest first
func (r *SuggestionRepository) ListFor(ctx context.Context, action, entityType string) ([]models.AutomationSuggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "SuggestionRepository.ListFor")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := suggestionStruct.SelectFrom(suggestionsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("action", action), sb.Equal("entity_type", entityType))
	sb.OrderBy("created_at").Desc()

	return r.list(ctx, sb)
}

func (r *SuggestionRepository) list(ctx context.Context, sb *database.SelectBuilder) ([]models.AutomationSuggestion, error) {
	query, args := sb.Build()
	suggestions := []models.AutomationSuggestion{}
	if err := r.Conn(ctx).SelectContext(ctx, &suggestions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list automation suggestions")
		return nil, internalError("failed to list automation suggestions")
	}
	return suggestions, nil
}

func (r *SuggestionRepository) Review(ctx context.Context, id uuid.UUID, status models.SuggestionStatus, reviewer string) error {
	ctx, span := tracing.StartSpan(ctx, "SuggestionRepository.Review")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(suggestionsTable).
		Set(
			ub.Assign("status", status),
			ub.Assign("reviewed_by", reviewer),
			ub.Assign("reviewed_at", database.Now()),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id), ub.Equal("status", models.SuggestionPending))

	query, args := ub.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to review automation suggestion")
		return internalError("failed to review automation suggestion")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return Conflict("automation suggestion %s was already reviewed", id)
	}
	return nil
}

// WorkflowRepository handles standing automations
type WorkflowRepository struct {
	*Repository
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db database.DB, logger ectologger.Logger) *WorkflowRepository {
	return &WorkflowRepository{Repository: NewRepository(db, logger)}
}

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	ctx, span := tracing.StartSpan(ctx, "WorkflowRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	workflow.TenantID = tenantID
	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}
	if workflow.Definition.Data == nil {
		workflow.Definition.Data = map[string]any{}
	}
	workflow.CreatedAt = time.Now().UTC()

	query, args := workflowStruct.InsertInto(workflowsTable, workflow).Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create workflow")
		return internalError("failed to create workflow")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"workflow_id": workflow.ID,
	}).Debugf("Created %s", workflowsTable)
	return nil
}

func (r *WorkflowRepository) List(ctx context.Context) ([]models.Workflow, error) {
	ctx, span := tracing.StartSpan(ctx, "WorkflowRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := workflowStruct.SelectFrom(workflowsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at").Desc()

	query, args := sb.Build()
	workflows := []models.Workflow{}
	if err := r.Conn(ctx).SelectContext(ctx, &workflows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list workflows")
		return nil, internalError("failed to list workflows")
	}
	return workflows, nil
}

func (r *WorkflowRepository) FindActive(ctx context.Context, action, entityType string) (*models.Workflow, error) {
	ctx, span := tracing.StartSpan(ctx, "WorkflowRepository.FindActive")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := workflowStruct.SelectFrom(workflowsTable)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("action", action),
		sb.Equal("entity_type", entityType),
		sb.Equal("status", models.WorkflowStatusActive),
	)
	sb.OrderBy("created_at").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var workflow models.Workflow
	err = r.Conn(ctx).GetContext(ctx, &workflow, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to find active workflow")
		return nil, internalError("failed to find active workflow")
	}
	return &workflow, nil
}
