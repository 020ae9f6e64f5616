package memstore

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

type feedbackRepo struct {
	db *DB
}

func (r *feedbackRepo) CreateRecord(ctx context.Context, record *models.FeedbackRecord) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	record.TenantID = tenantID
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = time.Now().UTC()

	defer r.db.lock(ctx)()
	stored := *record
	stored.MergedIDs.Data = slices.Clone(record.MergedIDs.Data)
	r.db.data.records = append(r.db.data.records, stored)
	return nil
}

func (r *feedbackRepo) ListRecords(ctx context.Context, limit int) ([]models.FeedbackRecord, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.FeedbackRecord{}
	for i := len(r.db.data.records) - 1; i >= 0; i-- {
		if record := r.db.data.records[i]; record.TenantID == tenantID {
			out = append(out, record)
		}
	}
	return page(out, limit, 0), nil
}

func (r *feedbackRepo) CreateEvent(ctx context.Context, event *models.FeedbackEvent) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	event.TenantID = tenantID
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Context.Data == nil {
		event.Context.Data = map[string]any{}
	}

	defer r.db.lock(ctx)()
	stored := *event
	stored.Context.Data = maps.Clone(event.Context.Data)
	r.db.data.events = append(r.db.data.events, stored)
	return nil
}

func (r *feedbackRepo) IncrementStats(ctx context.Context, event *models.FeedbackEvent) (*models.FeedbackStats, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	at := event.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	defer r.db.lock(ctx)()
	key := statsKey{tenantID, event.Action, event.EntityType}
	stats, ok := r.db.data.stats[key]
	if !ok {
		stats = models.FeedbackStats{TenantID: tenantID, Action: event.Action, EntityType: event.EntityType}
	}
	stats.Total++
	switch event.Result {
	case models.ResultSuccess:
		stats.Success++
	case models.ResultError:
		stats.Errors++
	case models.ResultSkipped:
		stats.Skipped++
	}
	if at.After(stats.LastOccurrence) {
		stats.LastOccurrence = at
	}
	r.db.data.stats[key] = stats
	return &stats, nil
}

func (r *feedbackRepo) CountSince(ctx context.Context, action, entityType string, since time.Time) (models.WindowCounts, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return models.WindowCounts{}, err
	}

	defer r.db.lock(ctx)()
	var counts models.WindowCounts
	for _, event := range r.db.data.events {
		if event.TenantID != tenantID || event.Action != action || event.EntityType != entityType || event.CreatedAt.Before(since) {
			continue
		}
		counts.Total++
		if event.Result == models.ResultSuccess {
			counts.Success++
		}
	}
	return counts, nil
}

func (r *feedbackRepo) TopStats(ctx context.Context, limit int) ([]models.FeedbackStats, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.FeedbackStats{}
	for key, stats := range r.db.data.stats {
		if key.tenantID == tenantID {
			out = append(out, stats)
		}
	}
	slices.SortFunc(out, func(a, b models.FeedbackStats) int { return b.Total - a.Total })
	return page(out, limit, 0), nil
}

type suggestionRepo struct {
	db *DB
}

func (r *suggestionRepo) Create(ctx context.Context, suggestion *models.AutomationSuggestion) error {
	tenantID, err := repositories.GetTenantID(ctx)
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

	defer r.db.lock(ctx)()
	if suggestion.Status == models.SuggestionPending {
		for _, existing := range r.db.data.suggestions {
			if existing.TenantID == tenantID && existing.Action == suggestion.Action &&
				existing.EntityType == suggestion.EntityType && existing.Status == models.SuggestionPending {
				return repositories.Conflict("a pending suggestion for %s on %s already exists", suggestion.Action, suggestion.EntityType)
			}
		}
	}
	stored := *suggestion
	stored.SuggestedRule.Data = maps.Clone(suggestion.SuggestedRule.Data)
	r.db.data.suggestions[suggestion.ID] = stored
	return nil
}

func (r *suggestionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AutomationSuggestion, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	suggestion, ok := r.db.data.suggestions[id]
	if !ok || suggestion.TenantID != tenantID {
		return nil, repositories.NotFound("automation suggestion %s does not exist", id)
	}
	return &suggestion, nil
}

func (r *suggestionRepo) List(ctx context.Context, status models.SuggestionStatus) ([]models.AutomationSuggestion, error) {
	return r.filter(ctx, func(s models.AutomationSuggestion) bool {
		return status == "" || s.Status == status
	})
}

func (r *suggestionRepo) ListFor(ctx context.Context, action, entityType string) ([]models.AutomationSuggestion, error) {
	return r.filter(ctx, func(s models.AutomationSuggestion) bool {
		return s.Action == action && s.EntityType == entityType
	})
}

func (r *suggestionRepo) filter(ctx context.Context, keep func(models.AutomationSuggestion) bool) ([]models.AutomationSuggestion, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.AutomationSuggestion{}
	for _, suggestion := range r.db.data.suggestions {
		if suggestion.TenantID == tenantID && keep(suggestion) {
			out = append(out, suggestion)
		}
	}
	slices.SortFunc(out, func(a, b models.AutomationSuggestion) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r *suggestionRepo) Review(ctx context.Context, id uuid.UUID, status models.SuggestionStatus, reviewer string) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}

	defer r.db.lock(ctx)()
	suggestion, ok := r.db.data.suggestions[id]
	if !ok || suggestion.TenantID != tenantID {
		return repositories.NotFound("automation suggestion %s does not exist", id)
	}
	if suggestion.Status != models.SuggestionPending {
		return repositories.Conflict("automation suggestion %s was already reviewed", id)
	}
	now := time.Now().UTC()
	suggestion.Status = status
	suggestion.ReviewedBy = reviewer
	suggestion.ReviewedAt = &now
	r.db.data.suggestions[id] = suggestion
	return nil
}

type workflowRepo struct {
	db *DB
}

func (r *workflowRepo) Create(ctx context.Context, workflow *models.Workflow) error {
	tenantID, err := repositories.GetTenantID(ctx)
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

	defer r.db.lock(ctx)()
	stored := *workflow
	stored.Definition.Data = maps.Clone(workflow.Definition.Data)
	r.db.data.workflows[workflow.ID] = stored
	return nil
}

func (r *workflowRepo) List(ctx context.Context) ([]models.Workflow, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.Workflow{}
	for _, workflow := range r.db.data.workflows {
		if workflow.TenantID == tenantID {
			out = append(out, workflow)
		}
	}
	slices.SortFunc(out, func(a, b models.Workflow) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r *workflowRepo) FindActive(ctx context.Context, action, entityType string) (*models.Workflow, error) {
	workflows, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, workflow := range workflows {
		if workflow.Action == action && workflow.EntityType == entityType && workflow.Status == models.WorkflowStatusActive {
			return &workflow, nil
		}
	}
	return nil, nil
}
