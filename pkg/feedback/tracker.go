// Package feedback records action outcomes, proposes automations for actions that keep
// succeeding and derives insights from the counters.
package feedback

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// Advisor turns usage statistics into a free-text analysis.
type Advisor interface {
	Insights(ctx context.Context, stats any) (string, error)
}

type Config struct {
	Window            time.Duration
	MinEvents         int
	MinSuccessRate    float64
	RejectionCooldown time.Duration
	InsightStats      int
}

func DefaultConfig() Config {
	return Config{
		Window:            7 * 24 * time.Hour,
		MinEvents:         20,
		MinSuccessRate:    0.8,
		RejectionCooldown: 30 * 24 * time.Hour,
		InsightStats:      10,
	}
}

// Tracker owns feedback events, counters, suggestions and workflows
type Tracker struct {
	store   *repositories.Store
	advisor Advisor
	cfg     Config
	logger  ectologger.Logger
	now     func() time.Time
}

// NewTracker creates a tracker. advisor may be nil.
func NewTracker(store *repositories.Store, advisor Advisor, cfg Config, logger ectologger.Logger) *Tracker {
	return &Tracker{
		store:   store,
		advisor: advisor,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordEvent appends the event, bumps its counters and proposes an automation once the rolling
// window shows enough consistent successes. All three happen in one transaction.
func (t *Tracker) RecordEvent(ctx context.Context, event *models.FeedbackEvent) error {
	ctx, span := tracing.StartSpan(ctx, "feedback.Tracker.RecordEvent")
	defer span.End()

	if err := utils.Validate(event); err != nil {
		return err
	}
	if event.ActorID == "" {
		event.ActorID = appctx.GetActorID(ctx)
	}
	if event.ActorID == "" {
		event.ActorID = appctx.SystemActor
	}

	return t.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := t.store.Feedback.CreateEvent(ctx, event); err != nil {
			return err
		}
		if _, err := t.store.Feedback.IncrementStats(ctx, event); err != nil {
			return err
		}
		return t.maybeSuggest(ctx, event)
	})
}

func (t *Tracker) maybeSuggest(ctx context.Context, event *models.FeedbackEvent) error {
	now := t.now()
	counts, err := t.store.Feedback.CountSince(ctx, event.Action, event.EntityType, now.Add(-t.cfg.Window))
	if err != nil {
		return err
	}
	if counts.Total < t.cfg.MinEvents {
		return nil
	}
	successRate := float64(counts.Success) / float64(counts.Total)
	if successRate < t.cfg.MinSuccessRate {
		return nil
	}

	existing, err := t.store.Suggestions.ListFor(ctx, event.Action, event.EntityType)
	if err != nil {
		return err
	}
	for _, s := range existing {
		switch s.Status {
		case models.SuggestionPending, models.SuggestionAccepted:
			return nil
		case models.SuggestionRejected:
			if s.ReviewedAt != nil && now.Sub(*s.ReviewedAt) < t.cfg.RejectionCooldown {
				return nil
			}
		}
	}

	suggestion := &models.AutomationSuggestion{
		Action:        event.Action,
		EntityType:    event.EntityType,
		Confidence:    successRate,
		Reason:        fmt.Sprintf("%d similar actions with %.0f%% success rate", counts.Total, successRate*100),
		SuggestedRule: database.NewJSONB(suggestedRule(event)),
		Status:        models.SuggestionPending,
	}
	err = t.store.Suggestions.Create(ctx, suggestion)
	if repositories.IsConflict(err) {
		return nil
	}
	if err != nil {
		return err
	}

	t.logger.WithContext(ctx).WithFields(map[string]any{
		"action":      suggestion.Action,
		"entity_type": suggestion.EntityType,
		"confidence":  suggestion.Confidence,
	}).Info("Automation suggestion created")
	return nil
}

// suggestedRule describes the automation from the triggering event's context.
func suggestedRule(event *models.FeedbackEvent) map[string]any {
	rule := map[string]any{
		"trigger":     event.Action,
		"entity_type": event.EntityType,
		"conditions":  []any{},
		"actions":     []any{},
	}
	for _, key := range []string{"trigger", "conditions", "actions"} {
		if v, ok := event.Context.Data[key]; ok && v != nil {
			rule[key] = v
		}
	}
	return rule
}

// Suggestions lists suggestions by status, most confident first. An empty status lists all.
func (t *Tracker) Suggestions(ctx context.Context, status models.SuggestionStatus) ([]models.AutomationSuggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "feedback.Tracker.Suggestions")
	defer span.End()

	suggestions, err := t.store.Suggestions.List(ctx, status)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	return suggestions, nil
}

// Accept marks a pending suggestion accepted and creates the ACTIVE workflow it proposes.
func (t *Tracker) Accept(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	ctx, span := tracing.StartSpan(ctx, "feedback.Tracker.Accept")
	defer span.End()

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	var workflow *models.Workflow
	err = t.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		suggestion, err := t.store.Suggestions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := t.store.Suggestions.Review(ctx, id, models.SuggestionAccepted, actor); err != nil {
			return err
		}

		workflow = &models.Workflow{
			SuggestionID: &suggestion.ID,
			Name:         fmt.Sprintf("Auto: %s %s", suggestion.Action, suggestion.EntityType),
			Description:  suggestion.Reason,
			Action:       suggestion.Action,
			EntityType:   suggestion.EntityType,
			Definition:   suggestion.SuggestedRule,
			Status:       models.WorkflowStatusActive,
			CreatedBy:    appctx.SystemActor,
		}
		return t.store.Workflows.Create(ctx, workflow)
	})
	if err != nil {
		return nil, err
	}

	t.logger.WithContext(ctx).WithFields(map[string]any{
		"suggestion_id": id,
		"workflow_id":   workflow.ID,
	}).Info("Automation suggestion accepted")
	return workflow, nil
}

// Reject marks a pending suggestion rejected. The pair is not suggested again until the
// rejection cooldown passes.
func (t *Tracker) Reject(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "feedback.Tracker.Reject")
	defer span.End()

	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return t.store.Suggestions.Review(ctx, id, models.SuggestionRejected, actor)
}

// AutomationEnabled reports whether an ACTIVE workflow automates action on entityType.
func (t *Tracker) AutomationEnabled(ctx context.Context, action, entityType string) (bool, error) {
	workflow, err := t.store.Workflows.FindActive(ctx, action, entityType)
	if err != nil {
		return false, err
	}
	return workflow != nil, nil
}

func (t *Tracker) Workflows(ctx context.Context) ([]models.Workflow, error) {
	return t.store.Workflows.List(ctx)
}

func requireActor(ctx context.Context) (string, error) {
	actor := appctx.GetActorID(ctx)
	if actor == "" {
		return "", httperror.NewHTTPError(http.StatusUnauthorized, "actor is required")
	}
	return actor, nil
}
