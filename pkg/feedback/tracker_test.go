package feedback

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/store/memstore"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type stubAdvisor struct {
	text string
	err  error
}

func (a stubAdvisor) Insights(context.Context, any) (string, error) {
	return a.text, a.err
}

func newTestTracker(advisor Advisor) (*Tracker, *repositories.Store, context.Context) {
	store := memstore.NewStore()
	ctx := appctx.WithTenant(context.Background(), uuid.NewString(), "ana")
	return NewTracker(store, advisor, DefaultConfig(), getTestLogger()), store, ctx
}

func record(t *testing.T, tracker *Tracker, ctx context.Context, n int, action string, result models.EventResult) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, tracker.RecordEvent(ctx, &models.FeedbackEvent{
			Action:     action,
			EntityType: models.EntityTypeContact,
			Result:     result,
		}))
	}
}

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, status, httperror.GetStatusCode(err))
}

func TestRecordEvent_CreatesOneSuggestionAfterTwentySuccesses(t *testing.T) {
	tracker, store, ctx := newTestTracker(nil)

	record(t, tracker, ctx, 19, models.ActionMerge, models.ResultSuccess)
	suggestions, err := store.Suggestions.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, suggestions)

	record(t, tracker, ctx, 1, models.ActionMerge, models.ResultSuccess)
	suggestions, err = store.Suggestions.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, models.SuggestionPending, suggestions[0].Status)
	assert.Equal(t, 1.0, suggestions[0].Confidence)
	assert.Equal(t, "20 similar actions with 100% success rate", suggestions[0].Reason)
	assert.Equal(t, models.ActionMerge, suggestions[0].SuggestedRule.Data["trigger"])

	record(t, tracker, ctx, 5, models.ActionMerge, models.ResultSuccess)
	suggestions, err = store.Suggestions.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, suggestions, 1)
}

func TestRecordEvent_LowSuccessRateCreatesNothing(t *testing.T) {
	tracker, store, ctx := newTestTracker(nil)

	record(t, tracker, ctx, 15, models.ActionMerge, models.ResultSuccess)
	record(t, tracker, ctx, 10, models.ActionMerge, models.ResultError)

	suggestions, err := store.Suggestions.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, suggestions)

	stats, err := store.Feedback.TopStats(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 25, stats[0].Total)
	assert.Equal(t, 10, stats[0].Errors)
}

func TestRecordEvent_DefaultsActor(t *testing.T) {
	tracker, _, _ := newTestTracker(nil)
	ctx := appctx.WithTenant(context.Background(), uuid.NewString(), "")

	event := &models.FeedbackEvent{Action: models.ActionSyncPull, EntityType: "contact", Result: models.ResultSuccess}
	require.NoError(t, tracker.RecordEvent(ctx, event))
	assert.Equal(t, appctx.SystemActor, event.ActorID)
}

func TestRecordEvent_InvalidEvent(t *testing.T) {
	tracker, _, ctx := newTestTracker(nil)

	err := tracker.RecordEvent(ctx, &models.FeedbackEvent{Action: "merge", EntityType: "contact", Result: "maybe"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestAccept_CreatesActiveWorkflow(t *testing.T) {
	tracker, _, ctx := newTestTracker(nil)
	record(t, tracker, ctx, 20, models.ActionMerge, models.ResultSuccess)

	pending, err := tracker.Suggestions(ctx, models.SuggestionPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	workflow, err := tracker.Accept(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Auto: merge contact", workflow.Name)
	assert.Equal(t, models.WorkflowStatusActive, workflow.Status)
	assert.Equal(t, appctx.SystemActor, workflow.CreatedBy)
	require.NotNil(t, workflow.SuggestionID)
	assert.Equal(t, pending[0].ID, *workflow.SuggestionID)

	enabled, err := tracker.AutomationEnabled(ctx, models.ActionMerge, models.EntityTypeContact)
	require.NoError(t, err)
	assert.True(t, enabled)

	_, err = tracker.Accept(ctx, pending[0].ID)
	assertStatus(t, err, http.StatusConflict)

	record(t, tracker, ctx, 5, models.ActionMerge, models.ResultSuccess)
	all, err := tracker.Suggestions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReject_StartsCooldown(t *testing.T) {
	tracker, _, ctx := newTestTracker(nil)
	record(t, tracker, ctx, 20, models.ActionMerge, models.ResultSuccess)

	pending, err := tracker.Suggestions(ctx, models.SuggestionPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, tracker.Reject(ctx, pending[0].ID))

	record(t, tracker, ctx, 1, models.ActionMerge, models.ResultSuccess)
	all, err := tracker.Suggestions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	tracker.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }
	tracker.cfg.Window = 32 * 24 * time.Hour
	record(t, tracker, ctx, 1, models.ActionMerge, models.ResultSuccess)
	pending, err = tracker.Suggestions(ctx, models.SuggestionPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestReject_RequiresActor(t *testing.T) {
	tracker, _, _ := newTestTracker(nil)
	ctx := appctx.WithTenant(context.Background(), uuid.NewString(), "")

	err := tracker.Reject(ctx, uuid.New())
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestSuggestedRule_UsesEventContext(t *testing.T) {
	rule := suggestedRule(&models.FeedbackEvent{
		Action:     models.ActionMerge,
		EntityType: "deal",
		Context:    database.NewJSONB(map[string]any{"conditions": []any{"same_email"}}),
	})
	assert.Equal(t, models.ActionMerge, rule["trigger"])
	assert.Equal(t, []any{"same_email"}, rule["conditions"])
	assert.Equal(t, []any{}, rule["actions"])
}
