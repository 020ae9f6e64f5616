package repositories_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/testhelpers"
	"github.com/Ramsey-B/clover/pkg/apperrors"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

func getTestStore(t *testing.T) *repositories.Store {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	return repositories.NewPostgresStore(testDB.DB, testhelpers.Logger())
}

// getTestContext returns a context for a fresh tenant so tests sharing the container stay isolated.
func getTestContext() context.Context {
	return appctx.WithTenant(context.Background(), uuid.NewString(), "tester")
}

// assertStatus asserts that err is an HTTP error with the given status
func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, status, httperror.GetStatusCode(err))
}

func TestEntityRepository_CRUD(t *testing.T) {
	store := getTestStore(t)
	ctx := getTestContext()

	entity := &models.Entity{
		EntityType:   models.EntityTypeContact,
		Name:         "Ana Souza",
		Email:        "ana@example.com",
		Tags:         []string{"vip"},
		CustomFields: models.CustomFields{"industry": "retail"},
	}
	require.NoError(t, store.Entities.Create(ctx, entity))
	assert.Equal(t, 1, entity.Version)

	got, err := store.Entities.GetByID(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", got.Email)
	assert.Equal(t, "retail", got.CustomFields["industry"])

	got.Name = "Ana Maria Souza"
	require.NoError(t, store.Entities.Update(ctx, got))
	assert.Equal(t, 2, got.Version)

	many, err := store.Entities.GetByIDs(ctx, []uuid.UUID{entity.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, many, 1)
	assert.Equal(t, "Ana Maria Souza", many[0].Name)

	require.NoError(t, store.Entities.Delete(ctx, entity.ID))
	_, err = store.Entities.GetByID(ctx, entity.ID)
	assertStatus(t, err, http.StatusNotFound)
}

func TestEntityRepository_TenantIsolation(t *testing.T) {
	store := getTestStore(t)
	ctxA, ctxB := getTestContext(), getTestContext()

	entity := &models.Entity{EntityType: models.EntityTypeContact, Name: "Ana"}
	require.NoError(t, store.Entities.Create(ctxA, entity))

	_, err := store.Entities.GetByID(ctxB, entity.ID)
	assertStatus(t, err, http.StatusNotFound)

	_, err = store.Entities.GetByID(context.Background(), entity.ID)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestEntityRepository_ListPageOrdersByID(t *testing.T) {
	store := getTestStore(t)
	ctx := getTestContext()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Entities.Create(ctx, &models.Entity{EntityType: models.EntityTypeContact}))
	}
	require.NoError(t, store.Entities.Create(ctx, &models.Entity{EntityType: models.EntityTypeDeal}))

	first, err := store.Entities.ListPage(ctx, models.EntityTypeContact, uuid.Nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	rest, err := store.Entities.ListPage(ctx, models.EntityTypeContact, first[2].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)

	all := append(first, rest...)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID.String(), all[i].ID.String())
	}
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	store := getTestStore(t)
	ctx := getTestContext()

	kept := &models.Entity{EntityType: models.EntityTypeContact, Name: "kept"}
	require.NoError(t, store.Entities.Create(ctx, kept))

	boom := errors.New("boom")
	err := store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Entities.Create(ctx, &models.Entity{EntityType: models.EntityTypeContact, Name: "lost"}))
		require.NoError(t, store.Entities.Delete(ctx, kept.ID))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Entities.GetByID(ctx, kept.ID)
	require.NoError(t, err)
	page, err := store.Entities.ListPage(ctx, models.EntityTypeContact, uuid.Nil, 10)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestMappingRepository_UpsertRefusesRepoint(t *testing.T) {
	store := getTestStore(t)
	ctx := getTestContext()

	first := uuid.New()
	mapping := &models.ExternalEntityMap{Provider: "chatwoot", EntityType: models.EntityTypeContact, ExternalID: "42", InternalID: first, Fingerprint: "a"}
	require.NoError(t, store.Mappings.Create(ctx, mapping))
	assert.True(t, apperrors.IsMappingConflict(store.Mappings.Create(ctx, mapping)))

	mapping.Fingerprint = "b"
	require.NoError(t, store.Mappings.Upsert(ctx, mapping))

	other := *mapping
	other.InternalID = uuid.New()
	assert.True(t, apperrors.IsMappingConflict(store.Mappings.Upsert(ctx, &other)))

	found, err := store.Mappings.Find(ctx, "chatwoot", models.EntityTypeContact, "42")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first, found.InternalID)
	assert.Equal(t, "b", found.Fingerprint)

	target := uuid.New()
	moved, err := store.Mappings.Repoint(ctx, []uuid.UUID{first}, target)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	byInternal, err := store.Mappings.FindByInternalID(ctx, "chatwoot", models.EntityTypeContact, target)
	require.NoError(t, err)
	require.NotNil(t, byInternal)
	assert.Equal(t, "42", byInternal.ExternalID)
}

func TestRelationshipRepository_Reparent(t *testing.T) {
	store := getTestStore(t)
	ctx := getTestContext()

	primary, dup, deal := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, store.Relationships.Create(ctx, &models.Relationship{Kind: "contact", FromID: deal, ToID: primary}))
	require.NoError(t, store.Relationships.Create(ctx, &models.Relationship{Kind: "contact", FromID: deal, ToID: dup}))
	require.NoError(t, store.Relationships.Create(ctx, &models.Relationship{Kind: "related", FromID: dup, ToID: primary}))
	require.NoError(t, store.Relationships.Create(ctx, &models.Relationship{Kind: "contact", FromID: deal, ToID: primary}))

	_, err := store.Relationships.Reparent(ctx, []uuid.UUID{dup}, primary)
	require.NoError(t, err)

	links, err := store.Relationships.ListByEntity(ctx, primary)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, deal, links[0].FromID)
}

func TestDetectionRepositories(t *testing.T) {
	store := getTestStore(t)
	ctx := getTestContext()

	job := &models.DetectionJob{EntityType: models.EntityTypeContact, Threshold: 0.85, Status: models.JobStatusRunning}
	require.NoError(t, store.DetectionJobs.Create(ctx, job))

	a, b := uuid.New(), uuid.New()
	require.NoError(t, store.DetectionJobs.AddMatches(ctx, []models.DetectionMatch{
		{JobID: job.ID, AID: a, BID: b, Similarity: 0.9, Reasons: database.NewJSONB([]string{"Same email"})},
	}))
	matches, err := store.DetectionJobs.ListMatches(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, []string{"Same email"}, matches[0].Reasons.Data)

	job.Status = models.JobStatusCompleted
	job.Compared = 1
	require.NoError(t, store.DetectionJobs.Update(ctx, job))
	got, err := store.DetectionJobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)

	run := &models.DetectionRun{EntityType: models.EntityTypeContact, PrimaryID: a, JobID: &job.ID}
	require.NoError(t, store.DetectionRuns.Create(ctx, run))
	pending, err := store.DetectionRuns.List(ctx, models.EntityTypeContact, models.DetectionStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.DetectionRuns.Resolve(ctx, run.ID, models.DetectionStatusRejected))
	assertStatus(t, store.DetectionRuns.Resolve(ctx, run.ID, models.DetectionStatusMerged), http.StatusConflict)

	counts, err := store.DetectionRuns.CountByStatus(ctx, models.EntityTypeContact)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.DetectionStatusRejected])
}

func TestMergeLedgerRepository_RollbackOnlyOnce(t *testing.T) {
	store := getTestStore(t)
	ctx := getTestContext()

	snapshot := models.Entity{ID: uuid.New(), EntityType: models.EntityTypeContact, Name: "Bruno"}
	entry := &models.MergeLedgerEntry{
		EntityType:     models.EntityTypeContact,
		PrimaryID:      uuid.New(),
		MergedID:       snapshot.ID,
		MergedSnapshot: database.NewJSONB(snapshot),
		ActorID:        "tester",
	}
	require.NoError(t, store.Ledger.Create(ctx, entry))

	history, err := store.Ledger.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Bruno", history[0].MergedSnapshot.Data.Name)

	none, err := store.Ledger.GetRollback(ctx, entry.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, store.Ledger.CreateRollback(ctx, &models.MergeRollback{LedgerID: entry.ID, RestoredID: uuid.New(), ActorID: "tester"}))
	assertStatus(t, store.Ledger.CreateRollback(ctx, &models.MergeRollback{LedgerID: entry.ID, RestoredID: uuid.New(), ActorID: "tester"}), http.StatusConflict)
}

func TestFeedbackRepository_StatsAndWindow(t *testing.T) {
	store := getTestStore(t)
	ctx := getTestContext()

	results := []models.EventResult{models.ResultSuccess, models.ResultSuccess, models.ResultError, models.ResultSkipped}
	for _, result := range results {
		event := &models.FeedbackEvent{Action: models.ActionMerge, EntityType: models.EntityTypeContact, Result: result, ActorID: "tester"}
		require.NoError(t, store.Feedback.CreateEvent(ctx, event))
		_, err := store.Feedback.IncrementStats(ctx, event)
		require.NoError(t, err)
	}
	old := &models.FeedbackEvent{Action: models.ActionMerge, EntityType: models.EntityTypeContact, Result: models.ResultSuccess,
		ActorID: "tester", CreatedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, store.Feedback.CreateEvent(ctx, old))

	stats, err := store.Feedback.TopStats(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 4, stats[0].Total)
	assert.Equal(t, 2, stats[0].Success)
	assert.Equal(t, 1, stats[0].Errors)
	assert.Equal(t, 1, stats[0].Skipped)

	counts, err := store.Feedback.CountSince(ctx, models.ActionMerge, models.EntityTypeContact, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.WindowCounts{Total: 4, Success: 2}, counts)
}

func TestSuggestionRepository_OnePendingPerAction(t *testing.T) {
	store := getTestStore(t)
	ctx := getTestContext()

	first := &models.AutomationSuggestion{Action: models.ActionMerge, EntityType: models.EntityTypeContact, Confidence: 0.9}
	require.NoError(t, store.Suggestions.Create(ctx, first))
	assertStatus(t, store.Suggestions.Create(ctx, &models.AutomationSuggestion{Action: models.ActionMerge, EntityType: models.EntityTypeContact}), http.StatusConflict)

	require.NoError(t, store.Suggestions.Review(ctx, first.ID, models.SuggestionRejected, "ana"))
	assertStatus(t, store.Suggestions.Review(ctx, first.ID, models.SuggestionAccepted, "ana"), http.StatusConflict)
	require.NoError(t, store.Suggestions.Create(ctx, &models.AutomationSuggestion{Action: models.ActionMerge, EntityType: models.EntityTypeContact}))

	all, err := store.Suggestions.ListFor(ctx, models.ActionMerge, models.EntityTypeContact)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestWorkflowRepository_FindActive(t *testing.T) {
	store := getTestStore(t)
	ctx := getTestContext()

	none, err := store.Workflows.FindActive(ctx, models.ActionMerge, models.EntityTypeContact)
	require.NoError(t, err)
	assert.Nil(t, none)

	workflow := &models.Workflow{
		Name:       "Auto: merge contact",
		Action:     models.ActionMerge,
		EntityType: models.EntityTypeContact,
		Definition: database.NewJSONB(map[string]any{"trigger": models.ActionMerge, "entity_type": models.EntityTypeContact}),
		Status:     models.WorkflowStatusActive,
		CreatedBy:  appctx.SystemActor,
	}
	require.NoError(t, store.Workflows.Create(ctx, workflow))

	found, err := store.Workflows.FindActive(ctx, models.ActionMerge, models.EntityTypeContact)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, workflow.ID, found.ID)
}

func TestConnectionRepository_ListDueSpansTenants(t *testing.T) {
	store := getTestStore(t)
	ctxA, ctxB := getTestContext(), getTestContext()

	a := &models.Connection{Provider: "chatwoot", Name: "a", Enabled: true}
	b := &models.Connection{Provider: "rdstation", Name: "b", Enabled: true}
	disabled := &models.Connection{Provider: "pipefy", Name: "c"}
	require.NoError(t, store.Connections.Create(ctxA, a))
	require.NoError(t, store.Connections.Create(ctxB, b))
	require.NoError(t, store.Connections.Create(ctxB, disabled))
	require.NoError(t, store.Connections.MarkSynced(ctxA, a.ID, time.Now()))

	due, err := store.Connections.ListDue(context.Background(), time.Now().Add(-time.Minute), 1000)
	require.NoError(t, err)
	ids := map[uuid.UUID]bool{}
	for _, conn := range due {
		ids[conn.ID] = true
	}
	assert.True(t, ids[b.ID])
	assert.False(t, ids[a.ID])
	assert.False(t, ids[disabled.ID])

	run := &models.SyncRun{ConnectionID: b.ID, Provider: b.Provider, EntityType: models.EntityTypeContact, Direction: models.DirectionPull, Status: models.SyncStatusRunning}
	require.NoError(t, store.SyncRuns.Create(ctxB, run))
	run.Status = models.SyncStatusCompleted
	require.NoError(t, store.SyncRuns.Finish(ctxB, run))

	runs, err := store.SyncRuns.ListByConnection(ctxB, b.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.SyncStatusCompleted, runs[0].Status)
}
