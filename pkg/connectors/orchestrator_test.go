package connectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/expressions"
	"github.com/Ramsey-B/clover/pkg/fingerprint"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store/memstore"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func testContext() context.Context {
	return appctx.WithTenant(context.Background(), uuid.NewString(), "tester")
}

type fakeConnector struct {
	records  map[string][]ExternalRecord
	fetchErr error
	pushErr  error
	pushed   []map[string]any
}

func (f *fakeConnector) Provider() string      { return "fake" }
func (f *fakeConnector) EntityTypes() []string { return []string{"contact", "conversation"} }
func (f *fakeConnector) TestConnection(context.Context) (bool, error) {
	return true, nil
}

func (f *fakeConnector) Pull(_ context.Context, entityType string, _ *time.Time) ([]ExternalRecord, error) {
	return f.records[entityType], f.fetchErr
}

func (f *fakeConnector) ToInternal(entityType string, raw map[string]any) (*models.EntityFields, error) {
	name, _ := raw["name"].(string)
	if name == "" {
		return nil, apperrors.NewValidationError("name", "required")
	}
	fields := &models.EntityFields{Name: name, CustomFields: models.CustomFields{}}
	fields.Email, _ = raw["email"].(string)
	fields.CustomFields.SetProvenance("fake", "id", raw["id"])
	if parent, ok := raw["contact_id"].(string); ok {
		fields.Links = []models.ExternalLink{{Kind: entityType, EntityType: "contact", ExternalID: parent}}
	}
	return fields, nil
}

func (f *fakeConnector) ToExternal(_ string, entity *models.Entity) (map[string]any, error) {
	return map[string]any{"name": entity.Name, "email": entity.Email}, nil
}

func (f *fakeConnector) Push(_ context.Context, _ string, externalID string, payload map[string]any) (string, error) {
	if f.pushErr != nil {
		return "", f.pushErr
	}
	f.pushed = append(f.pushed, payload)
	if externalID == "" {
		return "ext-new", nil
	}
	return externalID, nil
}

func record(id string, payload map[string]any) ExternalRecord {
	payload["id"] = id
	return ExternalRecord{ExternalID: id, Fingerprint: fingerprint.Generate(payload), Payload: payload}
}

func TestPull_CreateSkipUpdate(t *testing.T) {
	ctx := testContext()
	store := memstore.NewStore()
	orch := NewOrchestrator(store, getTestLogger())
	conn := &fakeConnector{records: map[string][]ExternalRecord{
		"contact": {record("1", map[string]any{"name": "Ana", "email": "ana@x.com"})},
	}}

	first := orch.Pull(ctx, conn, "contact", nil)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 0, first.Errors)

	second := orch.Pull(ctx, conn, "contact", nil)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Skipped)

	conn.records["contact"] = []ExternalRecord{record("1", map[string]any{"name": "Ana Maria", "email": "ana@x.com"})}
	third := orch.Pull(ctx, conn, "contact", nil)
	assert.Equal(t, 1, third.Updated)

	mapping, err := store.Mappings.Find(ctx, "fake", "contact", "1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, conn.records["contact"][0].Fingerprint, mapping.Fingerprint)

	entity, err := store.Entities.GetByID(ctx, mapping.InternalID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", entity.Name)
	assert.Equal(t, "fake", entity.Source)
	id, ok := entity.CustomFields.Get("source.fake.id")
	assert.True(t, ok)
	assert.Equal(t, "1", id)
}

func TestPull_RecordFailuresDoNotAbortBatch(t *testing.T) {
	ctx := testContext()
	store := memstore.NewStore()
	orch := NewOrchestrator(store, getTestLogger())
	conn := &fakeConnector{records: map[string][]ExternalRecord{
		"contact": {
			record("1", map[string]any{"name": "Ana"}),
			record("2", map[string]any{"name": ""}),
			record("3", map[string]any{"name": "Bruno"}),
		},
	}}

	result := orch.Pull(ctx, conn, "contact", nil)

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Errors)
	require.Len(t, result.ErrorMessages, 1)
	assert.Contains(t, result.ErrorMessages[0], "contact 2")

	mapping, err := store.Mappings.Find(ctx, "fake", "contact", "2")
	require.NoError(t, err)
	assert.Nil(t, mapping)
}

func TestPull_FetchFailureIsReportedInResult(t *testing.T) {
	orch := NewOrchestrator(memstore.NewStore(), getTestLogger())
	conn := &fakeConnector{fetchErr: &apperrors.TransientProviderError{Provider: "fake", StatusCode: 503, Err: errors.New("unavailable")}}

	result := orch.Pull(testContext(), conn, "contact", nil)

	assert.Equal(t, 1, result.Errors)
	require.Len(t, result.ErrorMessages, 1)
	assert.Contains(t, result.ErrorMessages[0], "unavailable")
	assert.True(t, result.FetchFailed)
}

func TestPull_TruncatedFetchKeepsRecordsAndReportsError(t *testing.T) {
	ctx := testContext()
	orch := NewOrchestrator(memstore.NewStore(), getTestLogger())
	conn := &fakeConnector{
		records: map[string][]ExternalRecord{
			"contact": {record("1", map[string]any{"name": "Ana"}), record("2", map[string]any{"name": "Bruno"})},
		},
		fetchErr: Truncated("fake", "contact", 50),
	}

	result := orch.Pull(ctx, conn, "contact", nil)

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Errors)
	assert.False(t, result.FetchFailed)
	require.Len(t, result.ErrorMessages, 1)
	assert.Contains(t, result.ErrorMessages[0], "stopped after 50 pages")
}

func TestPull_FingerprintComputedWhenMissing(t *testing.T) {
	ctx := testContext()
	orch := NewOrchestrator(memstore.NewStore(), getTestLogger())
	conn := &fakeConnector{records: map[string][]ExternalRecord{
		"contact": {{ExternalID: "9", Payload: map[string]any{"name": "Caio", "id": "9"}}},
	}}

	assert.Equal(t, 1, orch.Pull(ctx, conn, "contact", nil).Created)
	assert.Equal(t, 1, orch.Pull(ctx, conn, "contact", nil).Skipped)
}

func TestPull_LinksChildToParent(t *testing.T) {
	ctx := testContext()
	store := memstore.NewStore()
	orch := NewOrchestrator(store, getTestLogger())
	conn := &fakeConnector{records: map[string][]ExternalRecord{
		"contact":      {record("c1", map[string]any{"name": "Ana"})},
		"conversation": {record("v1", map[string]any{"name": "Chat", "contact_id": "c1"})},
	}}

	orch.Pull(ctx, conn, "contact", nil)
	result := orch.Pull(ctx, conn, "conversation", nil)
	require.Equal(t, 1, result.Created)

	contact, err := store.Mappings.Find(ctx, "fake", "contact", "c1")
	require.NoError(t, err)
	rels, err := store.Relationships.ListByEntity(ctx, contact.InternalID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "conversation", rels[0].Kind)
	assert.Equal(t, contact.InternalID, rels[0].FromID)
}

func TestPull_TenantsAreIsolated(t *testing.T) {
	store := memstore.NewStore()
	orch := NewOrchestrator(store, getTestLogger())
	conn := &fakeConnector{records: map[string][]ExternalRecord{
		"contact": {record("1", map[string]any{"name": "Ana"})},
	}}

	assert.Equal(t, 1, orch.Pull(testContext(), conn, "contact", nil).Created)
	assert.Equal(t, 1, orch.Pull(testContext(), conn, "contact", nil).Created)
}

func TestPush_CreatesThenSkipsUnchanged(t *testing.T) {
	ctx := testContext()
	store := memstore.NewStore()
	orch := NewOrchestrator(store, getTestLogger())
	conn := &fakeConnector{}

	entity := &models.Entity{EntityType: "contact", Name: "Ana", Email: "ana@x.com"}
	require.NoError(t, store.Entities.Create(ctx, entity))

	first, err := orch.Push(ctx, conn, "contact", entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, first.Action)
	assert.Equal(t, "ext-new", first.ExternalID)

	second, err := orch.Push(ctx, conn, "contact", entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, second.Action)
	assert.Len(t, conn.pushed, 1)

	entity.Name = "Ana Maria"
	require.NoError(t, store.Entities.Update(ctx, entity))
	third, err := orch.Push(ctx, conn, "contact", entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, third.Action)
	assert.Equal(t, "ext-new", third.ExternalID)
}

func TestPush_ProviderFailureIsReported(t *testing.T) {
	ctx := testContext()
	store := memstore.NewStore()
	orch := NewOrchestrator(store, getTestLogger())
	conn := &fakeConnector{pushErr: errors.New("rejected")}

	entity := &models.Entity{EntityType: "contact", Name: "Ana"}
	require.NoError(t, store.Entities.Create(ctx, entity))

	result, err := orch.Push(ctx, conn, "contact", entity.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, result.Action)
	assert.Equal(t, "rejected", result.Error)
}

func TestPush_MissingEntity(t *testing.T) {
	orch := NewOrchestrator(memstore.NewStore(), getTestLogger())
	_, err := orch.Push(testContext(), &fakeConnector{}, "contact", uuid.New())
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(Deps{Evaluator: expressions.NewEvaluator(), Logger: getTestLogger()})
	registry.Register("fake", func(models.Connection, Deps) (Connector, error) { return &fakeConnector{}, nil })

	conn, err := registry.Build(models.Connection{Provider: "fake"})
	require.NoError(t, err)
	assert.Equal(t, "fake", conn.Provider())

	_, err = registry.Build(models.Connection{Provider: "nope"})
	assert.Error(t, err)
	assert.Equal(t, []string{"fake"}, registry.Providers())
}
