package dedup

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

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/feedback"
	"github.com/Ramsey-B/clover/pkg/keylock"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/similarity"
	"github.com/Ramsey-B/clover/pkg/store/memstore"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fixture struct {
	ctx      context.Context
	store    *repositories.Store
	detector *Detector
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := getTestLogger()
	store := memstore.NewStore()
	emitter := events.NewEmitter(nil, logger)
	tracker := feedback.NewTracker(store, nil, feedback.DefaultConfig(), logger)
	engine := merging.NewEngine(store, keylock.NewLocal(), emitter, tracker, merging.DefaultConfig(), logger)
	scorer := similarity.NewScorer(similarity.DefaultConfig(), nil, logger)
	return &fixture{
		ctx:      appctx.WithTenant(context.Background(), uuid.NewString(), "ana"),
		store:    store,
		detector: NewDetector(store, scorer, engine, tracker, emitter, cfg, logger),
	}
}

func (f *fixture) create(t *testing.T, e models.Entity) models.Entity {
	t.Helper()
	e.EntityType = models.EntityTypeContact
	require.NoError(t, f.store.Entities.Create(f.ctx, &e))
	return e
}

// seed creates two duplicate groups and one unrelated contact.
func (f *fixture) seed(t *testing.T) (anaFirst, anaSecond, brunoFirst, brunoSecond models.Entity) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	anaSecond = f.create(t, models.Entity{Name: "Ana S.", Email: "ANA@example.com ", CreatedAt: base.Add(time.Hour)})
	anaFirst = f.create(t, models.Entity{Name: "Ana Souza", Email: "ana@example.com", CreatedAt: base})
	brunoFirst = f.create(t, models.Entity{Name: "Bruno", Phone: "+55 (11) 99999-0000", CreatedAt: base})
	brunoSecond = f.create(t, models.Entity{Name: "Bruno Lima", Phone: "5511999990000", CreatedAt: base.Add(time.Minute)})
	f.create(t, models.Entity{Name: "Zed Quartz", Organization: "Umbrella", CreatedAt: base})
	return
}

func runsForJob(t *testing.T, f *fixture, jobID uuid.UUID) map[uuid.UUID][]uuid.UUID {
	t.Helper()
	runs, err := f.detector.ListPending(f.ctx, models.EntityTypeContact)
	require.NoError(t, err)
	out := map[uuid.UUID][]uuid.UUID{}
	for _, run := range runs {
		if run.JobID != nil && *run.JobID == jobID {
			out[run.PrimaryID] = run.MemberIDs.Data
		}
	}
	return out
}

func TestDetect_GroupsDuplicates(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	anaFirst, anaSecond, brunoFirst, brunoSecond := f.seed(t)

	job, err := f.detector.Detect(f.ctx, models.EntityTypeContact, 0)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 0.85, job.Threshold)
	assert.Equal(t, int64(10), job.Compared)
	assert.Equal(t, 2, job.Matched)
	assert.Equal(t, 2, job.Groups)
	assert.NotNil(t, job.FinishedAt)

	groups := runsForJob(t, f, job.ID)
	require.Len(t, groups, 2)
	assert.ElementsMatch(t, []uuid.UUID{anaFirst.ID, anaSecond.ID}, groups[anaFirst.ID])
	assert.ElementsMatch(t, []uuid.UUID{brunoFirst.ID, brunoSecond.ID}, groups[brunoFirst.ID])

	runs, err := f.detector.ListPending(f.ctx, models.EntityTypeContact)
	require.NoError(t, err)
	for _, run := range runs {
		require.Len(t, run.CandidateGroup.Data, 1)
		assert.GreaterOrEqual(t, run.CandidateGroup.Data[0].Similarity, 0.95)
	}
}

func TestDetect_ResumedJobMatchesSinglePass(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockSize = 2
	cfg.MaxBlocksPerInvocation = 1
	f := newFixture(t, cfg)
	f.seed(t)

	job, err := f.detector.Detect(f.ctx, models.EntityTypeContact, 0.85)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	require.NotNil(t, job.Cursor)

	for i := 0; i < 10 && job.Status != models.JobStatusCompleted; i++ {
		job, err = f.detector.Resume(f.ctx, job.ID)
		require.NoError(t, err)
	}
	require.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(10), job.Compared)
	checkpointed := runsForJob(t, f, job.ID)

	f.detector.cfg.MaxBlocksPerInvocation = 0
	single, err := f.detector.Detect(f.ctx, models.EntityTypeContact, 0.85)
	require.NoError(t, err)

	assert.Equal(t, runsForJob(t, f, single.ID), checkpointed)

	again, err := f.detector.Resume(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Groups, again.Groups)
}

func TestDetect_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.detector.Detect(f.ctx, "", 0.9)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	_, err = f.detector.Detect(f.ctx, models.EntityTypeContact, 1.5)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestDetect_AutoMergesWithActiveWorkflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoMerge = true
	f := newFixture(t, cfg)
	anaFirst, anaSecond, _, _ := f.seed(t)

	require.NoError(t, f.store.Workflows.Create(f.ctx, &models.Workflow{
		Name:       "Auto: merge contact",
		Action:     models.ActionMerge,
		EntityType: models.EntityTypeContact,
		Status:     models.WorkflowStatusActive,
		CreatedBy:  appctx.SystemActor,
	}))

	_, err := f.detector.Detect(f.ctx, models.EntityTypeContact, 0)
	require.NoError(t, err)

	_, err = f.store.Entities.GetByID(f.ctx, anaSecond.ID)
	assert.True(t, repositories.IsNotFound(err))
	_, err = f.store.Entities.GetByID(f.ctx, anaFirst.ID)
	require.NoError(t, err)

	history, err := f.store.Ledger.List(f.ctx, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, appctx.SystemActor, history[0].ActorID)

	pending, err := f.detector.ListPending(f.ctx, models.EntityTypeContact)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDetect_SameNameDifferentContactsStaySeparate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoMerge = true
	f := newFixture(t, cfg)
	require.NoError(t, f.store.Workflows.Create(f.ctx, &models.Workflow{
		Name:       "Auto: merge contact",
		Action:     models.ActionMerge,
		EntityType: models.EntityTypeContact,
		Status:     models.WorkflowStatusActive,
		CreatedBy:  appctx.SystemActor,
	}))

	first := f.create(t, models.Entity{Name: "John Smith", Email: "john.smith@acme.com", Phone: "+1 555 0100"})
	second := f.create(t, models.Entity{Name: "John Smith", Email: "jsmith@globex.com", Phone: "+1 555 0199"})

	job, err := f.detector.Detect(f.ctx, models.EntityTypeContact, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), job.Compared)
	assert.Equal(t, 0, job.Matched)
	assert.Equal(t, 0, job.Groups)

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		_, err := f.store.Entities.GetByID(f.ctx, id)
		assert.NoError(t, err)
	}
	history, err := f.store.Ledger.List(f.ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDetect_NoAutoMergeWithoutWorkflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoMerge = true
	f := newFixture(t, cfg)
	f.seed(t)

	_, err := f.detector.Detect(f.ctx, models.EntityTypeContact, 0)
	require.NoError(t, err)

	pending, err := f.detector.ListPending(f.ctx, models.EntityTypeContact)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestNewRun_PrimaryTieBreak(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	job := &models.DetectionJob{ID: uuid.New(), EntityType: models.EntityTypeContact}

	run := newRun(job, []models.Entity{{ID: high, CreatedAt: at}, {ID: low, CreatedAt: at}}, []models.DetectionMatch{
		{AID: low, BID: high, Similarity: 0.9},
		{AID: low, BID: uuid.New(), Similarity: 0.99},
	})

	assert.Equal(t, low, run.PrimaryID)
	assert.Equal(t, []uuid.UUID{high}, run.DuplicateIDs())
	require.Len(t, run.CandidateGroup.Data, 1)
	assert.Equal(t, 0.9, weakestPair(run))
}
