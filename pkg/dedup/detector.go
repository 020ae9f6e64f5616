// Package dedup finds groups of likely duplicate entities and turns them into reviewable
// detection runs.
//
// Detection compares every unordered pair of an entity type, so a pass is quadratic in the
// number of entities. Passes are checkpointed as jobs: candidates are processed in blocks ordered
// by id, each block is compared against every entity with a greater id, and the matches plus the
// block cursor are committed together. An interrupted job resumes after its last committed block.
package dedup

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/similarity"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Merger folds duplicates into a primary.
type Merger interface {
	Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error)
}

// EventRecorder receives feedback events for review decisions.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event *models.FeedbackEvent) error
}

type Config struct {
	MinSimilarity float64
	// BlockSize is the number of candidates committed per checkpoint.
	BlockSize int
	// PageSize is the page size used to stream comparison partners.
	PageSize int
	// MaxBlocksPerInvocation stops a job after that many blocks. Zero means run to completion.
	MaxBlocksPerInvocation int
	AutoMerge              bool
	AutoMergeThreshold     float64
}

func DefaultConfig() Config {
	return Config{
		MinSimilarity:      0.85,
		BlockSize:          100,
		PageSize:           500,
		AutoMerge:          false,
		AutoMergeThreshold: 0.95,
	}
}

type Detector struct {
	store    *repositories.Store
	scorer   *similarity.Scorer
	merger   Merger
	recorder EventRecorder
	emitter  *events.Emitter
	cfg      Config
	logger   ectologger.Logger
}

func NewDetector(store *repositories.Store, scorer *similarity.Scorer, merger Merger, recorder EventRecorder, emitter *events.Emitter, cfg Config, logger ectologger.Logger) *Detector {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultConfig().BlockSize
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = DefaultConfig().MinSimilarity
	}
	return &Detector{
		store:    store,
		scorer:   scorer,
		merger:   merger,
		recorder: recorder,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Detect starts a detection job for entityType. A zero minSimilarity uses the configured default.
// The returned job is completed unless the invocation stopped early, in which case it can be
// continued with Resume.
func (d *Detector) Detect(ctx context.Context, entityType string, minSimilarity float64) (*models.DetectionJob, error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.Detector.Detect")
	defer span.End()

	if entityType == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "entity_type is required")
	}
	if minSimilarity == 0 {
		minSimilarity = d.cfg.MinSimilarity
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "min_similarity must be between 0 and 1, got %v", minSimilarity)
	}

	job := &models.DetectionJob{
		EntityType: entityType,
		Threshold:  minSimilarity,
		Status:     models.JobStatusRunning,
	}
	if err := d.store.DetectionJobs.Create(ctx, job); err != nil {
		return nil, err
	}

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":         job.ID,
		"entity_type":    entityType,
		"min_similarity": minSimilarity,
	}).Info("Starting duplicate detection")

	return d.run(ctx, job)
}

// Resume continues a job from its checkpoint. Completed jobs are returned unchanged.
func (d *Detector) Resume(ctx context.Context, jobID uuid.UUID) (*models.DetectionJob, error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.Detector.Resume")
	defer span.End()

	job, err := d.store.DetectionJobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusCompleted {
		return job, nil
	}
	job.Status = models.JobStatusRunning
	job.Error = ""
	return d.run(ctx, job)
}

func (d *Detector) GetJob(ctx context.Context, jobID uuid.UUID) (*models.DetectionJob, error) {
	return d.store.DetectionJobs.GetByID(ctx, jobID)
}

// ListPending returns detection runs awaiting review. An empty entityType lists every type.
func (d *Detector) ListPending(ctx context.Context, entityType string) ([]models.DetectionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.Detector.ListPending")
	defer span.End()

	return d.store.DetectionRuns.List(ctx, entityType, models.DetectionStatusPending)
}

func (d *Detector) run(ctx context.Context, job *models.DetectionJob) (*models.DetectionJob, error) {
	log := d.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":      job.ID,
		"entity_type": job.EntityType,
	})

	for blocks := 0; ; blocks++ {
		if d.cfg.MaxBlocksPerInvocation > 0 && blocks >= d.cfg.MaxBlocksPerInvocation {
			log.WithFields(map[string]any{"compared": job.Compared, "matched": job.Matched}).Info("Detection paused at checkpoint")
			return job, nil
		}
		if err := ctx.Err(); err != nil {
			return job, err
		}

		more, err := d.processBlock(ctx, job)
		if err != nil {
			d.fail(ctx, job, err)
			return job, err
		}
		if !more {
			break
		}
	}

	groups, err := d.finalize(ctx, job)
	if err != nil {
		d.fail(ctx, job, err)
		return job, err
	}

	d.reportRuns(ctx, job.EntityType)
	d.emitter.DetectionCompleted(ctx, events.DetectionCompletedEvent{
		JobID:      job.ID.String(),
		EntityType: job.EntityType,
		Compared:   job.Compared,
		Matched:    job.Matched,
		Groups:     job.Groups,
	})
	log.WithFields(map[string]any{
		"compared": job.Compared,
		"matched":  job.Matched,
		"groups":   job.Groups,
	}).Info("Duplicate detection completed")

	d.autoMerge(ctx, job.EntityType, groups)
	return job, nil
}

// processBlock compares the next block of candidates and commits its matches with the advanced
// cursor. It reports false once no candidates remain after the cursor.
func (d *Detector) processBlock(ctx context.Context, job *models.DetectionJob) (bool, error) {
	after := uuid.Nil
	if job.Cursor != nil {
		after = *job.Cursor
	}

	block, err := d.store.Entities.ListPage(ctx, job.EntityType, after, d.cfg.BlockSize)
	if err != nil {
		return false, err
	}
	if len(block) == 0 {
		return false, nil
	}

	records := ectolinq.Map(block, toRecord)
	var compared int64
	matches := []models.DetectionMatch{}

	for i := range records {
		for j := i + 1; j < len(records); j++ {
			compared++
			if m, ok := d.compare(ctx, job, records[i], records[j]); ok {
				matches = append(matches, m)
			}
		}
	}

	pageAfter := block[len(block)-1].ID
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		partners, err := d.store.Entities.ListPage(ctx, job.EntityType, pageAfter, d.cfg.PageSize)
		if err != nil {
			return false, err
		}
		if len(partners) == 0 {
			break
		}
		for _, partner := range partners {
			other := toRecord(partner)
			for _, record := range records {
				compared++
				if m, ok := d.compare(ctx, job, record, other); ok {
					matches = append(matches, m)
				}
			}
		}
		pageAfter = partners[len(partners)-1].ID
	}

	cursor := block[len(block)-1].ID
	err = d.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if len(matches) > 0 {
			if err := d.store.DetectionJobs.AddMatches(ctx, matches); err != nil {
				return err
			}
		}
		job.Cursor = &cursor
		job.Compared += compared
		job.Matched += len(matches)
		return d.store.DetectionJobs.Update(ctx, job)
	})
	if err != nil {
		return false, err
	}

	metrics.RecordPairsCompared(job.EntityType, compared)
	return len(block) == d.cfg.BlockSize, nil
}

func (d *Detector) compare(ctx context.Context, job *models.DetectionJob, a, b similarity.Record) (models.DetectionMatch, bool) {
	result := d.scorer.Score(ctx, a, b)
	if result.Score < job.Threshold {
		return models.DetectionMatch{}, false
	}
	return models.DetectionMatch{
		JobID:      job.ID,
		AID:        uuid.MustParse(a.ID),
		BID:        uuid.MustParse(b.ID),
		Similarity: result.Score,
		Reasons:    database.NewJSONB(result.Reasons),
	}, true
}

// finalize clusters the job's matches and persists one pending run per group. Members deleted
// since their match was recorded are dropped, along with groups left with a single member.
func (d *Detector) finalize(ctx context.Context, job *models.DetectionJob) ([]models.DetectionRun, error) {
	var runs []models.DetectionRun

	err := d.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		runs = nil
		matches, err := d.store.DetectionJobs.ListMatches(ctx, job.ID)
		if err != nil {
			return err
		}

		set := newDisjointSet()
		for _, m := range matches {
			set.union(m.AID, m.BID)
		}

		for _, members := range set.groups() {
			entities, err := d.store.Entities.GetByIDs(ctx, members)
			if err != nil {
				return err
			}
			if len(entities) < 2 {
				continue
			}

			run := newRun(job, entities, matches)
			if err := d.store.DetectionRuns.Create(ctx, &run); err != nil {
				return err
			}
			runs = append(runs, run)
		}

		now := time.Now().UTC()
		job.Status = models.JobStatusCompleted
		job.Groups = len(runs)
		job.FinishedAt = &now
		return d.store.DetectionJobs.Update(ctx, job)
	})
	return runs, err
}

// newRun builds the pending run for a group. The primary is the earliest created member, ties
// broken by the lowest id.
func newRun(job *models.DetectionJob, entities []models.Entity, matches []models.DetectionMatch) models.DetectionRun {
	slices.SortFunc(entities, func(a, b models.Entity) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})

	members := ectolinq.Map(entities, func(e models.Entity) uuid.UUID { return e.ID })
	pairs := []models.CandidatePair{}
	for _, m := range matches {
		if !ectolinq.Contains(members, m.AID) || !ectolinq.Contains(members, m.BID) {
			continue
		}
		pairs = append(pairs, models.CandidatePair{
			PrimaryRef:   m.AID,
			DuplicateRef: m.BID,
			Similarity:   m.Similarity,
			Reasons:      m.Reasons.Data,
		})
	}

	jobID := job.ID
	return models.DetectionRun{
		EntityType:     job.EntityType,
		JobID:          &jobID,
		Status:         models.DetectionStatusPending,
		PrimaryID:      members[0],
		MemberIDs:      database.NewJSONB(members),
		CandidateGroup: database.NewJSONB(pairs),
	}
}

func (d *Detector) fail(ctx context.Context, job *models.DetectionJob, cause error) {
	job.Status = models.JobStatusFailed
	job.Error = cause.Error()
	if err := d.store.DetectionJobs.Update(context.WithoutCancel(ctx), job); err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to mark detection job failed")
	}
}

func (d *Detector) reportRuns(ctx context.Context, entityType string) {
	counts, err := d.store.DetectionRuns.CountByStatus(ctx, entityType)
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to count detection runs")
		return
	}
	tenantID := appctx.GetTenantID(ctx)
	for _, status := range []models.DetectionStatus{
		models.DetectionStatusPending,
		models.DetectionStatusMerged,
		models.DetectionStatusRejected,
		models.DetectionStatusIgnored,
	} {
		metrics.SetDedupRuns(tenantID, entityType, string(status), counts[status])
	}
}

// autoMerge merges groups whose weakest pair clears the auto merge threshold, but only while an
// ACTIVE merge workflow exists for the entity type.
func (d *Detector) autoMerge(ctx context.Context, entityType string, runs []models.DetectionRun) {
	if !d.cfg.AutoMerge || d.merger == nil || len(runs) == 0 {
		return
	}
	log := d.logger.WithContext(ctx).WithFields(map[string]any{"entity_type": entityType})

	workflow, err := d.store.Workflows.FindActive(ctx, models.ActionMerge, entityType)
	if err != nil {
		log.WithError(err).Warn("Failed to look up merge workflow")
		return
	}
	if workflow == nil {
		return
	}

	ctx = appctx.SetActorID(ctx, appctx.SystemActor)
	for _, run := range runs {
		if weakestPair(run) < d.cfg.AutoMergeThreshold {
			continue
		}
		runID := run.ID
		_, err := d.merger.Merge(ctx, models.MergeRequest{
			PrimaryID:      run.PrimaryID,
			DuplicateIDs:   run.DuplicateIDs(),
			EntityType:     run.EntityType,
			DetectionRunID: &runID,
		})
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"detection_run_id": run.ID}).Warn("Automatic merge failed")
			continue
		}
		log.WithFields(map[string]any{"detection_run_id": run.ID}).Info("Automatically merged duplicate group")
	}
}

func weakestPair(run models.DetectionRun) float64 {
	if len(run.CandidateGroup.Data) == 0 {
		return 0
	}
	weakest := 1.0
	for _, pair := range run.CandidateGroup.Data {
		weakest = min(weakest, pair.Similarity)
	}
	return weakest
}

// toRecord projects an entity for scoring. Manually created entities carry no provider source.
func toRecord(e models.Entity) similarity.Record {
	source := e.Source
	if source == models.SourceManual {
		source = ""
	}
	return similarity.Record{
		ID:           e.ID.String(),
		Name:         e.Name,
		Email:        e.Email,
		Phone:        e.Phone,
		Organization: e.Organization,
		Source:       source,
	}
}
