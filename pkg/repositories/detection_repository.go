package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	detectionRunsTable    = "detection_runs"
	detectionJobsTable    = "detection_jobs"
	detectionMatchesTable = "detection_job_matches"
)

var (
	detectionRunStruct   = database.NewStruct(new(models.DetectionRun))
	detectionJobStruct   = database.NewStruct(new(models.DetectionJob))
	detectionMatchStruct = database.NewStruct(new(models.DetectionMatch))
)

// DetectionRunRepository handles duplicate groups
type DetectionRunRepository struct {
	*Repository
}

// NewDetectionRunRepository creates a new detection run repository
func NewDetectionRunRepository(db database.DB, logger ectologger.Logger) *DetectionRunRepository {
	return &DetectionRunRepository{Repository: NewRepository(db, logger)}
}

// Create stores a new duplicate group
func (r *DetectionRunRepository) Create(ctx context.Context, run *models.DetectionRun) error {
	ctx, span := tracing.StartSpan(ctx, "DetectionRunRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	run.TenantID = tenantID
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.DetectionStatusPending
	}
	run.CreatedAt = time.Now().UTC()

	ib := detectionRunStruct.InsertInto(detectionRunsTable, run)
	query, args := ib.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create detection run")
		return internalError("failed to create detection run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"detection_run_id": run.ID,
		"members":          len(run.MemberIDs.Data),
	}).Debugf("Created %s", detectionRunsTable)
	return nil
}

// GetByID retrieves a detection run (tenant-scoped)
func (r *DetectionRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DetectionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "DetectionRunRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := detectionRunStruct.SelectFrom(detectionRunsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var run models.DetectionRun
	err = r.Conn(ctx).GetContext(ctx, &run, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("detection run %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get detection run")
		return nil, internalError("failed to get detection run")
	}
	return &run, nil
}

// List lists detection runs, newest first
func (r *DetectionRunRepository) List(ctx context.Context, entityType string, status models.DetectionStatus) ([]models.DetectionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "DetectionRunRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := detectionRunStruct.SelectFrom(detectionRunsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	if entityType != "" {
		sb.Where(sb.Equal("entity_type", entityType))
	}
	if status != "" {
		sb.Where(sb.Equal("status", status))
	}
	sb.OrderBy("created_at").Desc()

	query, args := sb.Build()
	runs := []models.DetectionRun{}
	if err := r.Conn(ctx).SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list detection runs")
		return nil, internalError("failed to list detection runs")
	}
	return runs, nil
}

// Resolve moves a pending run to a terminal status
func (r *DetectionRunRepository) Resolve(ctx context.Context, id uuid.UUID, status models.DetectionStatus) error {
	ctx, span := tracing.StartSpan(ctx, "DetectionRunRepository.Resolve")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(detectionRunsTable).
		Set(ub.Assign("status", status), ub.Assign("resolved_at", database.Now())).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id), ub.Equal("status", models.DetectionStatusPending))

	query, args := ub.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to resolve detection run")
		return internalError("failed to resolve detection run")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return Conflict("detection run %s is no longer pending", id)
	}
	return nil
}

// CountByStatus counts runs per status
func (r *DetectionRunRepository) CountByStatus(ctx context.Context, entityType string) (map[models.DetectionStatus]int, error) {
	ctx, span := tracing.StartSpan(ctx, "DetectionRunRepository.CountByStatus")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder()
	sb.Select("status", "COUNT(*)").From(detectionRunsTable).Where(sb.Equal("tenant_id", tenantID))
	if entityType != "" {
		sb.Where(sb.Equal("entity_type", entityType))
	}
	sb.GroupBy("status")

	query, args := sb.Build()
	rows, err := r.Conn(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count detection runs")
		return nil, internalError("failed to count detection runs")
	}
	defer rows.Close()

	counts := map[models.DetectionStatus]int{}
	for rows.Next() {
		var status models.DetectionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, internalError("failed to count detection runs")
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// DetectionJobRepository handles detection checkpoints
type DetectionJobRepository struct {
	*Repository
}

// NewDetectionJobRepository creates a new detection job repository
func NewDetectionJobRepository(db database.DB, logger ectologger.Logger) *DetectionJobRepository {
	return &DetectionJobRepository{Repository: NewRepository(db, logger)}
}

// Create stores a new job
func (r *DetectionJobRepository) Create(ctx context.Context, job *models.DetectionJob) error {
	ctx, span := tracing.StartSpan(ctx, "DetectionJobRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	job.TenantID = tenantID
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.StartedAt, job.UpdatedAt = now, now

	query, args := detectionJobStruct.InsertInto(detectionJobsTable, job).Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create detection job")
		return internalError("failed to create detection job")
	}
	return nil
}

// GetByID retrieves a job (tenant-scoped)
func (r *DetectionJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DetectionJob, error) {
	ctx, span := tracing.StartSpan(ctx, "DetectionJobRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := detectionJobStruct.SelectFrom(detectionJobsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var job models.DetectionJob
	err = r.Conn(ctx).GetContext(ctx, &job, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("detection job %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get detection job")
		return nil, internalError("failed to get detection job")
	}
	return &job, nil
}

// Update saves progress of a job
func (r *DetectionJobRepository) Update(ctx context.Context, job *models.DetectionJob) error {
	ctx, span := tracing.StartSpan(ctx, "DetectionJobRepository.Update")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()

	ub := database.NewUpdateBuilder()
	ub.Update(detectionJobsTable).
		Set(
			ub.Assign("status", job.Status),
			ub.Assign("cursor_id", job.Cursor),
			ub.Assign("compared", job.Compared),
			ub.Assign("matched", job.Matched),
			ub.Assign("group_count", job.Groups),
			ub.Assign("error", job.Error),
			ub.Assign("updated_at", job.UpdatedAt),
			ub.Assign("finished_at", job.FinishedAt),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", job.ID))

	query, args := ub.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to update detection job")
		return internalError("failed to update detection job")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("detection job %s does not exist", job.ID)
	}
	return nil
}

// AddMatches persists matched pairs of a job. Re-adding a pair is a no-op.
func (r *DetectionJobRepository) AddMatches(ctx context.Context, matches []models.DetectionMatch) error {
	ctx, span := tracing.StartSpan(ctx, "DetectionJobRepository.AddMatches")
	defer span.End()

	if _, err := GetTenantID(ctx); err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(detectionMatchesTable).Cols("job_id", "a_id", "b_id", "similarity", "reasons")
	for _, m := range matches {
		ib.Values(m.JobID, m.AID, m.BID, m.Similarity, m.Reasons)
	}
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to add detection matches")
		return internalError("failed to add detection matches")
	}
	return nil
}

// ListMatches lists every matched pair of a job
func (r *DetectionJobRepository) ListMatches(ctx context.Context, jobID uuid.UUID) ([]models.DetectionMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "DetectionJobRepository.ListMatches")
	defer span.End()

	if _, err := r.GetByID(ctx, jobID); err != nil {
		return nil, err
	}

	sb := detectionMatchStruct.SelectFrom(detectionMatchesTable)
	sb.Where(sb.Equal("job_id", jobID))
	sb.OrderBy("a_id", "b_id")

	query, args := sb.Build()
	matches := []models.DetectionMatch{}
	if err := r.Conn(ctx).SelectContext(ctx, &matches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list detection matches")
		return nil, internalError("failed to list detection matches")
	}
	return matches, nil
}
