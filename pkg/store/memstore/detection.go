package memstore

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

type detectionRunRepo struct {
	db *DB
}

func (r *detectionRunRepo) Create(ctx context.Context, run *models.DetectionRun) error {
	tenantID, err := repositories.GetTenantID(ctx)
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

	defer r.db.lock(ctx)()
	stored := *run
	stored.MemberIDs.Data = slices.Clone(run.MemberIDs.Data)
	stored.CandidateGroup.Data = slices.Clone(run.CandidateGroup.Data)
	r.db.data.runs[run.ID] = stored
	return nil
}

func (r *detectionRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.DetectionRun, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	run, ok := r.db.data.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, repositories.NotFound("detection run %s does not exist", id)
	}
	return &run, nil
}

func (r *detectionRunRepo) List(ctx context.Context, entityType string, status models.DetectionStatus) ([]models.DetectionRun, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.DetectionRun{}
	for _, run := range r.db.data.runs {
		if run.TenantID != tenantID {
			continue
		}
		if (entityType != "" && run.EntityType != entityType) || (status != "" && run.Status != status) {
			continue
		}
		out = append(out, run)
	}
	slices.SortFunc(out, func(a, b models.DetectionRun) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r *detectionRunRepo) Resolve(ctx context.Context, id uuid.UUID, status models.DetectionStatus) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}

	defer r.db.lock(ctx)()
	run, ok := r.db.data.runs[id]
	if !ok || run.TenantID != tenantID {
		return repositories.NotFound("detection run %s does not exist", id)
	}
	if run.Status != models.DetectionStatusPending {
		return repositories.Conflict("detection run %s is no longer pending", id)
	}
	now := time.Now().UTC()
	run.Status = status
	run.ResolvedAt = &now
	r.db.data.runs[id] = run
	return nil
}

func (r *detectionRunRepo) CountByStatus(ctx context.Context, entityType string) (map[models.DetectionStatus]int, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	counts := map[models.DetectionStatus]int{}
	for _, run := range r.db.data.runs {
		if run.TenantID == tenantID && (entityType == "" || run.EntityType == entityType) {
			counts[run.Status]++
		}
	}
	return counts, nil
}

type detectionJobRepo struct {
	db *DB
}

func (r *detectionJobRepo) Create(ctx context.Context, job *models.DetectionJob) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	job.TenantID = tenantID
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.StartedAt, job.UpdatedAt = now, now

	defer r.db.lock(ctx)()
	r.db.data.jobs[job.ID] = *job
	return nil
}

func (r *detectionJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.DetectionJob, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	job, ok := r.db.data.jobs[id]
	if !ok || job.TenantID != tenantID {
		return nil, repositories.NotFound("detection job %s does not exist", id)
	}
	return &job, nil
}

func (r *detectionJobRepo) Update(ctx context.Context, job *models.DetectionJob) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}

	defer r.db.lock(ctx)()
	current, ok := r.db.data.jobs[job.ID]
	if !ok || current.TenantID != tenantID {
		return repositories.NotFound("detection job %s does not exist", job.ID)
	}
	job.TenantID = tenantID
	job.StartedAt = current.StartedAt
	job.UpdatedAt = time.Now().UTC()
	r.db.data.jobs[job.ID] = *job
	return nil
}

func (r *detectionJobRepo) AddMatches(ctx context.Context, matches []models.DetectionMatch) error {
	if _, err := repositories.GetTenantID(ctx); err != nil {
		return err
	}

	defer r.db.lock(ctx)()
	for _, m := range matches {
		byPair, ok := r.db.data.matches[m.JobID]
		if !ok {
			byPair = map[matchKey]models.DetectionMatch{}
			r.db.data.matches[m.JobID] = byPair
		}
		key := matchKey{m.AID, m.BID}
		if _, exists := byPair[key]; exists {
			continue
		}
		m.Reasons.Data = slices.Clone(m.Reasons.Data)
		byPair[key] = m
	}
	return nil
}

func (r *detectionJobRepo) ListMatches(ctx context.Context, jobID uuid.UUID) ([]models.DetectionMatch, error) {
	if _, err := r.GetByID(ctx, jobID); err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.DetectionMatch{}
	for _, m := range r.db.data.matches[jobID] {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b models.DetectionMatch) int {
		if c := bytes.Compare(a.AID[:], b.AID[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.BID[:], b.BID[:])
	})
	return out, nil
}
