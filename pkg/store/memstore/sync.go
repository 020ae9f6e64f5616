package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

type connectionRepo struct {
	db *DB
}

func (r *connectionRepo) Create(ctx context.Context, conn *models.Connection) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	conn.TenantID = tenantID
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	if conn.EntityTypes == nil {
		conn.EntityTypes = pq.StringArray{}
	}
	now := time.Now().UTC()
	conn.CreatedAt, conn.UpdatedAt = now, now

	defer r.db.lock(ctx)()
	r.db.data.connections[conn.ID] = cloneConnection(*conn)
	return nil
}

func (r *connectionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	conn, ok := r.db.data.connections[id]
	if !ok || conn.TenantID != tenantID {
		return nil, repositories.NotFound("connection %s does not exist", id)
	}
	conn = cloneConnection(conn)
	return &conn, nil
}

func (r *connectionRepo) List(ctx context.Context) ([]models.Connection, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.Connection{}
	for _, conn := range r.db.data.connections {
		if conn.TenantID == tenantID {
			out = append(out, cloneConnection(conn))
		}
	}
	slices.SortFunc(out, func(a, b models.Connection) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r *connectionRepo) Update(ctx context.Context, conn *models.Connection) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}

	defer r.db.lock(ctx)()
	current, ok := r.db.data.connections[conn.ID]
	if !ok || current.TenantID != tenantID {
		return repositories.NotFound("connection %s does not exist", conn.ID)
	}
	conn.UpdatedAt = time.Now().UTC()
	current.Name = conn.Name
	current.Config = conn.Config
	current.EntityTypes = conn.EntityTypes
	current.Enabled = conn.Enabled
	current.UpdatedAt = conn.UpdatedAt
	r.db.data.connections[conn.ID] = cloneConnection(current)
	return nil
}

func (r *connectionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}

	defer r.db.lock(ctx)()
	conn, ok := r.db.data.connections[id]
	if !ok || conn.TenantID != tenantID {
		return repositories.NotFound("connection %s does not exist", id)
	}
	delete(r.db.data.connections, id)
	for runID, run := range r.db.data.syncRuns {
		if run.ConnectionID == id {
			delete(r.db.data.syncRuns, runID)
		}
	}
	return nil
}

func (r *connectionRepo) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}

	defer r.db.lock(ctx)()
	conn, ok := r.db.data.connections[id]
	if !ok || conn.TenantID != tenantID {
		return nil
	}
	conn.LastSyncAt = &at
	r.db.data.connections[id] = conn
	return nil
}

func (r *connectionRepo) ListDue(ctx context.Context, cutoff time.Time, limit int) ([]models.Connection, error) {
	defer r.db.lock(ctx)()
	out := []models.Connection{}
	for _, conn := range r.db.data.connections {
		if !conn.Enabled {
			continue
		}
		if conn.LastSyncAt == nil || conn.LastSyncAt.Before(cutoff) {
			out = append(out, cloneConnection(conn))
		}
	}
	slices.SortFunc(out, func(a, b models.Connection) int {
		switch {
		case a.LastSyncAt == nil && b.LastSyncAt == nil:
			return a.CreatedAt.Compare(b.CreatedAt)
		case a.LastSyncAt == nil:
			return -1
		case b.LastSyncAt == nil:
			return 1
		}
		return a.LastSyncAt.Compare(*b.LastSyncAt)
	})
	return page(out, limit, 0), nil
}

func cloneConnection(conn models.Connection) models.Connection {
	conn.EntityTypes = slices.Clone(conn.EntityTypes)
	if conn.LastSyncAt != nil {
		at := *conn.LastSyncAt
		conn.LastSyncAt = &at
	}
	return conn
}

type syncRunRepo struct {
	db *DB
}

func (r *syncRunRepo) Create(ctx context.Context, run *models.SyncRun) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	run.TenantID = tenantID
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.SyncStatusRunning
	}
	run.StartedAt = time.Now().UTC()

	defer r.db.lock(ctx)()
	r.db.data.syncRuns[run.ID] = *run
	return nil
}

func (r *syncRunRepo) Finish(ctx context.Context, run *models.SyncRun) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}

	defer r.db.lock(ctx)()
	current, ok := r.db.data.syncRuns[run.ID]
	if !ok || current.TenantID != tenantID {
		return repositories.NotFound("sync run %s does not exist", run.ID)
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	current.Status = run.Status
	current.Stats = run.Stats
	current.Stats.Data.ErrorMessages = slices.Clone(run.Stats.Data.ErrorMessages)
	current.FinishedAt = &now
	r.db.data.syncRuns[run.ID] = current
	return nil
}

func (r *syncRunRepo) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]models.SyncRun, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.SyncRun{}
	for _, run := range r.db.data.syncRuns {
		if run.TenantID == tenantID && run.ConnectionID == connectionID {
			out = append(out, run)
		}
	}
	slices.SortFunc(out, func(a, b models.SyncRun) int { return b.StartedAt.Compare(a.StartedAt) })
	return page(out, limit, 0), nil
}
