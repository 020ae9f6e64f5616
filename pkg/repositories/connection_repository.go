package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	connectionsTable = "connections"
	syncRunsTable    = "sync_runs"
)

var (
	connectionStruct = database.NewStruct(new(models.Connection))
	syncRunStruct    = database.NewStruct(new(models.SyncRun))
)

// ConnectionRepository handles provider connections
type ConnectionRepository struct {
	*Repository
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db database.DB, logger ectologger.Logger) *ConnectionRepository {
	return &ConnectionRepository{Repository: NewRepository(db, logger)}
}

func (r *ConnectionRepository) Create(ctx context.Context, conn *models.Connection) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectionRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
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

	query, args := connectionStruct.InsertInto(connectionsTable, conn).Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create connection")
		return internalError("failed to create connection")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connection_id": conn.ID,
		"provider":      conn.Provider,
	}).Debugf("Created %s", connectionsTable)
	return nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "ConnectionRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := connectionStruct.SelectFrom(connectionsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var conn models.Connection
	err = r.Conn(ctx).GetContext(ctx, &conn, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("connection %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get connection")
		return nil, internalError("failed to get connection")
	}
	return &conn, nil
}

func (r *ConnectionRepository) List(ctx context.Context) ([]models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "ConnectionRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := connectionStruct.SelectFrom(connectionsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	conns := []models.Connection{}
	if err := r.Conn(ctx).SelectContext(ctx, &conns, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list connections")
		return nil, internalError("failed to list connections")
	}
	return conns, nil
}

func (r *ConnectionRepository) Update(ctx context.Context, conn *models.Connection) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectionRepository.Update")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	conn.UpdatedAt = time.Now().UTC()

	ub := database.NewUpdateBuilder()
	ub.Update(connectionsTable).
		Set(
			ub.Assign("name", conn.Name),
			ub.Assign("config", conn.Config),
			ub.Assign("entity_types", conn.EntityTypes),
			ub.Assign("enabled", conn.Enabled),
			ub.Assign("updated_at", conn.UpdatedAt),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", conn.ID))

	query, args := ub.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to update connection")
		return internalError("failed to update connection")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("connection %s does not exist", conn.ID)
	}
	return nil
}

func (r *ConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectionRepository.Delete")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	del := database.NewDeleteBuilder()
	del.DeleteFrom(connectionsTable).Where(del.Equal("tenant_id", tenantID), del.Equal("id", id))

	query, args := del.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to delete connection")
		return internalError("failed to delete connection")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("connection %s does not exist", id)
	}
	return nil
}

func (r *ConnectionRepository) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "ConnectionRepository.MarkSynced")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(connectionsTable).
		Set(ub.Assign("last_sync_at", at)).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to mark connection synced")
		return internalError("failed to mark connection synced")
	}
	return nil
}

// ListDue spans every tenant. The scheduler binds each connection's tenant before syncing it.
func (r *ConnectionRepository) ListDue(ctx context.Context, cutoff time.Time, limit int) ([]models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "ConnectionRepository.ListDue")
	defer span.End()

	sb := connectionStruct.SelectFrom(connectionsTable)
	sb.Where(
		sb.Equal("enabled", true),
		sb.Or(sb.IsNull("last_sync_at"), sb.LessThan("last_sync_at", cutoff)),
	)
	sb.OrderBy("last_sync_at").Asc()
	sb.SQL("NULLS FIRST")
	sb.Limit(limit)

	query, args := sb.Build()
	conns := []models.Connection{}
	if err := r.Conn(ctx).SelectContext(ctx, &conns, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list due connections")
		return nil, internalError("failed to list due connections")
	}
	return conns, nil
}

// SyncRunRepository handles sync run history
type SyncRunRepository struct {
	*Repository
}

// NewSyncRunRepository creates a new sync run repository
func NewSyncRunRepository(db database.DB, logger ectologger.Logger) *SyncRunRepository {
	return &SyncRunRepository{Repository: NewRepository(db, logger)}
}

func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	ctx, span := tracing.StartSpan(ctx, "SyncRunRepository.Create")
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
		run.Status = models.SyncStatusRunning
	}
	run.StartedAt = time.Now().UTC()

	query, args := syncRunStruct.InsertInto(syncRunsTable, run).Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create sync run")
		return internalError("failed to create sync run")
	}
	return nil
}

// Finish stores the final status and stats of a run
func (r *SyncRunRepository) Finish(ctx context.Context, run *models.SyncRun) error {
	ctx, span := tracing.StartSpan(ctx, "SyncRunRepository.Finish")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	run.FinishedAt = &now

	ub := database.NewUpdateBuilder()
	ub.Update(syncRunsTable).
		Set(
			ub.Assign("status", run.Status),
			ub.Assign("stats", run.Stats),
			ub.Assign("finished_at", run.FinishedAt),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", run.ID))

	query, args := ub.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to finish sync run")
		return internalError("failed to finish sync run")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("sync run %s does not exist", run.ID)
	}
	return nil
}

func (r *SyncRunRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]models.SyncRun, error) {
	ctx, span := tracing.StartSpan(ctx, "SyncRunRepository.ListByConnection")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := syncRunStruct.SelectFrom(syncRunsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("connection_id", connectionID))
	sb.OrderBy("started_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	runs := []models.SyncRun{}
	if err := r.Conn(ctx).SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list sync runs")
		return nil, internalError("failed to list sync runs")
	}
	return runs, nil
}
