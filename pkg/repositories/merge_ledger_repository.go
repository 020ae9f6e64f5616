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
	mergeLedgerTable    = "merge_ledger"
	mergeRollbacksTable = "merge_rollbacks"
)

var (
	ledgerStruct   = database.NewStruct(new(models.MergeLedgerEntry))
	rollbackStruct = database.NewStruct(new(models.MergeRollback))
)

// MergeLedgerRepository handles the append-only merge audit log
type MergeLedgerRepository struct {
	*Repository
}

// NewMergeLedgerRepository creates a new merge ledger repository
func NewMergeLedgerRepository(db database.DB, logger ectologger.Logger) *MergeLedgerRepository {
	return &MergeLedgerRepository{Repository: NewRepository(db, logger)}
}

func (r *MergeLedgerRepository) Create(ctx context.Context, entry *models.MergeLedgerEntry) error {
	ctx, span := tracing.StartSpan(ctx, "MergeLedgerRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	entry.TenantID = tenantID
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now().UTC()

	query, args := ledgerStruct.InsertInto(mergeLedgerTable, entry).Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"primary_id": entry.PrimaryID,
			"merged_id":  entry.MergedID,
		}).Error("failed to create merge ledger entry")
		return internalError("failed to create merge ledger entry")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"ledger_id": entry.ID,
	}).Debugf("Created %s", mergeLedgerTable)
	return nil
}

func (r *MergeLedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.MergeLedgerEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "MergeLedgerRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := ledgerStruct.SelectFrom(mergeLedgerTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var entry models.MergeLedgerEntry
	err = r.Conn(ctx).GetContext(ctx, &entry, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("merge ledger entry %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get merge ledger entry")
		return nil, internalError("failed to get merge ledger entry")
	}
	return &entry, nil
}

// List returns ledger entries, newest first
func (r *MergeLedgerRepository) List(ctx context.Context, limit, offset int) ([]models.MergeLedgerEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "MergeLedgerRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := ledgerStruct.SelectFrom(mergeLedgerTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at", "id").Desc()
	sb.Limit(limit).Offset(offset)

	query, args := sb.Build()
	entries := []models.MergeLedgerEntry{}
	if err := r.Conn(ctx).SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list merge ledger")
		return nil, internalError("failed to list merge ledger")
	}
	return entries, nil
}

func (r *MergeLedgerRepository) CreateRollback(ctx context.Context, rollback *models.MergeRollback) error {
	ctx, span := tracing.StartSpan(ctx, "MergeLedgerRepository.CreateRollback")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	rollback.TenantID = tenantID
	rollback.CreatedAt = time.Now().UTC()

	ib := rollbackStruct.InsertInto(mergeRollbacksTable, rollback)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create merge rollback")
		return internalError("failed to create merge rollback")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return Conflict("merge ledger entry %s was already rolled back", rollback.LedgerID)
	}
	return nil
}

func (r *MergeLedgerRepository) GetRollback(ctx context.Context, ledgerID uuid.UUID) (*models.MergeRollback, error) {
	ctx, span := tracing.StartSpan(ctx, "MergeLedgerRepository.GetRollback")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := rollbackStruct.SelectFrom(mergeRollbacksTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("ledger_id", ledgerID))

	query, args := sb.Build()
	var rollback models.MergeRollback
	err = r.Conn(ctx).GetContext(ctx, &rollback, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get merge rollback")
		return nil, internalError("failed to get merge rollback")
	}
	return &rollback, nil
}
