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

type ledgerRepo struct {
	db *DB
}

func (r *ledgerRepo) Create(ctx context.Context, entry *models.MergeLedgerEntry) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	entry.TenantID = tenantID
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now().UTC()

	defer r.db.lock(ctx)()
	stored := *entry
	stored.MergedSnapshot.Data = entry.MergedSnapshot.Data.Clone()
	r.db.data.ledger[entry.ID] = stored
	return nil
}

func (r *ledgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.MergeLedgerEntry, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	entry, ok := r.db.data.ledger[id]
	if !ok || entry.TenantID != tenantID {
		return nil, repositories.NotFound("merge ledger entry %s does not exist", id)
	}
	entry.MergedSnapshot.Data = entry.MergedSnapshot.Data.Clone()
	return &entry, nil
}

func (r *ledgerRepo) List(ctx context.Context, limit, offset int) ([]models.MergeLedgerEntry, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.MergeLedgerEntry{}
	for _, entry := range r.db.data.ledger {
		if entry.TenantID == tenantID {
			entry.MergedSnapshot.Data = entry.MergedSnapshot.Data.Clone()
			out = append(out, entry)
		}
	}
	slices.SortFunc(out, func(a, b models.MergeLedgerEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})
	return page(out, limit, offset), nil
}

func (r *ledgerRepo) CreateRollback(ctx context.Context, rollback *models.MergeRollback) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	rollback.TenantID = tenantID
	rollback.CreatedAt = time.Now().UTC()

	defer r.db.lock(ctx)()
	if _, ok := r.db.data.rollbacks[rollback.LedgerID]; ok {
		return repositories.Conflict("merge ledger entry %s was already rolled back", rollback.LedgerID)
	}
	r.db.data.rollbacks[rollback.LedgerID] = *rollback
	return nil
}

func (r *ledgerRepo) GetRollback(ctx context.Context, ledgerID uuid.UUID) (*models.MergeRollback, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	rollback, ok := r.db.data.rollbacks[ledgerID]
	if !ok || rollback.TenantID != tenantID {
		return nil, nil
	}
	return &rollback, nil
}
