package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const mappingsTable = "external_entity_maps"

var mappingStruct = database.NewStruct(new(models.ExternalEntityMap))

const upsertMappingQuery = `
INSERT INTO external_entity_maps (tenant_id, provider, entity_type, external_id, internal_id, fingerprint, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, provider, entity_type, external_id) DO UPDATE
SET fingerprint = EXCLUDED.fingerprint, last_seen_at = EXCLUDED.last_seen_at
WHERE external_entity_maps.internal_id = EXCLUDED.internal_id`

// MappingRepository handles the external id mapping store
type MappingRepository struct {
	*Repository
}

// NewMappingRepository creates a new mapping repository
func NewMappingRepository(db database.DB, logger ectologger.Logger) *MappingRepository {
	return &MappingRepository{Repository: NewRepository(db, logger)}
}

// Find looks up a mapping by its external key
func (r *MappingRepository) Find(ctx context.Context, provider, entityType, externalID string) (*models.ExternalEntityMap, error) {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.Find")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := mappingStruct.SelectFrom(mappingsTable)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("provider", provider),
		sb.Equal("entity_type", entityType),
		sb.Equal("external_id", externalID),
	)
	return r.getOne(ctx, sb)
}

// FindByInternalID looks up the provider mapping of a canonical entity
func (r *MappingRepository) FindByInternalID(ctx context.Context, provider, entityType string, internalID uuid.UUID) (*models.ExternalEntityMap, error) {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.FindByInternalID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := mappingStruct.SelectFrom(mappingsTable)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("provider", provider),
		sb.Equal("entity_type", entityType),
		sb.Equal("internal_id", internalID),
	)
	sb.OrderBy("last_seen_at").Desc().Limit(1)
	return r.getOne(ctx, sb)
}

func (r *MappingRepository) getOne(ctx context.Context, sb *database.SelectBuilder) (*models.ExternalEntityMap, error) {
	query, args := sb.Build()
	var mapping models.ExternalEntityMap
	err := r.Conn(ctx).GetContext(ctx, &mapping, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get mapping")
		return nil, internalError("failed to get mapping")
	}
	return &mapping, nil
}

// Create inserts a mapping for a newly created entity
func (r *MappingRepository) Create(ctx context.Context, mapping *models.ExternalEntityMap) error {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	mapping.TenantID = tenantID
	if mapping.LastSeenAt.IsZero() {
		mapping.LastSeenAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(mappingsTable).
		Cols("tenant_id", "provider", "entity_type", "external_id", "internal_id", "fingerprint", "last_seen_at").
		Values(mapping.TenantID, mapping.Provider, mapping.EntityType, mapping.ExternalID, mapping.InternalID,
			mapping.Fingerprint, mapping.LastSeenAt)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider":    mapping.Provider,
			"external_id": mapping.ExternalID,
		}).Error("failed to create mapping")
		return internalError("failed to create mapping")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return &apperrors.MappingConflictError{
			Provider:   mapping.Provider,
			EntityType: mapping.EntityType,
			ExternalID: mapping.ExternalID,
			Message:    "external record is already mapped",
		}
	}
	return nil
}

// Upsert refreshes the fingerprint of an existing mapping or creates it
func (r *MappingRepository) Upsert(ctx context.Context, mapping *models.ExternalEntityMap) error {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.Upsert")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	mapping.TenantID = tenantID
	mapping.LastSeenAt = time.Now().UTC()

	result, err := r.Conn(ctx).ExecContext(ctx, upsertMappingQuery,
		mapping.TenantID, mapping.Provider, mapping.EntityType, mapping.ExternalID, mapping.InternalID,
		mapping.Fingerprint, mapping.LastSeenAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider":    mapping.Provider,
			"external_id": mapping.ExternalID,
		}).Error("failed to upsert mapping")
		return internalError("failed to upsert mapping")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return &apperrors.MappingConflictError{
			Provider:   mapping.Provider,
			EntityType: mapping.EntityType,
			ExternalID: mapping.ExternalID,
			Message:    "external record is mapped to a different entity",
		}
	}
	return nil
}

// Repoint moves mappings from merged duplicates to the surviving entity
func (r *MappingRepository) Repoint(ctx context.Context, fromIDs []uuid.UUID, toID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.Repoint")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return 0, err
	}
	if len(fromIDs) == 0 {
		return 0, nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update(mappingsTable).
		Set(ub.Assign("internal_id", toID)).
		Where(ub.Equal("tenant_id", tenantID), ub.In("internal_id", database.AnyOf(fromIDs)...))

	query, args := ub.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to repoint mappings")
		return 0, internalError("failed to repoint mappings")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// ListByInternalID lists every provider mapping of an entity
func (r *MappingRepository) ListByInternalID(ctx context.Context, internalID uuid.UUID) ([]models.ExternalEntityMap, error) {
	ctx, span := tracing.StartSpan(ctx, "MappingRepository.ListByInternalID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := mappingStruct.SelectFrom(mappingsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("internal_id", internalID))
	sb.OrderBy("provider", "entity_type", "external_id")

	query, args := sb.Build()
	mappings := []models.ExternalEntityMap{}
	if err := r.Conn(ctx).SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list mappings")
		return nil, internalError("failed to list mappings")
	}
	return mappings, nil
}
