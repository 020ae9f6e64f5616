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

const entitiesTable = "entities"

var entityStruct = database.NewStruct(new(models.Entity))

// EntityRepository handles database operations for canonical entities
type EntityRepository struct {
	*Repository
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(db database.DB, logger ectologger.Logger) *EntityRepository {
	return &EntityRepository{Repository: NewRepository(db, logger)}
}

// Create inserts an entity. A zero CreatedAt is set to now, a non-zero one is kept so restored
// snapshots keep their original creation time.
func (r *EntityRepository) Create(ctx context.Context, entity *models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	prepareNewEntity(entity, tenantID)

	ib := database.NewInsertBuilder()
	ib.InsertInto(entitiesTable).
		Cols("id", "tenant_id", "entity_type", "name", "email", "phone", "organization", "position",
			"tags", "custom_fields", "score", "source", "version", "created_at", "updated_at").
		Values(entity.ID, entity.TenantID, entity.EntityType, entity.Name, entity.Email, entity.Phone,
			entity.Organization, entity.Position, entity.Tags, entity.CustomFields, entity.Score, entity.Source,
			entity.Version, entity.CreatedAt, entity.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": entity.ID,
		}).Error("failed to create entity")
		return internalError("failed to create entity")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":   entity.ID,
		"entity_type": entity.EntityType,
	}).Debugf("Created %s", entitiesTable)
	return nil
}

func prepareNewEntity(entity *models.Entity, tenantID uuid.UUID) {
	entity.TenantID = tenantID
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now
	entity.Version = 1
	if entity.Source == "" {
		entity.Source = models.SourceManual
	}
	if entity.Tags == nil {
		entity.Tags = []string{}
	}
	if entity.CustomFields == nil {
		entity.CustomFields = models.CustomFields{}
	}
}

// GetByID retrieves an entity by ID (tenant-scoped)
func (r *EntityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := entityStruct.SelectFrom(entitiesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var entity models.Entity
	err = r.Conn(ctx).GetContext(ctx, &entity, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("entity %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": id,
		}).Error("failed to get entity")
		return nil, internalError("failed to get entity")
	}

	return &entity, nil
}

// GetByIDs retrieves the existing entities among ids
func (r *EntityRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.GetByIDs")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Entity{}, nil
	}

	sb := entityStruct.SelectFrom(entitiesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.In("id", database.AnyOf(ids)...))

	query, args := sb.Build()
	entities := []models.Entity{}
	if err := r.Conn(ctx).SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get entities")
		return nil, internalError("failed to get entities")
	}

	return entities, nil
}

// Update writes the mutable fields and bumps the version
func (r *EntityRepository) Update(ctx context.Context, entity *models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.Update")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(entitiesTable).
		Set(
			ub.Assign("name", entity.Name),
			ub.Assign("email", entity.Email),
			ub.Assign("phone", entity.Phone),
			ub.Assign("organization", entity.Organization),
			ub.Assign("position", entity.Position),
			ub.Assign("tags", entity.Tags),
			ub.Assign("custom_fields", entity.CustomFields),
			ub.Assign("score", entity.Score),
			ub.Assign("created_at", entity.CreatedAt),
			"version = version + 1",
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", entity.ID))
	ub.SQL("RETURNING version, updated_at")

	query, args := ub.Build()
	err = r.Conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&entity.Version, &entity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("entity %s does not exist", entity.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": entity.ID,
		}).Error("failed to update entity")
		return internalError("failed to update entity")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entity.ID,
		"version":   entity.Version,
	}).Debugf("Updated %s", entitiesTable)
	return nil
}

// Delete removes an entity
func (r *EntityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.Delete")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	del := database.NewDeleteBuilder()
	del.DeleteFrom(entitiesTable).Where(del.Equal("tenant_id", tenantID), del.Equal("id", id))

	query, args := del.Build()
	result, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": id,
		}).Error("failed to delete entity")
		return internalError("failed to delete entity")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("entity %s does not exist", id)
	}

	return nil
}

// ListPage returns the next page of entities ordered by id
func (r *EntityRepository) ListPage(ctx context.Context, entityType string, afterID uuid.UUID, limit int) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "EntityRepository.ListPage")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := entityStruct.SelectFrom(entitiesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("entity_type", entityType), sb.GreaterThan("id", afterID))
	sb.OrderBy("id").Limit(limit)

	query, args := sb.Build()
	entities := []models.Entity{}
	if err := r.Conn(ctx).SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_type": entityType,
		}).Error("failed to list entities")
		return nil, internalError("failed to list entities")
	}

	return entities, nil
}
