package repositories

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const relationshipsTable = "relationships"

var relationshipStruct = database.NewStruct(new(models.Relationship))

const (
	createRelationshipQuery = `
INSERT INTO relationships (id, tenant_id, kind, from_id, to_id, created_at)
SELECT $1, $2, $3, $4, $5, $6
WHERE NOT EXISTS (
    SELECT 1 FROM relationships WHERE tenant_id = $2 AND kind = $3 AND from_id = $4 AND to_id = $5
)`

	reparentFromQuery  = `UPDATE relationships SET from_id = $2 WHERE tenant_id = $1 AND from_id = ANY($3::uuid[])`
	reparentToQuery    = `UPDATE relationships SET to_id = $2 WHERE tenant_id = $1 AND to_id = ANY($3::uuid[])`
	dropSelfLinks      = `DELETE FROM relationships WHERE tenant_id = $1 AND from_id = $2 AND to_id = $2`
	dropDuplicateLinks = `
DELETE FROM relationships a
USING relationships b
WHERE a.tenant_id = $1 AND b.tenant_id = $1
  AND a.kind = b.kind AND a.from_id = b.from_id AND a.to_id = b.to_id
  AND (a.created_at, a.id) > (b.created_at, b.id)
  AND (a.from_id = $2 OR a.to_id = $2)`
)

// RelationshipRepository handles links between canonical entities
type RelationshipRepository struct {
	*Repository
}

// NewRelationshipRepository creates a new relationship repository
func NewRelationshipRepository(db database.DB, logger ectologger.Logger) *RelationshipRepository {
	return &RelationshipRepository{Repository: NewRepository(db, logger)}
}

// Create stores a link unless an identical one exists
func (r *RelationshipRepository) Create(ctx context.Context, rel *models.Relationship) error {
	ctx, span := tracing.StartSpan(ctx, "RelationshipRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	rel.TenantID = tenantID
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}

	_, err = r.Conn(ctx).ExecContext(ctx, createRelationshipQuery, rel.ID, rel.TenantID, rel.Kind, rel.FromID, rel.ToID, rel.CreatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":    rel.Kind,
			"from_id": rel.FromID,
			"to_id":   rel.ToID,
		}).Error("failed to create relationship")
		return internalError("failed to create relationship")
	}
	return nil
}

// ListByEntity lists links where the entity is either end
func (r *RelationshipRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "RelationshipRepository.ListByEntity")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := relationshipStruct.SelectFrom(relationshipsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Or(sb.Equal("from_id", entityID), sb.Equal("to_id", entityID)))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	rels := []models.Relationship{}
	if err := r.Conn(ctx).SelectContext(ctx, &rels, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list relationships")
		return nil, internalError("failed to list relationships")
	}
	return rels, nil
}

// Reparent moves every link of fromIDs onto toID
func (r *RelationshipRepository) Reparent(ctx context.Context, fromIDs []uuid.UUID, toID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "RelationshipRepository.Reparent")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return 0, err
	}
	if len(fromIDs) == 0 {
		return 0, nil
	}

	ids := make(pq.StringArray, len(fromIDs))
	for i, id := range fromIDs {
		ids[i] = id.String()
	}

	var moved int64
	for _, query := range []string{reparentFromQuery, reparentToQuery} {
		result, err := r.Conn(ctx).ExecContext(ctx, query, tenantID, toID, ids)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("failed to reparent relationships")
			return 0, internalError("failed to reparent relationships")
		}
		rows, _ := result.RowsAffected()
		moved += rows
	}

	for _, query := range []string{dropSelfLinks, dropDuplicateLinks} {
		if _, err := r.Conn(ctx).ExecContext(ctx, query, tenantID, toID); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("failed to clean reparented relationships")
			return 0, internalError("failed to clean reparented relationships")
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"to_id": toID,
		"moved": moved,
	}).Debugf("Reparented %s", relationshipsTable)
	return moved, nil
}
