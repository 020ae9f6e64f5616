package memstore

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

type entityRepo struct {
	db *DB
}

func (r *entityRepo) Create(ctx context.Context, entity *models.Entity) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
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
		entity.Tags = pq.StringArray{}
	}
	if entity.CustomFields == nil {
		entity.CustomFields = models.CustomFields{}
	}

	defer r.db.lock(ctx)()
	if _, ok := r.db.data.entities[entity.ID]; ok {
		return repositories.Conflict("entity %s already exists", entity.ID)
	}
	r.db.data.entities[entity.ID] = entity.Clone()
	return nil
}

func (r *entityRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	entity, ok := r.db.data.entities[id]
	if !ok || entity.TenantID != tenantID {
		return nil, repositories.NotFound("entity %s does not exist", id)
	}
	out := entity.Clone()
	return &out, nil
}

func (r *entityRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Entity, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.Entity{}
	seen := map[uuid.UUID]bool{}
	for _, id := range ids {
		entity, ok := r.db.data.entities[id]
		if !ok || entity.TenantID != tenantID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, entity.Clone())
	}
	return out, nil
}

func (r *entityRepo) Update(ctx context.Context, entity *models.Entity) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}

	defer r.db.lock(ctx)()
	current, ok := r.db.data.entities[entity.ID]
	if !ok || current.TenantID != tenantID {
		return repositories.NotFound("entity %s does not exist", entity.ID)
	}
	entity.TenantID = tenantID
	entity.Version = current.Version + 1
	entity.UpdatedAt = time.Now().UTC()
	if entity.CustomFields == nil {
		entity.CustomFields = models.CustomFields{}
	}
	r.db.data.entities[entity.ID] = entity.Clone()
	return nil
}

func (r *entityRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}

	defer r.db.lock(ctx)()
	entity, ok := r.db.data.entities[id]
	if !ok || entity.TenantID != tenantID {
		return repositories.NotFound("entity %s does not exist", id)
	}
	delete(r.db.data.entities, id)
	return nil
}

func (r *entityRepo) ListPage(ctx context.Context, entityType string, afterID uuid.UUID, limit int) ([]models.Entity, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.Entity{}
	for _, entity := range r.db.data.entities {
		if entity.TenantID != tenantID || entity.EntityType != entityType {
			continue
		}
		if bytes.Compare(entity.ID[:], afterID[:]) <= 0 {
			continue
		}
		out = append(out, entity.Clone())
	}
	slices.SortFunc(out, func(a, b models.Entity) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	return page(out, limit, 0), nil
}

type mappingRepo struct {
	db *DB
}

func (r *mappingRepo) Find(ctx context.Context, provider, entityType, externalID string) (*models.ExternalEntityMap, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	mapping, ok := r.db.data.mappings[mappingKey{tenantID, provider, entityType, externalID}]
	if !ok {
		return nil, nil
	}
	return &mapping, nil
}

func (r *mappingRepo) FindByInternalID(ctx context.Context, provider, entityType string, internalID uuid.UUID) (*models.ExternalEntityMap, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	var found *models.ExternalEntityMap
	for key, mapping := range r.db.data.mappings {
		if key.tenantID != tenantID || key.provider != provider || key.entityType != entityType || mapping.InternalID != internalID {
			continue
		}
		if found == nil || mapping.LastSeenAt.After(found.LastSeenAt) {
			m := mapping
			found = &m
		}
	}
	return found, nil
}

func (r *mappingRepo) Create(ctx context.Context, mapping *models.ExternalEntityMap) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	mapping.TenantID = tenantID
	if mapping.LastSeenAt.IsZero() {
		mapping.LastSeenAt = time.Now().UTC()
	}

	defer r.db.lock(ctx)()
	key := mappingKey{tenantID, mapping.Provider, mapping.EntityType, mapping.ExternalID}
	if _, ok := r.db.data.mappings[key]; ok {
		return &apperrors.MappingConflictError{
			Provider:   mapping.Provider,
			EntityType: mapping.EntityType,
			ExternalID: mapping.ExternalID,
			Message:    "external record is already mapped",
		}
	}
	r.db.data.mappings[key] = *mapping
	return nil
}

func (r *mappingRepo) Upsert(ctx context.Context, mapping *models.ExternalEntityMap) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	mapping.TenantID = tenantID
	mapping.LastSeenAt = time.Now().UTC()

	defer r.db.lock(ctx)()
	key := mappingKey{tenantID, mapping.Provider, mapping.EntityType, mapping.ExternalID}
	if existing, ok := r.db.data.mappings[key]; ok && existing.InternalID != mapping.InternalID {
		return &apperrors.MappingConflictError{
			Provider:   mapping.Provider,
			EntityType: mapping.EntityType,
			ExternalID: mapping.ExternalID,
			Message:    "external record is mapped to a different entity",
		}
	}
	r.db.data.mappings[key] = *mapping
	return nil
}

func (r *mappingRepo) Repoint(ctx context.Context, fromIDs []uuid.UUID, toID uuid.UUID) (int64, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return 0, err
	}

	defer r.db.lock(ctx)()
	var moved int64
	for key, mapping := range r.db.data.mappings {
		if key.tenantID != tenantID || !slices.Contains(fromIDs, mapping.InternalID) {
			continue
		}
		mapping.InternalID = toID
		r.db.data.mappings[key] = mapping
		moved++
	}
	return moved, nil
}

func (r *mappingRepo) ListByInternalID(ctx context.Context, internalID uuid.UUID) ([]models.ExternalEntityMap, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.ExternalEntityMap{}
	for key, mapping := range r.db.data.mappings {
		if key.tenantID == tenantID && mapping.InternalID == internalID {
			out = append(out, mapping)
		}
	}
	slices.SortFunc(out, func(a, b models.ExternalEntityMap) int {
		if a.Provider != b.Provider {
			return strings.Compare(a.Provider, b.Provider)
		}
		if a.EntityType != b.EntityType {
			return strings.Compare(a.EntityType, b.EntityType)
		}
		return strings.Compare(a.ExternalID, b.ExternalID)
	})
	return out, nil
}

type relationshipRepo struct {
	db *DB
}

func (r *relationshipRepo) Create(ctx context.Context, rel *models.Relationship) error {
	tenantID, err := repositories.GetTenantID(ctx)
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

	defer r.db.lock(ctx)()
	for _, existing := range r.db.data.relationships {
		if existing.TenantID == tenantID && existing.Kind == rel.Kind && existing.FromID == rel.FromID && existing.ToID == rel.ToID {
			return nil
		}
	}
	r.db.data.relationships[rel.ID] = *rel
	return nil
}

func (r *relationshipRepo) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]models.Relationship, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	defer r.db.lock(ctx)()
	out := []models.Relationship{}
	for _, rel := range r.db.data.relationships {
		if rel.TenantID == tenantID && (rel.FromID == entityID || rel.ToID == entityID) {
			out = append(out, rel)
		}
	}
	slices.SortFunc(out, compareRelationships)
	return out, nil
}

func (r *relationshipRepo) Reparent(ctx context.Context, fromIDs []uuid.UUID, toID uuid.UUID) (int64, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return 0, err
	}

	defer r.db.lock(ctx)()
	var moved int64
	touched := []models.Relationship{}
	for id, rel := range r.db.data.relationships {
		if rel.TenantID != tenantID {
			continue
		}
		changed := false
		if slices.Contains(fromIDs, rel.FromID) {
			rel.FromID, changed = toID, true
		}
		if slices.Contains(fromIDs, rel.ToID) {
			rel.ToID, changed = toID, true
		}
		if changed {
			moved++
			r.db.data.relationships[id] = rel
		}
		if rel.FromID == toID || rel.ToID == toID {
			touched = append(touched, rel)
		}
	}

	// keep the oldest of each identical link and drop self links
	slices.SortFunc(touched, compareRelationships)
	type linkKey struct {
		kind     string
		from, to uuid.UUID
	}
	kept := map[linkKey]bool{}
	for _, rel := range touched {
		key := linkKey{rel.Kind, rel.FromID, rel.ToID}
		if rel.FromID == rel.ToID || kept[key] {
			delete(r.db.data.relationships, rel.ID)
			continue
		}
		kept[key] = true
	}
	return moved, nil
}

func compareRelationships(a, b models.Relationship) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}
