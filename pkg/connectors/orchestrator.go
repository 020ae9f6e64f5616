package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/fingerprint"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionSkipped = "skipped"
)

// Orchestrator applies provider records to the canonical store and pushes canonical entities
// back out, using fingerprints to avoid redundant writes.
type Orchestrator struct {
	store  *repositories.Store
	logger ectologger.Logger
}

func NewOrchestrator(store *repositories.Store, logger ectologger.Logger) *Orchestrator {
	return &Orchestrator{store: store, logger: logger}
}

// Pull fetches records of entityType and applies each one in its own transaction. Fetch and
// per-record failures are counted in the result; Pull never fails the batch.
func (o *Orchestrator) Pull(ctx context.Context, conn Connector, entityType string, since *time.Time) models.SyncResult {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.Pull")
	defer span.End()

	result := models.SyncResult{ErrorMessages: []string{}}
	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":    conn.Provider(),
		"entity_type": entityType,
	})

	records, err := conn.Pull(ctx, entityType, since)
	var truncated *TruncatedError
	if errors.As(err, &truncated) {
		log.WithFields(map[string]any{"pages": truncated.Pages, "records": len(records)}).Warn("Pull reached the page limit")
		result.AddError(truncated.Error())
		err = nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to fetch records")
		result.AddError(fmt.Sprintf("fetch %s: %v", entityType, err))
		result.FetchFailed = true
		return result
	}

	for _, record := range records {
		if ctx.Err() != nil {
			result.AddError(ctx.Err().Error())
			break
		}

		action, err := o.applyRecord(ctx, conn, entityType, record)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"external_id": record.ExternalID}).Warn("Failed to apply record")
			result.AddError(fmt.Sprintf("%s %s: %v", entityType, record.ExternalID, err))
			continue
		}
		switch action {
		case ActionCreated:
			result.Created++
		case ActionUpdated:
			result.Updated++
		default:
			result.Skipped++
		}
	}

	metrics.RecordSyncRecords(appctx.GetTenantID(ctx), conn.Provider(), entityType,
		result.Created, result.Updated, result.Skipped, result.Errors)

	log.WithFields(map[string]any{
		"created": result.Created,
		"updated": result.Updated,
		"skipped": result.Skipped,
		"errors":  result.Errors,
	}).Info("Pulled records")
	return result
}

func (o *Orchestrator) applyRecord(ctx context.Context, conn Connector, entityType string, record ExternalRecord) (string, error) {
	if record.ExternalID == "" {
		return "", apperrors.NewValidationError("external_id", "record has no external id")
	}
	fp := record.Fingerprint
	if fp == "" {
		fp = fingerprint.Generate(record.Payload)
	}
	provider := conn.Provider()

	var action string
	err := o.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		mapping, err := o.store.Mappings.Find(ctx, provider, entityType, record.ExternalID)
		if err != nil {
			return err
		}
		if mapping != nil && !fingerprint.HasChanged(mapping.Fingerprint, fp) {
			action = ActionSkipped
			return nil
		}

		fields, err := conn.ToInternal(entityType, record.Payload)
		if err != nil {
			return err
		}

		var entity *models.Entity
		if mapping != nil {
			entity, err = o.store.Entities.GetByID(ctx, mapping.InternalID)
			if repositories.IsNotFound(err) {
				return &apperrors.MappingConflictError{
					Provider:   provider,
					EntityType: entityType,
					ExternalID: record.ExternalID,
					Message:    fmt.Sprintf("mapped entity %s no longer exists", mapping.InternalID),
				}
			}
			if err != nil {
				return err
			}
			fields.ApplyTo(entity)
			if err := o.store.Entities.Update(ctx, entity); err != nil {
				return err
			}
			action = ActionUpdated
		} else {
			entity = &models.Entity{EntityType: entityType, Source: provider}
			fields.ApplyTo(entity)
			if err := o.store.Entities.Create(ctx, entity); err != nil {
				return err
			}
			action = ActionCreated
		}

		if err := o.store.Mappings.Upsert(ctx, &models.ExternalEntityMap{
			Provider:    provider,
			EntityType:  entityType,
			ExternalID:  record.ExternalID,
			InternalID:  entity.ID,
			Fingerprint: fp,
			LastSeenAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}

		return o.link(ctx, provider, entity.ID, fields.Links)
	})
	return action, err
}

// link stores a relationship from each resolvable parent to the entity. Parents not synced yet
// are skipped; the next pull of the child after its parent arrives links them.
func (o *Orchestrator) link(ctx context.Context, provider string, childID uuid.UUID, links []models.ExternalLink) error {
	for _, l := range links {
		if l.ExternalID == "" {
			continue
		}
		parent, err := o.store.Mappings.Find(ctx, provider, l.EntityType, l.ExternalID)
		if err != nil {
			return err
		}
		if parent == nil {
			o.logger.WithContext(ctx).WithFields(map[string]any{
				"entity_type": l.EntityType,
				"external_id": l.ExternalID,
			}).Debug("Parent record not synced yet")
			continue
		}
		if err := o.store.Relationships.Create(ctx, &models.Relationship{
			Kind:   l.Kind,
			FromID: parent.InternalID,
			ToID:   childID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Push writes one canonical entity to the provider, creating the external record when the
// entity has no mapping yet. Unchanged payloads are skipped. Provider failures are reported in
// the result; a missing entity is returned as an error.
func (o *Orchestrator) Push(ctx context.Context, conn Connector, entityType string, internalID uuid.UUID) (models.PushResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.Push")
	defer span.End()

	provider := conn.Provider()
	entity, err := o.store.Entities.GetByID(ctx, internalID)
	if err != nil {
		return models.PushResult{}, err
	}

	payload, err := conn.ToExternal(entityType, entity)
	if err != nil {
		return models.PushResult{Action: ActionSkipped, Error: err.Error()}, nil
	}
	fp := fingerprint.Generate(payload)

	mapping, err := o.store.Mappings.FindByInternalID(ctx, provider, entityType, internalID)
	if err != nil {
		return models.PushResult{}, err
	}

	externalID := ""
	if mapping != nil {
		externalID = mapping.ExternalID
		if !fingerprint.HasChanged(mapping.Fingerprint, fp) {
			return models.PushResult{Action: ActionSkipped, ExternalID: externalID}, nil
		}
	}

	pushedID, err := conn.Push(ctx, entityType, externalID, payload)
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"provider":  provider,
			"entity_id": internalID,
		}).Error("Failed to push entity")
		return models.PushResult{Action: ActionSkipped, ExternalID: externalID, Error: err.Error()}, nil
	}

	action := ActionUpdated
	if externalID == "" {
		action = ActionCreated
	}
	if err := o.store.Mappings.Upsert(ctx, &models.ExternalEntityMap{
		Provider:    provider,
		EntityType:  entityType,
		ExternalID:  pushedID,
		InternalID:  internalID,
		Fingerprint: fp,
		LastSeenAt:  time.Now().UTC(),
	}); err != nil {
		return models.PushResult{Action: action, ExternalID: pushedID, Error: err.Error()}, nil
	}

	return models.PushResult{Action: action, ExternalID: pushedID}, nil
}
