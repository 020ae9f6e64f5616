// Package merging folds duplicate entities into a primary and undoes merges from the ledger.
package merging

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/keylock"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// EventRecorder receives the feedback event of every merge attempt.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event *models.FeedbackEvent) error
}

type Config struct {
	// LockTTL bounds how long a crashed merge can keep its entities locked.
	LockTTL time.Duration
	// LockWait is how long a merge waits for entities locked by another merge.
	LockWait time.Duration
}

func DefaultConfig() Config {
	return Config{LockTTL: time.Minute, LockWait: 10 * time.Second}
}

// Engine handles entity merging
type Engine struct {
	store    *repositories.Store
	locker   keylock.Locker
	merger   *FieldMerger
	emitter  *events.Emitter
	recorder EventRecorder
	cfg      Config
	logger   ectologger.Logger
}

func NewEngine(store *repositories.Store, locker keylock.Locker, emitter *events.Emitter, recorder EventRecorder, cfg Config, logger ectologger.Logger) *Engine {
	return &Engine{
		store:    store,
		locker:   locker,
		merger:   NewFieldMerger(),
		emitter:  emitter,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Merge folds req.DuplicateIDs into req.PrimaryID. Every entity in the set is locked for the
// duration and all writes happen in one transaction: the merged primary, re-parented links and
// mappings, one ledger entry per duplicate, deleted duplicates, the resolved detection run and
// an accepted feedback record.
func (e *Engine) Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	actor := appctx.GetActorID(ctx)
	if actor == "" {
		return nil, httperror.NewHTTPError(http.StatusUnauthorized, "actor is required")
	}

	duplicateIDs, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_id":      req.PrimaryID,
		"duplicate_count": len(duplicateIDs),
		"entity_type":     req.EntityType,
	})

	keys := make([]string, 0, len(duplicateIDs)+1)
	for _, id := range append([]uuid.UUID{req.PrimaryID}, duplicateIDs...) {
		keys = append(keys, keylock.Key("entity", tenantID.String(), id.String()))
	}
	lock, err := keylock.AcquireAll(ctx, e.locker, keys, e.cfg.LockTTL, e.cfg.LockWait)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release merge locks")
		}
	}()

	var result *models.MergeResult
	err = e.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = e.apply(ctx, req, duplicateIDs, actor)
		return err
	})

	outcome := models.ResultSuccess
	if err != nil {
		outcome = models.ResultError
	}
	metrics.RecordMerge(tenantID.String(), req.EntityType, string(outcome))
	e.recordEvent(ctx, req, outcome, err)

	if err != nil {
		log.WithError(err).Warn("Merge failed")
		return nil, err
	}

	ledgerIDs := make([]string, 0, len(result.LedgerEntries))
	for _, entry := range result.LedgerEntries {
		ledgerIDs = append(ledgerIDs, entry.ID.String())
	}
	merged := events.EntityMergedEvent{
		EntityID:   req.PrimaryID.String(),
		EntityType: req.EntityType,
		MergedIDs:  uuidStrings(duplicateIDs),
		LedgerIDs:  ledgerIDs,
		Version:    result.Primary.Version,
	}
	if req.DetectionRunID != nil {
		merged.DetectionRunID = req.DetectionRunID.String()
	}
	e.emitter.EntityMerged(ctx, merged)

	log.Info("Merged entities")
	return result, nil
}

func (e *Engine) apply(ctx context.Context, req models.MergeRequest, duplicateIDs []uuid.UUID, actor string) (*models.MergeResult, error) {
	primary, err := e.store.Entities.GetByID(ctx, req.PrimaryID)
	if repositories.IsNotFound(err) {
		return nil, &apperrors.MergeTargetNotFoundError{ID: req.PrimaryID.String()}
	}
	if err != nil {
		return nil, err
	}

	found, err := e.store.Entities.GetByIDs(ctx, duplicateIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Entity, len(found))
	for _, entity := range found {
		byID[entity.ID] = entity
	}

	duplicates := make([]models.Entity, 0, len(duplicateIDs))
	for _, id := range duplicateIDs {
		entity, ok := byID[id]
		if !ok {
			return nil, &apperrors.MergeTargetNotFoundError{ID: id.String()}
		}
		duplicates = append(duplicates, entity)
	}
	for _, entity := range append([]models.Entity{*primary}, duplicates...) {
		if entity.EntityType != req.EntityType {
			return nil, apperrors.NewValidationError("entity_type", "entity %s is a %s, not a %s", entity.ID, entity.EntityType, req.EntityType)
		}
	}

	merged := e.merger.Merge(*primary, duplicates)
	if err := e.store.Entities.Update(ctx, &merged); err != nil {
		return nil, err
	}

	reparented, err := e.store.Relationships.Reparent(ctx, duplicateIDs, req.PrimaryID)
	if err != nil {
		return nil, err
	}
	repointed, err := e.store.Mappings.Repoint(ctx, duplicateIDs, req.PrimaryID)
	if err != nil {
		return nil, err
	}

	entries := make([]models.MergeLedgerEntry, 0, len(duplicates))
	for _, duplicate := range duplicates {
		entry := models.MergeLedgerEntry{
			EntityType:     req.EntityType,
			PrimaryID:      req.PrimaryID,
			MergedID:       duplicate.ID,
			MergedSnapshot: database.NewJSONB(duplicate),
			ActorID:        actor,
		}
		if err := e.store.Ledger.Create(ctx, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	for _, id := range duplicateIDs {
		if err := e.store.Entities.Delete(ctx, id); err != nil {
			return nil, err
		}
	}

	if req.DetectionRunID != nil {
		if err := e.store.DetectionRuns.Resolve(ctx, *req.DetectionRunID, models.DetectionStatusMerged); err != nil {
			return nil, err
		}
	}

	if err := e.store.Feedback.CreateRecord(ctx, &models.FeedbackRecord{
		PrimaryID:      req.PrimaryID,
		MergedIDs:      database.NewJSONB(duplicateIDs),
		Action:         models.FeedbackAccepted,
		DetectionRunID: req.DetectionRunID,
		ActorID:        actor,
	}); err != nil {
		return nil, err
	}

	return &models.MergeResult{
		Primary:          merged,
		LedgerEntries:    entries,
		ReparentedLinks:  reparented,
		RepointedMapping: repointed,
	}, nil
}

func (e *Engine) recordEvent(ctx context.Context, req models.MergeRequest, outcome models.EventResult, mergeErr error) {
	if e.recorder == nil {
		return
	}
	event := &models.FeedbackEvent{
		Action:     models.ActionMerge,
		EntityType: req.EntityType,
		EntityID:   req.PrimaryID.String(),
		Result:     outcome,
		Context: database.NewJSONB(map[string]any{
			"duplicate_count": len(req.DuplicateIDs),
		}),
	}
	if mergeErr != nil {
		event.Context.Data["error"] = mergeErr.Error()
	}
	if err := e.recorder.RecordEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to record merge feedback event")
	}
}

// Rollback recreates the duplicate captured by a ledger entry as a new entity with the
// snapshot's field values. External mappings stay with the primary.
func (e *Engine) Rollback(ctx context.Context, ledgerID uuid.UUID) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Rollback")
	defer span.End()

	actor := appctx.GetActorID(ctx)
	if actor == "" {
		return nil, httperror.NewHTTPError(http.StatusUnauthorized, "actor is required")
	}

	var (
		entry    *models.MergeLedgerEntry
		restored models.Entity
	)
	err := e.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		entry, err = e.store.Ledger.GetByID(ctx, ledgerID)
		if err != nil {
			return err
		}

		existing, err := e.store.Ledger.GetRollback(ctx, ledgerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return repositories.Conflict("merge %s was already rolled back", ledgerID)
		}

		restored = entry.MergedSnapshot.Data.Clone()
		restored.ID = uuid.Nil
		if err := e.store.Entities.Create(ctx, &restored); err != nil {
			return err
		}

		return e.store.Ledger.CreateRollback(ctx, &models.MergeRollback{
			LedgerID:   ledgerID,
			RestoredID: restored.ID,
			ActorID:    actor,
		})
	})
	if err != nil {
		return nil, err
	}

	e.emitter.EntityRestored(ctx, events.EntityRestoredEvent{
		EntityID:   restored.ID.String(),
		EntityType: restored.EntityType,
		LedgerID:   ledgerID.String(),
		MergedID:   entry.MergedID.String(),
		PrimaryID:  entry.PrimaryID.String(),
	})

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"ledger_id":   ledgerID,
		"restored_id": restored.ID,
	}).Info("Rolled back merge")
	return &restored, nil
}

// History lists the tenant's ledger, newest first.
func (e *Engine) History(ctx context.Context, limit, offset int) ([]models.MergeLedgerEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.History")
	defer span.End()

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return e.store.Ledger.List(ctx, limit, offset)
}

// validateRequest returns the duplicate ids without repeats, in request order.
func validateRequest(req models.MergeRequest) ([]uuid.UUID, error) {
	if req.PrimaryID == uuid.Nil {
		return nil, apperrors.NewValidationError("primary_id", "is required")
	}
	if req.EntityType == "" {
		return nil, apperrors.NewValidationError("entity_type", "is required")
	}
	if len(req.DuplicateIDs) == 0 {
		return nil, apperrors.NewValidationError("duplicate_ids", "at least one duplicate is required")
	}

	seen := make(map[uuid.UUID]bool, len(req.DuplicateIDs))
	ids := make([]uuid.UUID, 0, len(req.DuplicateIDs))
	for _, id := range req.DuplicateIDs {
		if id == req.PrimaryID {
			return nil, apperrors.NewValidationError("duplicate_ids", "primary %s cannot be its own duplicate", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
