// Package syncer runs provider pulls for configured connections, either inline, from a Redis
// stream worker, or on a schedule.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/connectors"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/keylock"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// EventRecorder receives one feedback event per pulled entity type.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event *models.FeedbackEvent) error
}

type Config struct {
	LockTTL  time.Duration
	LockWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		LockTTL:  10 * time.Minute,
		LockWait: 5 * time.Second,
	}
}

// Report is the outcome of syncing every entity type of a connection.
type Report struct {
	ConnectionID uuid.UUID         `json:"connection_id"`
	Provider     string            `json:"provider"`
	Runs         []models.SyncRun  `json:"runs"`
	Totals       models.SyncResult `json:"totals"`
	Status       models.SyncStatus `json:"status"`
}

type Service struct {
	store        *repositories.Store
	registry     *connectors.Registry
	orchestrator *connectors.Orchestrator
	locker       keylock.Locker
	recorder     EventRecorder
	emitter      *events.Emitter
	cfg          Config
	logger       ectologger.Logger
	now          func() time.Time
}

func NewService(
	store *repositories.Store,
	registry *connectors.Registry,
	locker keylock.Locker,
	recorder EventRecorder,
	emitter *events.Emitter,
	cfg Config,
	logger ectologger.Logger,
) *Service {
	return &Service{
		store:        store,
		registry:     registry,
		orchestrator: connectors.NewOrchestrator(store, logger),
		locker:       locker,
		recorder:     recorder,
		emitter:      emitter,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SyncNow pulls every entity type of the connection changed since its last successful sync.
// Each (tenant, provider, entity type) pull holds a key lock, so concurrent requests for the same
// pair wait and then fail with 409. The connection's last sync time advances only when every
// fetch succeeded and no record failed to apply, so failed records are fetched again next time.
func (s *Service) SyncNow(ctx context.Context, connectionID uuid.UUID) (*Report, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Service.SyncNow")
	defer span.End()

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := s.store.Connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.Enabled {
		return nil, httperror.NewHTTPError(http.StatusConflict, "connection is disabled").AddMetaValue("connection_id", connectionID.String())
	}

	connector, err := s.registry.Build(*conn)
	if err != nil {
		return nil, err
	}

	entityTypes := []string(conn.EntityTypes)
	if len(entityTypes) == 0 {
		entityTypes = connector.EntityTypes()
	}

	startedAt := s.now()
	report := &Report{
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
		Runs:         []models.SyncRun{},
		Totals:       models.SyncResult{ErrorMessages: []string{}},
		Status:       models.SyncStatusCompleted,
	}

	for _, entityType := range entityTypes {
		run, err := s.pullEntityType(ctx, tenantID, conn, connector, entityType)
		if err != nil {
			return nil, err
		}
		report.Runs = append(report.Runs, *run)
		report.Totals.Add(run.Stats.Data)
		if run.Status == models.SyncStatusFailed {
			report.Status = models.SyncStatusFailed
		}
	}

	switch {
	case report.Status != models.SyncStatusCompleted:
	case report.Totals.Errors > 0:
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"connection_id": conn.ID,
			"errors":        report.Totals.Errors,
		}).Warn("Records failed to apply, keeping the last sync time")
	default:
		if err := s.store.Connections.MarkSynced(ctx, conn.ID, startedAt); err != nil {
			return nil, err
		}
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"connection_id": conn.ID,
		"provider":      conn.Provider,
		"status":        report.Status,
		"created":       report.Totals.Created,
		"updated":       report.Totals.Updated,
		"skipped":       report.Totals.Skipped,
		"errors":        report.Totals.Errors,
	}).Info("Connection synced")
	return report, nil
}

// lockPair serializes pulls and pushes of one (tenant, provider, entity type) and keeps the lock
// alive while the caller works.
func (s *Service) lockPair(ctx context.Context, tenantID uuid.UUID, provider, entityType string) (func(), error) {
	key := keylock.Key("sync", tenantID.String(), provider, entityType)
	lock, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL, s.cfg.LockWait)
	if errors.Is(err, keylock.ErrLockTimeout) {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "a %s sync of %s is already running", provider, entityType)
	}
	if err != nil {
		return nil, err
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{"lock": key})
	stop := keylock.KeepAlive(ctx, lock, s.cfg.LockTTL, func(err error) {
		log.WithError(err).Error("Lost sync lock")
	})
	return func() {
		stop()
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release sync lock")
		}
	}, nil
}

func (s *Service) pullEntityType(ctx context.Context, tenantID uuid.UUID, conn *models.Connection, connector connectors.Connector, entityType string) (*models.SyncRun, error) {
	unlock, err := s.lockPair(ctx, tenantID, conn.Provider, entityType)
	if err != nil {
		return nil, err
	}
	defer unlock()

	run := &models.SyncRun{
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
		EntityType:   entityType,
		Direction:    models.DirectionPull,
		Status:       models.SyncStatusRunning,
	}
	if err := s.store.SyncRuns.Create(ctx, run); err != nil {
		return nil, err
	}

	start := time.Now()
	result := s.orchestrator.Pull(ctx, connector, entityType, conn.LastSyncAt)

	run.Status = models.SyncStatusCompleted
	if result.FetchFailed {
		run.Status = models.SyncStatusFailed
	}
	run.Stats = database.NewJSONB(result)
	if err := s.store.SyncRuns.Finish(context.WithoutCancel(ctx), run); err != nil {
		return nil, err
	}

	metrics.RecordSyncRun(conn.Provider, entityType, string(run.Status), time.Since(start).Seconds())
	s.recordEvent(ctx, conn, run)
	s.emitter.SyncCompleted(ctx, events.SyncCompletedEvent{
		ConnectionID: conn.ID.String(),
		SyncRunID:    run.ID.String(),
		Provider:     conn.Provider,
		EntityType:   entityType,
		Status:       string(run.Status),
		Created:      result.Created,
		Updated:      result.Updated,
		Skipped:      result.Skipped,
		Errors:       result.Errors,
	})
	return run, nil
}

func (s *Service) recordEvent(ctx context.Context, conn *models.Connection, run *models.SyncRun) {
	if s.recorder == nil {
		return
	}
	outcome := models.ResultSuccess
	if run.Status == models.SyncStatusFailed || run.Stats.Data.Errors > 0 {
		outcome = models.ResultError
	}
	err := s.recorder.RecordEvent(ctx, &models.FeedbackEvent{
		Action:     models.ActionSyncPull,
		EntityType: run.EntityType,
		EntityID:   conn.ID.String(),
		Result:     outcome,
		Context: database.NewJSONB(map[string]any{
			"provider":    conn.Provider,
			"sync_run_id": run.ID.String(),
			"created":     run.Stats.Data.Created,
			"updated":     run.Stats.Data.Updated,
			"errors":      run.Stats.Data.Errors,
		}),
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to record sync feedback")
	}
}

// Push writes one canonical entity to the connection's provider. It holds the same key lock as
// a pull of the entity type, so concurrent pushes cannot both create the external record.
func (s *Service) Push(ctx context.Context, connectionID uuid.UUID, entityType string, entityID uuid.UUID) (models.PushResult, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Service.Push")
	defer span.End()

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return models.PushResult{}, err
	}

	conn, connector, err := s.connector(ctx, connectionID)
	if err != nil {
		return models.PushResult{}, err
	}
	if !conn.Enabled {
		return models.PushResult{}, httperror.NewHTTPError(http.StatusConflict, "connection is disabled")
	}

	unlock, err := s.lockPair(ctx, tenantID, conn.Provider, entityType)
	if err != nil {
		return models.PushResult{}, err
	}
	defer unlock()

	return s.orchestrator.Push(ctx, connector, entityType, entityID)
}

// TestConnection performs the provider's read-only credential check.
func (s *Service) TestConnection(ctx context.Context, connectionID uuid.UUID) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Service.TestConnection")
	defer span.End()

	_, connector, err := s.connector(ctx, connectionID)
	if err != nil {
		return false, err
	}
	return connector.TestConnection(ctx)
}

func (s *Service) connector(ctx context.Context, connectionID uuid.UUID) (*models.Connection, connectors.Connector, error) {
	conn, err := s.store.Connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	connector, err := s.registry.Build(*conn)
	if err != nil {
		return nil, nil, err
	}
	return conn, connector, nil
}

// CreateConnection validates the provider and entity types before storing the connection.
func (s *Service) CreateConnection(ctx context.Context, conn *models.Connection) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Service.CreateConnection")
	defer span.End()

	connector, err := s.registry.Build(*conn)
	if err != nil {
		return err
	}
	supported := connector.EntityTypes()
	for _, entityType := range conn.EntityTypes {
		if !ectolinq.Contains(supported, entityType) {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "%s does not support entity type %q", conn.Provider, entityType)
		}
	}
	if len(conn.EntityTypes) == 0 {
		conn.EntityTypes = supported
	}
	return s.store.Connections.Create(ctx, conn)
}

func (s *Service) Runs(ctx context.Context, connectionID uuid.UUID, limit int) ([]models.SyncRun, error) {
	if _, err := s.store.Connections.GetByID(ctx, connectionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.SyncRuns.ListByConnection(ctx, connectionID, limit)
}

// withJobContext rebuilds the request context carried by a queued job.
func withJobContext(ctx context.Context, tenantID, actorID, requestID string) (context.Context, error) {
	if _, err := uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("invalid tenant id %q: %w", tenantID, err)
	}
	ctx = appctx.WithTenant(ctx, tenantID, actorID)
	return appctx.SetRequestID(ctx, requestID), nil
}
