package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/keylock"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

const (
	DefaultPollInterval = 30 * time.Second
	DefaultSyncInterval = 15 * time.Minute
	DefaultLockTTL      = 60 * time.Second
	DefaultBatchSize    = 100
)

// DueLister returns enabled connections across tenants whose last sync is older than cutoff.
type DueLister interface {
	ListDue(ctx context.Context, cutoff time.Time, limit int) ([]models.Connection, error)
}

type SchedulerConfig struct {
	// PollInterval is how often due connections are looked up.
	PollInterval time.Duration
	// SyncInterval is how old a connection's last sync may get before it is due again.
	SyncInterval time.Duration
	LockTTL      time.Duration
	BatchSize    int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval: DefaultPollInterval,
		SyncInterval: DefaultSyncInterval,
		LockTTL:      DefaultLockTTL,
		BatchSize:    DefaultBatchSize,
	}
}

// Scheduler dispatches syncs for due connections. A lock per connection keeps several instances
// from scheduling the same connection in one cycle.
type Scheduler struct {
	connections DueLister
	dispatcher  Dispatcher
	locker      keylock.Locker
	cfg         SchedulerConfig
	logger      ectologger.Logger
	now         func() time.Time

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.Mutex
}

func NewScheduler(connections DueLister, dispatcher Dispatcher, locker keylock.Locker, cfg SchedulerConfig, logger ectologger.Logger) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaults.SyncInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	return &Scheduler{
		connections: connections,
		dispatcher:  dispatcher,
		locker:      locker,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		stopCh:      make(chan struct{}),
		stoppedC:    make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.running = true

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s sync_interval=%s batch_size=%d",
		s.cfg.PollInterval, s.cfg.SyncInterval, s.cfg.BatchSize)
	go s.pollLoop(ctx)
	return nil
}

// Stop waits for the current cycle to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle dispatches every due connection once and returns how many were dispatched.
func (s *Scheduler) RunCycle(ctx context.Context) int {
	ctx, span := tracing.StartSpan(ctx, "syncer.Scheduler.RunCycle")
	defer span.End()

	start := time.Now()
	due, err := s.connections.ListDue(ctx, s.now().Add(-s.cfg.SyncInterval), s.cfg.BatchSize)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list due connections")
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	scheduled, skipped := 0, 0
	for _, conn := range due {
		err := s.schedule(ctx, conn)
		if errors.Is(err, keylock.ErrLockTimeout) {
			skipped++
			continue
		}
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to schedule connection %s", conn.ID)
			continue
		}
		scheduled++
	}

	s.logger.WithContext(ctx).Infof("Scheduling cycle completed: scheduled=%d skipped=%d duration=%s",
		scheduled, skipped, time.Since(start))
	return scheduled
}

func (s *Scheduler) schedule(ctx context.Context, conn models.Connection) error {
	lock, err := s.locker.Acquire(ctx, keylock.Key("schedule", conn.ID.String()), s.cfg.LockTTL, 0)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()

	ctx = appctx.WithTenant(ctx, conn.TenantID.String(), appctx.SystemActor)
	_, err = s.dispatcher.Dispatch(ctx, conn.ID)
	return err
}
