package syncer

import (
	"context"
	"os"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	DefaultStream        = "clover:sync"
	DefaultConsumerGroup = "clover-sync-workers"
	DefaultConcurrency   = 3
	DefaultBlockTimeout  = 5 * time.Second
	DefaultClaimMinIdle  = 2 * time.Minute
)

// Dispatcher requests a sync of a connection in the caller's tenant.
type Dispatcher interface {
	Dispatch(ctx context.Context, connectionID uuid.UUID) (*Dispatch, error)
}

// Dispatch reports how a sync request was handled. Report is set for inline syncs and
// MessageID for queued ones.
type Dispatch struct {
	Queued    bool    `json:"queued"`
	MessageID string  `json:"message_id,omitempty"`
	JobID     string  `json:"job_id,omitempty"`
	Report    *Report `json:"report,omitempty"`
}

// Inline runs syncs in the calling goroutine.
type Inline struct {
	service *Service
}

func NewInline(service *Service) *Inline {
	return &Inline{service: service}
}

func (d *Inline) Dispatch(ctx context.Context, connectionID uuid.UUID) (*Dispatch, error) {
	report, err := d.service.SyncNow(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return &Dispatch{Report: report}, nil
}

// Queue publishes sync requests to a Redis stream for the worker pool.
type Queue struct {
	streams *redis.Streams
	stream  string
	service *Service
}

func NewQueue(streams *redis.Streams, stream string, service *Service) *Queue {
	if stream == "" {
		stream = DefaultStream
	}
	return &Queue{streams: streams, stream: stream, service: service}
}

// Dispatch checks that the connection exists in the tenant before queueing it.
func (q *Queue) Dispatch(ctx context.Context, connectionID uuid.UUID) (*Dispatch, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Queue.Dispatch")
	defer span.End()

	if _, err := q.service.store.Connections.GetByID(ctx, connectionID); err != nil {
		return nil, err
	}

	job := &redis.SyncJob{
		TenantID:     appctx.GetTenantID(ctx),
		ActorID:      appctx.GetActorID(ctx),
		ConnectionID: connectionID.String(),
	}
	messageID, err := q.streams.Publish(ctx, q.stream, job)
	if err != nil {
		return nil, err
	}
	return &Dispatch{Queued: true, MessageID: messageID, JobID: job.ID}, nil
}

type WorkerConfig struct {
	Stream        string
	ConsumerGroup string
	// ConsumerName must be unique per instance.
	ConsumerName string
	Concurrency  int
	BlockTimeout time.Duration
	// ClaimMinIdle is how long a delivered message may stay unacknowledged before another
	// consumer takes it over.
	ClaimMinIdle time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.New().String()[:8]
	}
	return WorkerConfig{
		Stream:        DefaultStream,
		ConsumerGroup: DefaultConsumerGroup,
		ConsumerName:  hostname,
		Concurrency:   DefaultConcurrency,
		BlockTimeout:  DefaultBlockTimeout,
		ClaimMinIdle:  DefaultClaimMinIdle,
	}
}

// Worker consumes queued sync requests with bounded concurrency. Messages are acknowledged after
// a successful sync or a failure that cannot succeed on retry; anything else stays pending and is
// reclaimed after ClaimMinIdle.
type Worker struct {
	streams *redis.Streams
	service *Service
	cfg     WorkerConfig
	logger  ectologger.Logger
}

func NewWorker(streams *redis.Streams, service *Service, cfg WorkerConfig, logger ectologger.Logger) *Worker {
	defaults := DefaultWorkerConfig()
	if cfg.Stream == "" {
		cfg.Stream = defaults.Stream
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = defaults.ConsumerGroup
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = defaults.ConsumerName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaults.BlockTimeout
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = defaults.ClaimMinIdle
	}
	return &Worker{streams: streams, service: service, cfg: cfg, logger: logger}
}

// Run consumes until ctx is cancelled, then waits for in-flight syncs.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.streams.CreateConsumerGroup(ctx, w.cfg.Stream, w.cfg.ConsumerGroup); err != nil {
		return err
	}

	w.logger.WithContext(ctx).Infof("Starting sync worker: stream=%s group=%s consumer=%s concurrency=%d",
		w.cfg.Stream, w.cfg.ConsumerGroup, w.cfg.ConsumerName, w.cfg.Concurrency)

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(w.cfg.Concurrency)

	lastClaim := time.Now()
	for ctx.Err() == nil {
		var messages []redis.StreamMessage
		var err error
		if time.Since(lastClaim) >= w.cfg.ClaimMinIdle {
			lastClaim = time.Now()
			messages, err = w.streams.Reclaim(ctx, w.cfg.Stream, w.cfg.ConsumerGroup, w.cfg.ConsumerName, w.cfg.ClaimMinIdle, int64(w.cfg.Concurrency))
		} else {
			messages, err = w.streams.Consume(ctx, w.cfg.Stream, w.cfg.ConsumerGroup, w.cfg.ConsumerName, int64(w.cfg.Concurrency), w.cfg.BlockTimeout)
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.WithContext(ctx).WithError(err).Warn("Failed to read sync queue")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range messages {
			g.Go(func() error {
				w.process(gctx, msg)
				return nil
			})
		}
	}

	w.logger.WithContext(ctx).Info("Sync worker draining")
	return g.Wait()
}

func (w *Worker) process(ctx context.Context, msg redis.StreamMessage) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Worker.process")
	defer span.End()

	job := msg.Job
	log := w.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id":    msg.ID,
		"job_id":        job.ID,
		"tenant_id":     job.TenantID,
		"connection_id": job.ConnectionID,
	})

	ctx, err := withJobContext(ctx, job.TenantID, job.ActorID, job.ID)
	if err != nil {
		log.WithError(err).Warn("Dropping invalid sync job")
		w.ack(ctx, msg, "invalid")
		return
	}
	connectionID, err := uuid.Parse(job.ConnectionID)
	if err != nil {
		log.WithError(err).Warn("Dropping invalid sync job")
		w.ack(ctx, msg, "invalid")
		return
	}

	report, err := w.service.SyncNow(ctx, connectionID)
	if err != nil {
		status := httperror.GetStatusCode(err)
		if status >= 400 && status < 500 && status != 409 {
			log.WithError(err).Warn("Sync job cannot succeed, dropping")
			w.ack(ctx, msg, "dropped")
			return
		}
		log.WithError(err).Warn("Sync job failed, will be retried")
		metrics.RecordQueueJob("retry")
		return
	}

	log.WithFields(map[string]any{"status": report.Status}).Info("Sync job processed")
	w.ack(ctx, msg, string(report.Status))
}

func (w *Worker) ack(ctx context.Context, msg redis.StreamMessage, status string) {
	metrics.RecordQueueJob(status)
	if err := w.streams.Ack(context.WithoutCancel(ctx), w.cfg.Stream, w.cfg.ConsumerGroup, msg.ID); err != nil {
		w.logger.WithContext(ctx).WithError(err).Warnf("Failed to ack message %s", msg.ID)
	}
}
