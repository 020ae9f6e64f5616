package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SyncJob asks a worker to sync one connection of a tenant.
type SyncJob struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	ActorID      string    `json:"actor_id"`
	ConnectionID string    `json:"connection_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// StreamMessage is a delivered job and the stream entry id to acknowledge
type StreamMessage struct {
	ID  string
	Job SyncJob
}

// Streams provides Redis Streams operations for the sync queue
type Streams struct {
	client *Client
}

func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Publish appends a job to stream
func (s *Streams) Publish(ctx context.Context, stream string, job *SyncJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	id, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": string(payload)},
	}).Result()
	if err != nil {
		s.client.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to stream %s", stream)
		return "", err
	}

	s.client.logger.WithContext(ctx).Debugf("Published job %s to stream %s (message ID: %s)", job.ID, stream, id)
	return id, nil
}

// CreateConsumerGroup creates the group and the stream if missing
func (s *Streams) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := s.client.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Consume reads new messages for consumer. Undecodable entries are acknowledged and dropped.
func (s *Streams) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	results, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, result := range results {
		messages = append(messages, s.decode(ctx, stream, group, result.Messages)...)
	}
	return messages, nil
}

func (s *Streams) decode(ctx context.Context, stream, group string, raw []redis.XMessage) []StreamMessage {
	messages := make([]StreamMessage, 0, len(raw))
	for _, msg := range raw {
		data, _ := msg.Values["data"].(string)

		var job SyncJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			s.client.logger.WithContext(ctx).WithError(err).Warnf("Dropping undecodable message %s", msg.ID)
			_ = s.Ack(ctx, stream, group, msg.ID)
			continue
		}
		messages = append(messages, StreamMessage{ID: msg.ID, Job: job})
	}
	return messages
}

// Reclaim takes over messages another consumer left unacknowledged for at least minIdle.
func (s *Streams) Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error) {
	claimed, _, err := s.client.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.decode(ctx, stream, group, claimed), nil
}

// Ack acknowledges processed messages
func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.rdb.XAck(ctx, stream, group, ids...).Err()
}

// Len returns the length of a stream
func (s *Streams) Len(ctx context.Context, stream string) (int64, error) {
	return s.client.rdb.XLen(ctx, stream).Result()
}
