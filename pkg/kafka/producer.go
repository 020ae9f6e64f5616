package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes JSON messages to a single topic
type Producer struct {
	writer messageWriter
	logger ectologger.Logger
	topic  string
}

func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	var compression kafka.Compression
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "snappy", "":
		compression = kafka.Snappy
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer, logger: logger, topic: cfg.Topic}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Publish marshals value and writes it keyed by key. The active trace parent is attached as the
// traceparent header.
func (p *Producer) Publish(ctx context.Context, key string, headers map[string]string, value any) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.Publish")
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	msg := kafka.Message{Key: []byte(key), Value: data}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if traceParent := tracing.GetTraceParent(ctx); traceParent != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "traceparent", Value: []byte(traceParent)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error")
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic": p.topic,
			"key":   key,
		}).Error("Failed to publish message")
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "success")
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": p.topic,
		"key":   key,
	}).Debug("Published message")
	return nil
}
