package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublish(t *testing.T) {
	writer := &recordingWriter{}
	producer := &Producer{writer: writer, logger: getTestLogger(), topic: "clover.events"}

	err := producer.Publish(context.Background(), "entity-1", map[string]string{"event_type": "entity.merged"}, map[string]any{"a": 1})
	require.NoError(t, err)
	require.Len(t, writer.msgs, 1)

	msg := writer.msgs[0]
	assert.Equal(t, "entity-1", string(msg.Key))
	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, float64(1), body["a"])
	require.NotEmpty(t, msg.Headers)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "entity.merged", string(msg.Headers[0].Value))
}

func TestPublish_ReturnsWriterError(t *testing.T) {
	producer := &Producer{writer: &recordingWriter{err: errors.New("broker down")}, logger: getTestLogger(), topic: "t"}
	assert.Error(t, producer.Publish(context.Background(), "k", nil, "v"))
}
