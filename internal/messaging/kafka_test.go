package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/itemcf/internal/config"
	"github.com/temcen/itemcf/pkg/models"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	messages chan kafka.Message
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{messages: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.messages <- m
	}
	return r
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.messages:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error { return nil }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testEvent() *models.TrackEvent {
	return &models.TrackEvent{
		UserID:         42,
		ProductID:      7,
		Action:         models.ActionPurchase,
		ExperimentName: "default_recommendation_experiment",
		Group:          "v2",
		OccurredAt:     time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestBus(writer, dlq *fakeWriter, reader *fakeReader) *MessageBus {
	bus := newMessageBus("recommendation-events", writer, reader, dlq, testLogger())
	bus.baseDelay = time.Millisecond
	return bus
}

func TestNewMessageBus_RequiresBrokers(t *testing.T) {
	_, err := NewMessageBus(config.KafkaConfig{EventsTopic: "events"}, testLogger())
	assert.Error(t, err)
}

func TestMessageBus_PublishEvent(t *testing.T) {
	writer := &fakeWriter{}
	bus := newTestBus(writer, &fakeWriter{}, newFakeReader())

	require.NoError(t, bus.PublishEvent(context.Background(), testEvent()))

	written := writer.written()
	require.Len(t, written, 1)
	assert.Equal(t, "42", string(written[0].Key))

	var message EventMessage
	require.NoError(t, json.Unmarshal(written[0].Value, &message))
	assert.Equal(t, int64(7), message.Event.ProductID)
	assert.Equal(t, models.ActionPurchase, message.Event.Action)
	assert.Equal(t, "v2", message.Event.Group)
	assert.Zero(t, message.RetryCount)

	headers := map[string]string{}
	for _, h := range written[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, message.EventID.String(), headers["event_id"])
	assert.Equal(t, "purchase", headers["action"])
}

func TestMessageBus_PublishEventFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	bus := newTestBus(writer, &fakeWriter{}, newFakeReader())

	err := bus.PublishEvent(context.Background(), testEvent())
	assert.ErrorContains(t, err, "broker down")
}

func encodedMessage(t *testing.T, event *models.TrackEvent) kafka.Message {
	t.Helper()
	value, err := json.Marshal(EventMessage{Event: *event, Timestamp: time.Now()})
	require.NoError(t, err)
	return kafka.Message{Key: []byte("42"), Value: value}
}

func TestMessageBus_ConsumeEvents(t *testing.T) {
	tests := []struct {
		name          string
		failures      int
		expectedCalls int
		expectDLQ     bool
	}{
		{name: "first attempt succeeds", failures: 0, expectedCalls: 1},
		{name: "succeeds after retries", failures: 2, expectedCalls: 3},
		{name: "dead-lettered after max retries", failures: 10, expectedCalls: maxRetries + 1, expectDLQ: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dlq := &fakeWriter{}
			bus := newTestBus(&fakeWriter{}, dlq, newFakeReader(encodedMessage(t, testEvent())))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var (
				mu    sync.Mutex
				calls int
			)
			done := make(chan struct{})
			handler := func(_ context.Context, event *models.TrackEvent) error {
				mu.Lock()
				defer mu.Unlock()
				calls++
				assert.Equal(t, int64(7), event.ProductID)
				if calls == tt.expectedCalls {
					close(done)
				}
				if calls <= tt.failures {
					return errors.New("database unavailable")
				}
				return nil
			}

			errCh := make(chan error, 1)
			go func() { errCh <- bus.ConsumeEvents(ctx, handler) }()

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("handler was not called")
			}

			require.Eventually(t, func() bool {
				return !tt.expectDLQ || len(dlq.written()) == 1
			}, 5*time.Second, 5*time.Millisecond)

			cancel()
			assert.ErrorIs(t, <-errCh, context.Canceled)

			mu.Lock()
			assert.Equal(t, tt.expectedCalls, calls)
			mu.Unlock()

			if tt.expectDLQ {
				msg := dlq.written()[0]
				var payload map[string]interface{}
				require.NoError(t, json.Unmarshal(msg.Value, &payload))
				assert.Contains(t, payload["error"], "max retries exceeded")
			} else {
				assert.Empty(t, dlq.written())
			}
		})
	}
}

func TestMessageBus_MalformedMessageGoesToDLQ(t *testing.T) {
	dlq := &fakeWriter{}
	bus := newTestBus(&fakeWriter{}, dlq, newFakeReader(kafka.Message{Key: []byte("k"), Value: []byte("{broken")}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- bus.ConsumeEvents(ctx, func(context.Context, *models.TrackEvent) error {
			t.Error("handler must not be called for malformed messages")
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(dlq.written()) == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	assert.Equal(t, "{broken", string(dlq.written()[0].Value))
}
