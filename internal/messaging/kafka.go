package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/config"
	"github.com/temcen/itemcf/pkg/models"
)

const maxRetries = 3

// EventMessage is the envelope of a tracked storefront event on the bus.
type EventMessage struct {
	EventID    uuid.UUID         `json:"event_id"`
	Event      models.TrackEvent `json:"event"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
}

// EventHandler persists one event. Returning an error triggers a retry.
type EventHandler func(ctx context.Context, event *models.TrackEvent) error

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// MessageBus carries tracked events from the HTTP layer to the event store
// through Kafka, so request latency never depends on the database.
type MessageBus struct {
	topic     string
	writer    messageWriter
	reader    messageReader
	dlqWriter messageWriter
	baseDelay time.Duration
	logger    *logrus.Logger
}

func NewMessageBus(cfg config.KafkaConfig, logger *logrus.Logger) (*MessageBus, error) {
	if !cfg.Enabled() {
		return nil, errors.New("no Kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{}, // keyed by user, keeps a user's events ordered
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.EventsTopic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic + "-dlq",
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return newMessageBus(cfg.EventsTopic, writer, reader, dlqWriter, logger), nil
}

func newMessageBus(topic string, writer messageWriter, reader messageReader, dlqWriter messageWriter, logger *logrus.Logger) *MessageBus {
	return &MessageBus{
		topic:     topic,
		writer:    writer,
		reader:    reader,
		dlqWriter: dlqWriter,
		baseDelay: time.Second,
		logger:    logger,
	}
}

// PublishEvent puts a tracked event on the bus.
func (mb *MessageBus) PublishEvent(ctx context.Context, event *models.TrackEvent) error {
	message := EventMessage{
		EventID:   uuid.New(),
		Event:     *event,
		Timestamp: time.Now().UTC(),
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	userKey := []byte(strconv.FormatInt(event.UserID, 10))
	kafkaMessage := kafka.Message{
		Key:   userKey,
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(message.EventID.String())},
			{Key: "action", Value: []byte(event.Action)},
			{Key: "timestamp", Value: []byte(message.Timestamp.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.writer.WriteMessages(ctx, kafkaMessage); err != nil {
		mb.logger.WithError(err).WithField("event_id", message.EventID).Error("Failed to publish event to Kafka")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id": message.EventID,
		"user_id":  event.UserID,
		"action":   event.Action,
		"topic":    mb.topic,
	}).Debug("Event published to Kafka")

	return nil
}

// ConsumeEvents reads events until ctx is done, handing each to handler.
// Events that still fail after retries are dead-lettered.
func (mb *MessageBus) ConsumeEvents(ctx context.Context, handler EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		message, err := mb.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		var eventMessage EventMessage
		if err := json.Unmarshal(message.Value, &eventMessage); err != nil {
			mb.logger.WithError(err).Error("Failed to unmarshal Kafka message")
			if dlqErr := mb.sendRawToDLQ(ctx, message, err); dlqErr != nil {
				mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
			continue
		}

		if err := mb.processWithRetry(ctx, &eventMessage, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).WithField("event_id", eventMessage.EventID).Error("Failed to process event after retries")
			if dlqErr := mb.sendToDLQ(ctx, eventMessage, err); dlqErr != nil {
				mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
		}
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, message *EventMessage, handler EventHandler) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := mb.baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"event_id": message.EventID,
				"attempt":  attempt,
				"delay":    delay,
			}).Info("Retrying event processing")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		message.RetryCount = attempt
		err := handler(ctx, &message.Event)
		if err == nil {
			return nil
		}

		mb.logger.WithError(err).WithFields(logrus.Fields{
			"event_id": message.EventID,
			"attempt":  attempt,
		}).Warn("Event processing failed")

		if attempt == maxRetries {
			return fmt.Errorf("max retries exceeded: %w", err)
		}
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, message EventMessage, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": message,
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now().UTC(),
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	return mb.writeDLQ(ctx, kafka.Message{
		Key:   []byte(message.EventID.String()),
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(message.EventID.String())},
			{Key: "original_topic", Value: []byte(mb.topic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}, originalError)
}

func (mb *MessageBus) sendRawToDLQ(ctx context.Context, message kafka.Message, originalError error) error {
	return mb.writeDLQ(ctx, kafka.Message{
		Key:   message.Key,
		Value: message.Value,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(mb.topic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}, originalError)
}

func (mb *MessageBus) writeDLQ(ctx context.Context, message kafka.Message, originalError error) error {
	if err := mb.dlqWriter.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"key":   string(message.Key),
		"error": originalError.Error(),
	}).Warn("Message sent to DLQ")
	return nil
}

func (mb *MessageBus) Close() error {
	var errs []error

	if err := mb.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := mb.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	return errors.Join(errs...)
}
