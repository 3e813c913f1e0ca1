// Package kafka consumes telemetry readings from a Kafka topic and feeds them
// into the decision engine, as an alternative ingress to the HTTP API.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/flood-monitor-service/internal/config"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/engine"
)

// Ingestor runs one reading through the decision engine.
type Ingestor interface {
	Ingest(ctx context.Context, sub engine.Submission) (domain.Reading, error)
}

// messageReader is the subset of kafka-go's Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads submissions from the telemetry topic one at a time. Offsets
// commit only after the engine has accepted or permanently rejected a message.
type Consumer struct {
	reader messageReader
	ingest Ingestor
	logger *slog.Logger
}

// NewConsumer creates a Kafka consumer for the configured telemetry topic.
func NewConsumer(cfg *config.Config, ingest Ingestor, logger *slog.Logger) *Consumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
	})
	return &Consumer{
		reader: r,
		ingest: ingest,
		logger: logger.With("component", "kafka_consumer"),
	}
}

// Run consumes until the context is cancelled. Fetch errors back off and
// retry; it never returns an error for individual bad messages.
func (c *Consumer) Run(ctx context.Context) error {
	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	const maxBackoff = 5 * time.Second
	backoff := 200 * time.Millisecond

	c.logger.Info("kafka consumer starting")

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("fetch message failed", "error", err)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		if !c.processMessage(ctx, msg) {
			return nil
		}
	}
}

// processMessage ingests one message, retrying transient storage failures
// without committing so the reading is not lost. Malformed payloads and
// unknown devices are logged and committed past. Returns false on shutdown.
func (c *Consumer) processMessage(ctx context.Context, msg kafkago.Message) bool {
	var sub engine.Submission
	if err := json.Unmarshal(msg.Value, &sub); err != nil {
		c.logger.Warn("skipping malformed message",
			"error", err, "partition", msg.Partition, "offset", msg.Offset)
		return c.commit(ctx, msg)
	}

	const maxBackoff = 5 * time.Second
	backoff := 200 * time.Millisecond

	for {
		_, err := c.ingest.Ingest(ctx, sub)
		switch {
		case err == nil:
			return c.commit(ctx, msg)
		case errors.Is(err, domain.ErrDeviceNotFound):
			c.logger.Warn("skipping reading for unregistered device",
				"device_id", sub.DeviceID, "offset", msg.Offset)
			return c.commit(ctx, msg)
		default:
			c.logger.Error("ingest failed, retrying",
				"device_id", sub.DeviceID, "error", err, "backoff", backoff)
			if !sleepWithContext(ctx, backoff) {
				return false
			}
			backoff = nextBackoff(backoff, maxBackoff)
		}
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafkago.Message) bool {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.logger.Warn("commit offset failed",
			"error", err, "partition", msg.Partition, "offset", msg.Offset)
	}
	return true
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
