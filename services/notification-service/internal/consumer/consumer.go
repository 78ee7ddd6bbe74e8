// Package consumer reads appointment events from Kafka and routes them to dispatch and jobs.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox de-duplicates events that Kafka redelivers.
type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Reader is the subset of *kafka.Reader the consumer needs. Offsets are committed explicitly.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader   Reader
	logger   *slog.Logger
	inbox    Inbox
	handler  Handler
	retryMin time.Duration
	retryMax time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

type Config struct {
	Brokers string
	GroupID string
	Topics  []string
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newConsumer(reader, logger, inbox, handler)
}

func newConsumer(reader Reader, logger *slog.Logger, inbox Inbox, handler Handler) *Consumer {
	return &Consumer{
		reader:   reader,
		logger:   logger,
		inbox:    inbox,
		handler:  handler,
		retryMin: time.Second,
		retryMax: 30 * time.Second,
		sleep:    sleepCtx,
	}
}

// Run consumes until ctx is cancelled. A message is committed only once it has been handled,
// found to be a duplicate, or dropped as malformed by the handler. A failing message is retried
// in place so later offsets never get committed past it.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			if c.sleep(ctx, c.retryMin) != nil {
				return
			}
			continue
		}

		if !c.process(ctx, msg) {
			// Shutting down; the uncommitted offset is redelivered to the next member.
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		}
	}
}

// process retries msg with capped exponential backoff until it succeeds or ctx ends.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	delay := c.retryMin
	for attempt := 1; ; attempt++ {
		err := c.consume(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Warn("event processing failed",
			"attempt", attempt,
			"retry_in", delay,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"err", err,
		)
		if c.sleep(ctx, delay) != nil {
			return false
		}
		delay *= 2
		if delay > c.retryMax {
			delay = c.retryMax
		}
	}
}

func (c *Consumer) consume(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()
	return c.handle(ctxSpan, span, msg)
}

func (c *Consumer) handle(ctx context.Context, span trace.Span, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)

	ok, err := c.inbox.Record(ctx, meta.EventID, meta.EventType)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !ok {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	if err := c.handler(ctx, msg); err != nil {
		span.RecordError(err)
		if ferr := c.inbox.Forget(ctx, meta.EventID); ferr != nil {
			c.logger.Error("inbox forget failed", "err", ferr, "event_id", meta.EventID)
		}
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
