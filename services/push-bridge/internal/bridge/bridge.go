// Package bridge turns a Kafka consumer group into a push subscription: each
// message is POSTed to the worker, and its offset is committed once the
// worker acknowledges or redelivery gives up.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/flowrunner/libs/events"
	"github.com/md-rashed-zaman/flowrunner/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MessageReader is the part of *kafka.Reader the bridge needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Pusher interface {
	Deliver(ctx context.Context, body events.PushBody) error
}

type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 10 * time.Minute
	}
	return c
}

type Bridge struct {
	reader       MessageReader
	pusher       Pusher
	logger       *slog.Logger
	subscription string
	retry        RetryConfig
}

func New(reader MessageReader, pusher Pusher, logger *slog.Logger, subscription string, retry RetryConfig) *Bridge {
	return &Bridge{
		reader:       reader,
		pusher:       pusher,
		logger:       logger,
		subscription: subscription,
		retry:        retry.withDefaults(),
	}
}

func (b *Bridge) Run(ctx context.Context) {
	defer b.reader.Close()

	for {
		msg, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("kafka fetch error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if !b.handle(ctx, msg) {
			return
		}
	}
}

// handle delivers msg and commits it. It returns false only when ctx ended
// before the message was settled, leaving the offset uncommitted.
func (b *Bridge) handle(ctx context.Context, msg kafka.Message) bool {
	msgCtx := kafkax.ExtractTraceContext(ctx, msg)
	spanCtx, span := otel.Tracer("push-bridge").Start(msgCtx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	messageID := kafkax.MessageID(msg)
	log := b.logger.With("message_id", messageID, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	body := events.WrapPush(msg.Value, messageID, kafkax.Attributes(msg), msg.Time, b.subscription)

	attempts := 0
	_, err := backoff.Retry(spanCtx, func() (struct{}, error) {
		attempts++
		return struct{}{}, b.pusher.Deliver(spanCtx, body)
	},
		backoff.WithBackOff(b.newBackOff()),
		backoff.WithMaxElapsedTime(b.retry.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("push delivery failed, redelivering", "err", err, "attempts", attempts, "retry_in", next.String())
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "redelivery exhausted")
		log.Error("push delivery abandoned", "err", err, "attempts", attempts)
	}

	if err := b.reader.CommitMessages(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return false
		}
		log.Error("kafka commit failed", "err", err)
	}
	return true
}

func (b *Bridge) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.retry.InitialInterval
	bo.MaxInterval = b.retry.MaxInterval
	return bo
}
