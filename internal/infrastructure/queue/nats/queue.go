package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/medguide-rag/internal/infrastructure/resilience"
)

const workerQueueGroup = "guideline-workers"

// Queue carries two event streams: uploaded guideline ids, consumed by one
// worker each, and snapshot generations, fanned out to every API replica.
type Queue struct {
	conn            *nats.Conn
	uploadSubject   string
	snapshotSubject string
	executor        *resilience.Executor
	logger          *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, uploadSubject, snapshotSubject string) (*Queue, error) {
	return NewWithOptions(url, uploadSubject, snapshotSubject, Options{})
}

func NewWithOptions(url, uploadSubject, snapshotSubject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("medguide-rag"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:            conn,
		uploadSubject:   uploadSubject,
		snapshotSubject: snapshotSubject,
		executor:        options.ResilienceExecutor,
		logger:          logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishGuidelineUploaded(ctx context.Context, guidelineID string) error {
	return q.publish(ctx, q.uploadSubject, []byte(guidelineID))
}

func (q *Queue) PublishSnapshotUpdated(ctx context.Context, generation uint64) error {
	return q.publish(ctx, q.snapshotSubject, encodeGeneration(generation))
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	_, err := resilience.Do(ctx, q.executor, "nats.publish", func(context.Context) (struct{}, error) {
		if err := q.conn.Publish(subject, payload); err != nil {
			return struct{}{}, fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return struct{}{}, nil
	}, classifyNATSError)
	return resilience.WrapTemporary("nats publish", err, classifyNATSError)
}

// SubscribeGuidelineUploaded blocks until ctx is done, then drains.
func (q *Queue) SubscribeGuidelineUploaded(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.uploadSubject, workerQueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		guidelineID := strings.TrimSpace(string(msg.Data))
		if err := handler(ctx, guidelineID); err != nil {
			q.logger.Error("upload_handler_failed", "guideline_id", guidelineID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	return q.waitAndDrain(ctx, sub)
}

// SubscribeSnapshotUpdated blocks until ctx is done, then drains. Malformed
// payloads are logged and dropped.
func (q *Queue) SubscribeSnapshotUpdated(ctx context.Context, handler func(context.Context, uint64) error) error {
	sub, err := q.conn.Subscribe(q.snapshotSubject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		generation, err := decodeGeneration(msg.Data)
		if err != nil {
			q.logger.Warn("snapshot_event_malformed", "payload", string(msg.Data), "error", err)
			return
		}
		if err := handler(ctx, generation); err != nil {
			q.logger.Error("snapshot_handler_failed", "generation", generation, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	return q.waitAndDrain(ctx, sub)
}

func (q *Queue) waitAndDrain(ctx context.Context, sub *nats.Subscription) error {
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeGeneration(generation uint64) []byte {
	return strconv.AppendUint(nil, generation, 10)
}

func decodeGeneration(data []byte) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
