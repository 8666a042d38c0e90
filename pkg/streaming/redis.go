package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStreamPrefix is prepended to event names to build stream keys.
const DefaultStreamPrefix = "betselect"

// RedisEmitter publishes selector events to Redis Streams.
// Emit enqueues; a worker started by Run performs the XADD.
// It implements betting.EventEmitter.
type RedisEmitter struct {
	client  redis.Cmdable
	prefix  string
	timeout time.Duration
	queue   chan pendingEvent
	log     *zap.Logger

	onFailure func(error)
}

type pendingEvent struct {
	id      string
	name    string
	payload any
	at      time.Time
}

// RedisOption configures a RedisEmitter.
type RedisOption func(*RedisEmitter)

// WithStreamPrefix overrides DefaultStreamPrefix.
func WithStreamPrefix(prefix string) RedisOption {
	return func(e *RedisEmitter) {
		e.prefix = prefix
	}
}

// WithPublishTimeout bounds each XADD.
func WithPublishTimeout(d time.Duration) RedisOption {
	return func(e *RedisEmitter) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithQueueSize sets how many events may wait for the worker before Emit drops.
func WithQueueSize(n int) RedisOption {
	return func(e *RedisEmitter) {
		if n > 0 {
			e.queue = make(chan pendingEvent, n)
		}
	}
}

// WithRedisLogger sets the emitter logger.
func WithRedisLogger(log *zap.Logger) RedisOption {
	return func(e *RedisEmitter) {
		if log != nil {
			e.log = log
		}
	}
}

// WithFailureHook is called for every event that could not be published.
func WithFailureHook(fn func(error)) RedisOption {
	return func(e *RedisEmitter) {
		e.onFailure = fn
	}
}

// NewRedisEmitter creates a Redis Streams emitter.
func NewRedisEmitter(client redis.Cmdable, opts ...RedisOption) *RedisEmitter {
	e := &RedisEmitter{
		client:  client,
		prefix:  DefaultStreamPrefix,
		timeout: 2 * time.Second,
		queue:   make(chan pendingEvent, 1024),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StreamKey maps an event name to its stream, e.g.
// "betting:validation_failed" -> "betselect.betting.validation_failed".
func (e *RedisEmitter) StreamKey(name string) string {
	key := strings.ReplaceAll(name, ":", ".")
	if e.prefix == "" {
		return key
	}
	return e.prefix + "." + key
}

// Emit queues an event for publishing. It never blocks.
func (e *RedisEmitter) Emit(name string, payload any) {
	ev := pendingEvent{
		id:      uuid.New().String(),
		name:    name,
		payload: payload,
		at:      time.Now().UTC(),
	}
	select {
	case e.queue <- ev:
	default:
		e.fail(fmt.Errorf("redis emitter queue full, dropping %s", name))
	}
}

// Run publishes queued events until ctx is done.
func (e *RedisEmitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.queue:
			pubCtx, cancel := context.WithTimeout(ctx, e.timeout)
			err := e.publish(pubCtx, ev)
			cancel()
			if err != nil {
				e.fail(err)
			}
		}
	}
}

// Publish writes one event synchronously.
func (e *RedisEmitter) Publish(ctx context.Context, name string, payload any) error {
	return e.publish(ctx, pendingEvent{
		id:      uuid.New().String(),
		name:    name,
		payload: payload,
		at:      time.Now().UTC(),
	})
}

func (e *RedisEmitter) publish(ctx context.Context, ev pendingEvent) error {
	payloadJSON, err := json.Marshal(ev.payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", ev.name, err)
	}

	streamKey := e.StreamKey(ev.name)
	_, err = e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"event_id":  ev.id,
			"event":     ev.name,
			"timestamp": ev.at.Format(time.RFC3339Nano),
			"payload":   string(payloadJSON),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", streamKey, err)
	}

	return nil
}

func (e *RedisEmitter) fail(err error) {
	e.log.Warn("event publish failed", zap.Error(err))
	if e.onFailure != nil {
		e.onFailure(err)
	}
}
