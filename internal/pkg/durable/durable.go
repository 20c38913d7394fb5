// Package durable implements fire-and-forget writes that never drop a record:
// each write goes to a primary store first and falls back to a TTL-bounded
// buffer store, which a Flusher later drains back into the primary.
package durable

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/callmonitor/courier/internal/pkg/metrics"
	"go.uber.org/zap"
)

const (
	// DefaultTTL bounds how long an unflushed record stays in the buffer.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultWriteTimeout bounds a single primary or buffer write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultBatchSize is used by Flush when batchSize <= 0.
	DefaultBatchSize = 100

	keyPrefix = "courier:dlq:"
)

// BufferStore is the secondary key-value store holding records whose primary
// write failed. Reads may be stale.
type BufferStore interface {
	// Put stores value under key with an expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns (nil, nil) when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns up to limit keys with the given prefix, oldest first.
	List(ctx context.Context, prefix string, limit int) ([]string, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// PrimaryFunc writes one record to the primary store.
type PrimaryFunc[T any] func(ctx context.Context, rec T) error

// Buffered is the serialized form of a record held in the buffer store.
type Buffered[T any] struct {
	Record   T         `json:"record"`
	FailedAt time.Time `json:"failed_at"`
}

// Outcome reports where a record ended up.
type Outcome string

const (
	OutcomePrimary  Outcome = "primary"
	OutcomeBuffered Outcome = "buffered"
	OutcomeLost     Outcome = "lost"
)

type options struct {
	logger  *zap.Logger
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Writer or Flusher.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTTL sets the buffer expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithWriteTimeout sets the per-write deadline for background writes.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  zap.NewNop(),
		ttl:     DefaultTTL,
		timeout: DefaultWriteTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Prefix returns the buffer key prefix used for a named stream.
func Prefix(stream string) string { return keyPrefix + stream + ":" }

// Writer persists records of type T with a buffer fallback.
type Writer[T any] struct {
	stream  string
	prefix  string
	primary PrimaryFunc[T]
	buffer  BufferStore
	opts    options
	wg      sync.WaitGroup
}

// NewWriter creates a Writer for the named stream.
func NewWriter[T any](stream string, primary PrimaryFunc[T], buffer BufferStore, opts ...Option) *Writer[T] {
	o := buildOptions(opts)
	o.logger = o.logger.With(zap.String("stream", stream))
	return &Writer[T]{
		stream:  stream,
		prefix:  Prefix(stream),
		primary: primary,
		buffer:  buffer,
		opts:    o,
	}
}

// Write persists rec in the background and returns immediately. It never
// fails the caller: problems end up in the buffer or in the logs.
func (w *Writer[T]) Write(ctx context.Context, rec T) {
	bg := context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.opts.logger.Error("durable write panicked", zap.Any("panic", r))
			}
		}()
		w.Persist(bg, rec)
	}()
}

// Persist runs the write synchronously and reports the outcome.
func (w *Writer[T]) Persist(ctx context.Context, rec T) Outcome {
	primaryErr := w.writePrimary(ctx, rec)
	if primaryErr == nil {
		metrics.DurableWritesTotal.WithLabelValues(w.stream, string(OutcomePrimary)).Inc()
		return OutcomePrimary
	}
	w.opts.logger.Warn("primary write failed, buffering record", zap.Error(primaryErr))

	key, bufferErr := w.writeBuffer(ctx, rec)
	if bufferErr != nil {
		metrics.DurableWritesTotal.WithLabelValues(w.stream, string(OutcomeLost)).Inc()
		w.opts.logger.Error("record lost: primary and buffer writes both failed",
			zap.NamedError("primary_error", primaryErr),
			zap.NamedError("buffer_error", bufferErr),
			zap.Any("record", rec),
		)
		return OutcomeLost
	}
	metrics.DurableWritesTotal.WithLabelValues(w.stream, string(OutcomeBuffered)).Inc()
	w.opts.logger.Info("record buffered", zap.String("key", key))
	return OutcomeBuffered
}

// Wait blocks until all background writes started by Write have finished.
func (w *Writer[T]) Wait() { w.wg.Wait() }

// Prefix returns the buffer key prefix of this writer's stream.
func (w *Writer[T]) Prefix() string { return w.prefix }

func (w *Writer[T]) writePrimary(ctx context.Context, rec T) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.timeout)
	defer cancel()
	return w.primary(ctx, rec)
}

func (w *Writer[T]) writeBuffer(ctx context.Context, rec T) (string, error) {
	now := w.opts.now()
	body, err := json.Marshal(Buffered[T]{Record: rec, FailedAt: now.UTC()})
	if err != nil {
		return "", fmt.Errorf("encode buffered record: %w", err)
	}
	key, err := newKey(w.prefix, now)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.timeout)
	defer cancel()
	if err := w.buffer.Put(ctx, key, body, w.opts.ttl); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// newKey builds a lexically time-ordered, collision-resistant buffer key.
func newKey(prefix string, now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate key suffix: %w", err)
	}
	return fmt.Sprintf("%s%020d-%s", prefix, now.UnixNano(), hex.EncodeToString(suffix)), nil
}
