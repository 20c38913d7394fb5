package durable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/callmonitor/courier/internal/pkg/metrics"
	"go.uber.org/zap"
)

// FlushResult summarizes one flush cycle.
type FlushResult struct {
	Flushed int `json:"flushed"`
	Failed  int `json:"failed"`
	Dropped int `json:"dropped"`
}

// Flusher drains a stream's buffer back into the primary store.
type Flusher[T any] struct {
	stream  string
	prefix  string
	primary PrimaryFunc[T]
	buffer  BufferStore
	opts    options
}

// NewFlusher creates a Flusher for the named stream. It must use the same
// stream name as the Writer that fills the buffer.
func NewFlusher[T any](stream string, primary PrimaryFunc[T], buffer BufferStore, opts ...Option) *Flusher[T] {
	o := buildOptions(opts)
	o.logger = o.logger.With(zap.String("stream", stream))
	return &Flusher[T]{
		stream:  stream,
		prefix:  Prefix(stream),
		primary: primary,
		buffer:  buffer,
		opts:    o,
	}
}

// Flush re-attempts up to batchSize buffered records, oldest first, one at a
// time. A failing record stays buffered and does not stop the batch; a record
// that cannot be decoded is deleted. Only a failure to list the buffer is
// returned as an error.
func (f *Flusher[T]) Flush(ctx context.Context, batchSize int) (FlushResult, error) {
	var res FlushResult
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	keys, err := f.buffer.List(ctx, f.prefix, batchSize)
	if err != nil {
		return res, fmt.Errorf("list buffered records: %w", err)
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		switch f.flushOne(ctx, key) {
		case flushOK:
			res.Flushed++
			metrics.DurableFlushTotal.WithLabelValues(f.stream, "flushed").Inc()
		case flushFailed:
			res.Failed++
			metrics.DurableFlushTotal.WithLabelValues(f.stream, "failed").Inc()
		case flushDropped:
			res.Dropped++
			metrics.DurableFlushTotal.WithLabelValues(f.stream, "dropped").Inc()
		}
	}

	if len(keys) > 0 {
		f.opts.logger.Info("flush cycle finished",
			zap.Int("flushed", res.Flushed),
			zap.Int("failed", res.Failed),
			zap.Int("dropped", res.Dropped),
		)
	}
	return res, nil
}

type flushStatus int

const (
	flushSkipped flushStatus = iota
	flushOK
	flushFailed
	flushDropped
)

func (f *Flusher[T]) flushOne(ctx context.Context, key string) flushStatus {
	log := f.opts.logger.With(zap.String("key", key))

	raw, err := f.buffer.Get(ctx, key)
	if err != nil {
		log.Warn("read buffered record failed", zap.Error(err))
		return flushFailed
	}
	if raw == nil {
		// Expired or already flushed by a concurrent run.
		return flushSkipped
	}

	var entry Buffered[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn("dropping undecodable buffered record", zap.Error(err))
		if delErr := f.buffer.Delete(ctx, key); delErr != nil {
			log.Warn("delete undecodable record failed", zap.Error(delErr))
		}
		return flushDropped
	}

	wctx, cancel := context.WithTimeout(ctx, f.opts.timeout)
	err = f.primary(wctx, entry.Record)
	cancel()
	if err != nil {
		log.Warn("flush write failed, keeping record buffered",
			zap.Time("failed_at", entry.FailedAt),
			zap.Error(err),
		)
		return flushFailed
	}

	if err := f.buffer.Delete(ctx, key); err != nil {
		// The record is already in the primary store; it may be written again
		// next cycle.
		log.Warn("delete flushed record failed", zap.Error(err))
	}
	return flushOK
}
