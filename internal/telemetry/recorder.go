// Package telemetry records engine metrics asynchronously so that
// persistence never stalls a trading loop.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/logger"
)

// Metric is one recorded measurement.
type Metric struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol"`
	Name   string    `json:"name"`
	Value  float64   `json:"value"`
}

// Storage persists metric batches.
type Storage interface {
	WriteBatch(ctx context.Context, metrics []Metric) error
	Close() error
}

// Recorder buffers metrics in a bounded queue and flushes them to
// storage in batches from a worker goroutine. Record never blocks:
// when the queue is full the metric is dropped and counted.
type Recorder struct {
	queue     chan Metric
	storage   Storage
	batchSize int
	flushEach time.Duration
	log       *logger.Logger
	dropped   atomic.Uint64
}

// NewRecorder creates a recorder. Call Run in a goroutine to start
// flushing.
func NewRecorder(storage Storage, queueSize, batchSize int, flushEach time.Duration, log *logger.Logger) *Recorder {
	return &Recorder{
		queue:     make(chan Metric, queueSize),
		storage:   storage,
		batchSize: batchSize,
		flushEach: flushEach,
		log:       log,
	}
}

// Record enqueues a metric without blocking. Dropped metrics are
// counted and surfaced via Dropped.
func (r *Recorder) Record(m Metric) {
	if m.Time.IsZero() {
		m.Time = time.Now().UTC()
	}

	select {
	case r.queue <- m:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of metrics discarded because the queue
// was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run flushes batches until ctx is cancelled, then drains the queue
// one final time. Storage failures are logged and the batch is
// discarded; recording telemetry is best effort.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushEach)
	defer ticker.Stop()

	batch := make([]Metric, 0, r.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := r.storage.WriteBatch(context.Background(), batch); err != nil {
			r.log.Warn("telemetry flush failed, dropping batch",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
		}

		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Final drain.
			for {
				select {
				case m := <-r.queue:
					batch = append(batch, m)

					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()

					return
				}
			}
		case m := <-r.queue:
			batch = append(batch, m)

			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
