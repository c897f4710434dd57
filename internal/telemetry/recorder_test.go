package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/pkg/errors"
)

// memStorage collects flushed batches for assertions.
type memStorage struct {
	mu      sync.Mutex
	batches [][]Metric
	fail    bool
}

func (s *memStorage) WriteBatch(_ context.Context, metrics []Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errors.New(errors.ErrCodeStorageFailed, "disk full")
	}

	batch := make([]Metric, len(metrics))
	copy(batch, metrics)
	s.batches = append(s.batches, batch)

	return nil
}

func (s *memStorage) Close() error { return nil }

func (s *memStorage) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, b := range s.batches {
		n += len(b)
	}

	return n
}

type RecorderTestSuite struct {
	suite.Suite
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderTestSuite))
}

func (suite *RecorderTestSuite) TestRecordNeverBlocksWhenQueueFull() {
	storage := &memStorage{}
	rec := NewRecorder(storage, 2, 10, time.Hour, logger.NewNopLogger())

	// No worker running: the queue fills and further records drop.
	for i := 0; i < 5; i++ {
		rec.Record(Metric{Symbol: "BTCUSDT", Name: "tick", Value: float64(i)})
	}

	suite.Equal(uint64(3), rec.Dropped())
}

func (suite *RecorderTestSuite) TestDrainsOnShutdown() {
	storage := &memStorage{}
	rec := NewRecorder(storage, 16, 4, time.Hour, logger.NewNopLogger())

	for i := 0; i < 10; i++ {
		rec.Record(Metric{Symbol: "BTCUSDT", Name: "tick", Value: float64(i)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		suite.FailNow("recorder did not drain on shutdown")
	}

	suite.Equal(10, storage.total())
}

func (suite *RecorderTestSuite) TestBatchSizeTriggersFlush() {
	storage := &memStorage{}
	rec := NewRecorder(storage, 16, 3, time.Hour, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		rec.Record(Metric{Symbol: "BTCUSDT", Name: "tick", Value: float64(i)})
	}

	suite.Eventually(func() bool {
		return storage.total() == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func (suite *RecorderTestSuite) TestStorageFailureDoesNotStopRecorder() {
	storage := &memStorage{fail: true}
	rec := NewRecorder(storage, 16, 2, time.Hour, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	rec.Record(Metric{Symbol: "BTCUSDT", Name: "tick", Value: 1})
	rec.Record(Metric{Symbol: "BTCUSDT", Name: "tick", Value: 2})

	// The failed batch is dropped; the recorder keeps accepting.
	rec.Record(Metric{Symbol: "BTCUSDT", Name: "tick", Value: 3})

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		suite.FailNow("recorder stalled after storage failure")
	}
}

func (suite *RecorderTestSuite) TestRecordStampsMissingTime() {
	storage := &memStorage{}
	rec := NewRecorder(storage, 4, 4, time.Hour, logger.NewNopLogger())

	rec.Record(Metric{Symbol: "BTCUSDT", Name: "tick", Value: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	suite.Require().Equal(1, storage.total())
	suite.False(storage.batches[0][0].Time.IsZero())
}
