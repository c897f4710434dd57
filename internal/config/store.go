package config

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/logger"
)

// Store guards the active configuration snapshot. Loops call Snapshot
// at the top of each tick; a background refresher swaps in a new
// snapshot when the file changes, so edits take effect on the next
// tick and never mid-tick.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
	log  *logger.Logger
}

// NewStore loads the initial configuration from path.
func NewStore(path string, log *logger.Logger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	return &Store{
		path: path,
		cfg:  cfg,
		log:  log,
	}, nil
}

// Snapshot returns the current configuration. The returned pointer is
// shared and must be treated as immutable.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg
}

// Refresh reloads the configuration file once. An invalid file keeps
// the previous snapshot in place.
func (s *Store) Refresh() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	return nil
}

// Run refreshes the configuration on the snapshot's refresh interval
// until ctx is cancelled. Reload failures are logged and the previous
// snapshot stays active.
func (s *Store) Run(ctx context.Context) {
	for {
		interval := time.Duration(s.Snapshot().Loop.RefreshSeconds * float64(time.Second))

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := s.Refresh(); err != nil {
			s.log.Warn("config refresh failed, keeping previous snapshot",
				zap.String("path", s.path),
				zap.Error(err))

			continue
		}

		s.log.Info("config refreshed", zap.String("path", s.path))
	}
}
