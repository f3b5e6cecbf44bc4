package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const retentionSweepInterval = 1 * time.Hour

// archivePruner deletes durable records older than a cutoff.
type archivePruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionSweeper prunes expired records on a fixed interval.
type RetentionSweeper struct {
	store    *ErrorStore
	archive  archivePruner
	logger   *zap.Logger
	interval time.Duration
	stopChan chan struct{}
}

func NewRetentionSweeper(store *ErrorStore, logger *zap.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		store:    store,
		logger:   logger,
		interval: retentionSweepInterval,
		stopChan: make(chan struct{}),
	}
}

// WithArchive also prunes the durable copy on each sweep.
func (s *RetentionSweeper) WithArchive(archive archivePruner) *RetentionSweeper {
	s.archive = archive
	return s
}

func (s *RetentionSweeper) Start() {
	go s.loop()
}

func (s *RetentionSweeper) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *RetentionSweeper) loop() {
	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *RetentionSweeper) sweep() {
	if removed := s.store.Prune(); removed > 0 {
		s.logger.Info("pruned expired error records", zap.Int("removed", removed), zap.Int("remaining", s.store.Len()))
	}

	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := s.store.now().Add(-s.store.retention)
	removed, err := s.archive.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Warn("failed to prune archived error records", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("pruned archived error records", zap.Int64("removed", removed))
	}
}
