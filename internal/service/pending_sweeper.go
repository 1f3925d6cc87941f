package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 10 * time.Minute

// PendingSweeper borra periódicamente registros vencidos. Su ciclo de vida lo
// controla quien llama a Run: termina cuando se cancela ctx.
type PendingSweeper struct {
	store    PendingStore
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewPendingSweeper(store PendingStore, interval time.Duration, logger *zap.Logger) *PendingSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingSweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *PendingSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("pending sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pending sweeper stopped")
			return nil
		case <-ticker.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce ejecuta una pasada y registra el resultado.
func (s *PendingSweeper) SweepOnce(ctx context.Context) (int, error) {
	removed, err := s.store.SweepExpired(ctx, s.now().UTC())
	if err != nil {
		s.logger.Warn("pending sweep failed", zap.Error(err))
		return removed, err
	}
	if removed > 0 {
		s.logger.Info("pending registrations swept", zap.Int("removed", removed))
	}
	return removed, nil
}
