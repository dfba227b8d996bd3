package sessions

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 15 * time.Minute

var errMissingPurger = errors.New("sessions: purger required")

// ExpiredPurger removes expired sessions in bulk.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SweeperConfig configures the background expired-session cleanup.
type SweeperConfig struct {
	Purger   ExpiredPurger
	Interval time.Duration
	Logger   *zap.Logger
}

// Sweeper periodically deletes expired session records.
type Sweeper struct {
	purger   ExpiredPurger
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Purger == nil {
		return nil, errMissingPurger
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{purger: cfg.Purger, interval: interval, logger: logger}, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single purge and logs its outcome.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	removed, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("session sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("expired sessions purged", zap.Int64("removed", removed))
	}
}
