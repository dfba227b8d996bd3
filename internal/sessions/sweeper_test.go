package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingPurger struct {
	calls   atomic.Int64
	removed int64
	err     error
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return p.removed, p.err
}

func TestSweeperSweepOnceLogsRemovals(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	purger := &countingPurger{removed: 3}
	sweeper, err := NewSweeper(SweeperConfig{Purger: purger, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to build sweeper: %v", err)
	}

	sweeper.SweepOnce(context.Background())

	entries := logs.FilterMessage("expired sessions purged").All()
	if len(entries) != 1 {
		t.Fatalf("expected one purge log entry, got %d", len(entries))
	}
}

func TestSweeperSweepOnceLogsFailuresAtErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	purger := &countingPurger{err: errors.New("disk full")}
	sweeper, err := NewSweeper(SweeperConfig{Purger: purger, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to build sweeper: %v", err)
	}

	sweeper.SweepOnce(context.Background())

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected a single error entry, got %#v", entries)
	}
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	purger := &countingPurger{}
	sweeper, err := NewSweeper(SweeperConfig{Purger: purger, Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to build sweeper: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for purger.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated sweeps, got %d", purger.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop after cancellation")
	}
}

func TestNewSweeperRequiresPurger(t *testing.T) {
	if _, err := NewSweeper(SweeperConfig{}); !errors.Is(err, errMissingPurger) {
		t.Fatalf("expected missing purger error, got %v", err)
	}
}
