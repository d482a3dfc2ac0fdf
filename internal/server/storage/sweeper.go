package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"relay/internal/server/database"
	"relay/internal/server/expiry"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sweep_runs_total",
		Help: "Number of expiry sweeps started.",
	})
	sweepEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sweep_evictions_total",
		Help: "Number of expired entries removed by sweeps.",
	})
	sweepStorageFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sweep_storage_delete_failures_total",
		Help: "Number of best-effort storage deletions that failed during sweeps.",
	})
)

// SweepResult summarizes one pass over the registry.
type SweepResult struct {
	Scanned int
	Removed int
	Failed  int
}

// Sweeper periodically evicts expired entries from the registry and
// deletes their stored copies. It is an ordinary registry client.
type Sweeper struct {
	registry database.Registry
	store    Store
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
}

// NewSweeper creates a sweeper. A nil now uses time.Now.
func NewSweeper(registry database.Registry, store Store, interval time.Duration, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		registry: registry,
		store:    store,
		interval: interval,
		now:      now,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("expiry sweeper started", "interval", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run once immediately on start
		s.runSweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.runSweep(ctx)
			case <-ctx.Done():
				slog.Info("expiry sweeper stopping")
				close(s.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweep loop has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

// runSweep runs one sweep, keeping the loop alive across errors and panics.
func (s *Sweeper) runSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("expiry sweep panicked", "panic", r)
		}
	}()

	res, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("expiry sweep failed", "error", err)
		return
	}
	slog.Info("expiry sweep complete",
		"scanned", res.Scanned,
		"removed", res.Removed,
		"failed", res.Failed,
	)
}

// Sweep evicts every entry that is expired now. It works from a snapshot of
// codes and re-reads each entry, skipping codes deleted or renamed since.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	sweepRunsTotal.Inc()

	codes, err := s.registry.Codes(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to snapshot codes: %w", err)
	}

	res := SweepResult{Scanned: len(codes)}
	for _, code := range codes {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		removed, err := s.sweepOne(ctx, code)
		switch {
		case err != nil:
			slog.Error("failed to sweep entry", "code", code, "error", err)
			res.Failed++
		case removed:
			res.Removed++
		}
	}
	return res, nil
}

// sweepOne evicts code if it is expired. A panic is reported as an error so
// the remaining codes are still swept.
func (s *Sweeper) sweepOne(ctx context.Context, code string) (removed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	entry, err := s.registry.Get(ctx, code)
	if errors.Is(err, database.ErrEntryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read entry: %w", err)
	}
	if !expiry.IsExpired(entry, s.now()) {
		return false, nil
	}

	if err := s.store.Delete(ctx, entry.StorageRef); err != nil {
		sweepStorageFailuresTotal.Inc()
		slog.Warn("failed to delete stored copy",
			"code", code,
			"storage_ref", entry.StorageRef,
			"error", err,
		)
	}

	if err := s.registry.Delete(ctx, code); err != nil {
		return false, fmt.Errorf("failed to delete expired entry: %w", err)
	}

	sweepEvictionsTotal.Inc()
	slog.Info("evicted expired entry",
		"code", code,
		"expired_at", entry.ExpiresAt.String(),
	)
	return true, nil
}
