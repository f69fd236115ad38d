package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zzkt/aqi/internal/models"
	"github.com/zzkt/aqi/internal/observability"
)

// Refresher is the slice of the pipeline the warmer needs.
type Refresher interface {
	Refresh(ctx context.Context, place string) (models.Entry, error)
}

// Warmer prefetches entries for a fixed list of tracked places so the
// first interactive request finds them present. A fault entry counts as a
// successful warm: the outcome was recorded.
type Warmer struct {
	refresher Refresher
	logger    *zap.Logger
}

func NewWarmer(refresher Refresher, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{refresher: refresher, logger: logger}
}

// Warm refreshes each place concurrently. Returns an aggregated error if
// any place failed at the transport level.
func (w *Warmer) Warm(ctx context.Context, places []string) error {
	start := time.Now()
	observability.WarmingRunsTotal.Inc()
	w.logger.Info("warming store", zap.Int("places", len(places)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(places))
	for _, place := range places {
		wg.Add(1)
		go func(place string) {
			defer wg.Done()
			if _, err := w.refresher.Refresh(ctx, place); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", place, err)
			}
		}(place)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	duration := time.Since(start).Seconds()
	observability.WarmingDurationSeconds.Observe(duration)
	w.logger.Info("store warming complete",
		zap.Int("places", len(places)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))

	if len(errs) > 0 {
		observability.WarmingErrorsTotal.Inc()
		return fmt.Errorf("warm places: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at interval until ctx
// is done. Failures are logged and the loop keeps going.
func (w *Warmer) WarmPeriodic(ctx context.Context, places []string, interval time.Duration) error {
	if err := w.Warm(ctx, places); err != nil {
		w.logger.Warn("initial store warm failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, places); err != nil {
				w.logger.Warn("periodic store warm failed", zap.Error(err))
			}
		}
	}
}
