package core

import (
	"context"
	"log/slog"
	"time"
)

// JanitorConfig controls removal of abandoned uploads. Zero fields select
// the defaults.
type JanitorConfig struct {
	Retention     time.Duration // age after which an upload is abandoned (default: 1h)
	CheckInterval time.Duration // how often to sweep (default: 10m)
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Minute
	}
	return c
}

// StartUploadJanitor deletes uploads that were inspected but never imported
// or discarded. It sweeps immediately, then every CheckInterval, and returns
// when ctx is cancelled.
func (s *Service) StartUploadJanitor(ctx context.Context, cfg JanitorConfig) {
	cfg = cfg.withDefaults()
	slog.Info("upload janitor started",
		"dir", s.uploads.Dir(),
		"retention", cfg.Retention.String(),
		"interval", cfg.CheckInterval.String(),
	)

	s.sweepUploads(cfg.Retention)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("upload janitor stopped")
			return
		case <-ticker.C:
			s.sweepUploads(cfg.Retention)
		}
	}
}

// sweepUploads performs one pass and reports how many uploads it removed.
func (s *Service) sweepUploads(retention time.Duration) int {
	start := time.Now()
	removed, err := s.uploads.Sweep(start.Add(-retention))
	if err != nil {
		slog.Error("upload sweep failed", "error", err, "removed", removed)
		return removed
	}
	if removed > 0 {
		slog.Info("removed abandoned uploads",
			"count", removed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return removed
}
