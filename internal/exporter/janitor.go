package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gridexport/internal/infrastructure"
)

// Janitor periodically removes export files older than a TTL. Files are
// normally deleted right after download; the janitor catches the ones that
// were never fetched.
type Janitor struct {
	dir      string
	ttl      time.Duration
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	onRemove func(ctx context.Context, removed int)

	mu      sync.Mutex
	running bool
}

// NewJanitor creates a janitor for dir. schedule is a standard 5 field cron
// expression; an empty schedule disables the janitor.
func NewJanitor(dir string, ttl time.Duration, schedule string, logger *slog.Logger) (*Janitor, error) {
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
		}
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cleanup ttl must be positive, got %s", ttl)
	}

	return &Janitor{
		dir:      dir,
		ttl:      ttl,
		schedule: schedule,
		cron:     cron.New(),
		logger:   infrastructure.WithComponent(logger, "export_janitor"),
	}, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (j *Janitor) Run(ctx context.Context) error {
	if j.schedule == "" {
		j.logger.Info("cleanup schedule not configured, janitor disabled")
		<-ctx.Done()
		return nil
	}

	if _, err := j.cron.AddFunc(j.schedule, func() {
		j.sweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	j.mu.Lock()
	j.cron.Start()
	j.running = true
	j.mu.Unlock()

	j.logger.Info("export janitor started",
		slog.String("schedule", j.schedule),
		slog.Duration("ttl", j.ttl))

	<-ctx.Done()

	j.mu.Lock()
	defer j.mu.Unlock()
	<-j.cron.Stop().Done()
	j.running = false
	j.logger.Info("export janitor stopped")
	return nil
}

// OnRemove registers a callback invoked after every scheduled sweep that
// removed at least one file. It must be set before Run.
func (j *Janitor) OnRemove(fn func(ctx context.Context, removed int)) {
	j.onRemove = fn
}

// IsRunning reports whether the schedule is active
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// sweep runs one scheduled cleanup under its own trace id
func (j *Janitor) sweep(ctx context.Context) {
	ctx = infrastructure.EnsureTraceID(ctx)
	removed, err := j.Sweep(time.Now())
	if err != nil {
		j.logger.ErrorContext(ctx, "export cleanup failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		j.logger.InfoContext(ctx, "export cleanup completed", slog.Int("removed", removed))
		if j.onRemove != nil {
			j.onRemove(ctx, removed)
		}
	} else {
		j.logger.DebugContext(ctx, "export cleanup completed, nothing to remove")
	}
}

// Sweep removes the regular files in the export directory last modified
// before now-ttl and returns how many were removed.
func (j *Janitor) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read export directory: %w", err)
	}

	cutoff := now.Add(-j.ttl)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			j.logger.Warn("failed to remove stale export file",
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed, nil
}
