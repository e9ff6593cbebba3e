package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"gridexport/internal/infrastructure"
)

// Pinger is a dependency that can report whether it is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// JanitorStatus reports whether the export file janitor is scheduled
type JanitorStatus interface {
	IsRunning() bool
}

// HealthDependencies are the collaborators inspected by health checks. Any
// of them may be nil.
type HealthDependencies struct {
	Database  Pinger
	Grids     GridRegistry
	Janitor   JanitorStatus
	ExportDir string
	Stats     *infrastructure.SystemMetrics
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	deps      HealthDependencies
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// NewHealthService creates a new health service
func NewHealthService(version, buildTime string, deps HealthDependencies, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime),
		slog.String("export_dir", deps.ExportDir))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		deps:      deps,
		startTime: time.Now(),
		logger:    infrastructure.WithComponent(logger, "health_service"),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "HealthCheck: performing health check",
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck returns readiness status. The service is ready when the
// catalog database answers, grids are defined and exports can be written.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]interface{}{
			"database": hs.checkDatabaseHealth(ctx),
			"grids":    hs.checkGridsHealth(),
			"exports":  hs.checkExportDirHealth(),
			"janitor":  hs.checkJanitorHealth(),
		},
	}

	for name, service := range status.Services {
		if sh, ok := service.(ServiceHealth); ok && sh.Status != "ready" {
			status.Status = "not_ready"
			hs.logger.WarnContext(ctx, "dependency not ready",
				slog.String("dependency", name),
				slog.String("message", sh.Message))
		}
	}

	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":      hs.version,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}

	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}

	return result
}

// SystemStats returns runtime and connection pool statistics plus the
// pending export files.
func (hs *HealthService) SystemStats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"uptime_seconds": time.Since(hs.startTime).Seconds(),
	}

	if hs.deps.Stats != nil {
		for k, v := range hs.deps.Stats.Snapshot().FormatStats() {
			stats[k] = v
		}
	}

	files, size := hs.pendingExports()
	stats["exports"] = map[string]interface{}{
		"pending_files":      files,
		"pending_size_bytes": size,
	}

	return stats
}

// GetDetailedHealth returns comprehensive health information
func (hs *HealthService) GetDetailedHealth(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{
		"health":    hs.HealthCheck(ctx),
		"readiness": hs.ReadinessCheck(ctx),
		"liveness":  hs.LivenessCheck(ctx),
		"stats":     hs.SystemStats(ctx),
	}
}

func (hs *HealthService) checkDatabaseHealth(ctx context.Context) ServiceHealth {
	if hs.deps.Database == nil {
		return ServiceHealth{Status: "not_ready", Message: "catalog database not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := hs.deps.Database.Ping(ctx); err != nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("%v: %v", ErrServiceUnavailable, err),
		}
	}

	return ServiceHealth{Status: "ready", Message: "catalog database is reachable"}
}

func (hs *HealthService) checkGridsHealth() ServiceHealth {
	if hs.deps.Grids == nil {
		return ServiceHealth{Status: "not_ready", Message: "grid definitions not loaded"}
	}

	names := hs.deps.Grids.Names()
	if len(names) == 0 {
		return ServiceHealth{Status: "not_ready", Message: "no grids defined"}
	}

	return ServiceHealth{Status: "ready", Message: fmt.Sprintf("%d grids defined", len(names))}
}

// checkExportDirHealth verifies that file exports can be written
func (hs *HealthService) checkExportDirHealth() ServiceHealth {
	dir := hs.deps.ExportDir
	if dir == "" {
		return ServiceHealth{Status: "ready", Message: "file exports disabled"}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("cannot create export directory: %v", err),
		}
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("cannot write to export directory: %v", err),
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	return ServiceHealth{Status: "ready", Message: "export directory is writable"}
}

func (hs *HealthService) checkJanitorHealth() ServiceHealth {
	if hs.deps.Janitor == nil || !hs.deps.Janitor.IsRunning() {
		// Files are still removed after download
		return ServiceHealth{Status: "ready", Message: "export cleanup not scheduled"}
	}

	return ServiceHealth{
		Status:  "ready",
		Message: "export cleanup scheduled",
		Uptime:  time.Since(hs.startTime).String(),
	}
}

func (hs *HealthService) pendingExports() (int, int64) {
	if hs.deps.ExportDir == "" {
		return 0, 0
	}

	entries, err := os.ReadDir(hs.deps.ExportDir)
	if err != nil {
		return 0, 0
	}

	var files int
	var size int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if info, err := entry.Info(); err == nil {
			files++
			size += info.Size()
		}
	}
	return files, size
}
