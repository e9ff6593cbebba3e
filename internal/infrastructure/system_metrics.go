package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// DBStatsFunc reports connection pool statistics, such as (*sql.DB).Stats
type DBStatsFunc func() sql.DBStats

// SystemMetrics publishes runtime and connection pool gauges. Values are
// read when the meter is collected.
type SystemMetrics struct {
	startTime    time.Time
	dbStats      DBStatsFunc
	registration metric.Registration
}

// SystemStats holds current system statistics
type SystemStats struct {
	GoRoutines     int64
	MemoryUsage    int64
	MemorySystem   int64
	GCCount        uint32
	ProcessUptime  time.Duration
	DBOpen         int
	DBInUse        int
	DBIdle         int
	DBWaitCount    int64
	DBWaitDuration time.Duration
	Timestamp      time.Time
}

// NewSystemMetrics registers the gauges on meter. dbStats may be nil.
func NewSystemMetrics(meter metric.Meter, dbStats DBStatsFunc) (*SystemMetrics, error) {
	sm := &SystemMetrics{startTime: time.Now(), dbStats: dbStats}

	goRoutines, err := meter.Int64ObservableGauge("system_goroutines",
		metric.WithDescription("Number of active goroutines"))
	if err != nil {
		return nil, err
	}
	memoryUsage, err := meter.Int64ObservableGauge("system_memory_usage_bytes",
		metric.WithDescription("Heap memory in use in bytes"), metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	uptime, err := meter.Float64ObservableGauge("system_process_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	dbOpen, err := meter.Int64ObservableGauge("db_connections_open",
		metric.WithDescription("Open connections to the catalog database"))
	if err != nil {
		return nil, err
	}
	dbInUse, err := meter.Int64ObservableGauge("db_connections_in_use",
		metric.WithDescription("Catalog database connections in use"))
	if err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := sm.Snapshot()
		o.ObserveInt64(goRoutines, stats.GoRoutines)
		o.ObserveInt64(memoryUsage, stats.MemoryUsage)
		o.ObserveFloat64(uptime, stats.ProcessUptime.Seconds())
		if sm.dbStats != nil {
			o.ObserveInt64(dbOpen, int64(stats.DBOpen))
			o.ObserveInt64(dbInUse, int64(stats.DBInUse))
		}
		return nil
	}, goRoutines, memoryUsage, uptime, dbOpen, dbInUse)
	if err != nil {
		return nil, fmt.Errorf("failed to register system metrics callback: %w", err)
	}
	sm.registration = reg

	return sm, nil
}

// Snapshot reads the current statistics
func (sm *SystemMetrics) Snapshot() *SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := &SystemStats{
		GoRoutines:    int64(runtime.NumGoroutine()),
		MemoryUsage:   int64(memStats.HeapAlloc),
		MemorySystem:  int64(memStats.Sys),
		GCCount:       memStats.NumGC,
		ProcessUptime: time.Since(sm.startTime),
		Timestamp:     time.Now(),
	}

	if sm.dbStats != nil {
		db := sm.dbStats()
		stats.DBOpen = db.OpenConnections
		stats.DBInUse = db.InUse
		stats.DBIdle = db.Idle
		stats.DBWaitCount = db.WaitCount
		stats.DBWaitDuration = db.WaitDuration
	}

	return stats
}

// Close unregisters the gauges
func (sm *SystemMetrics) Close() error {
	if sm.registration == nil {
		return nil
	}
	return sm.registration.Unregister()
}

// FormatStats returns a human-readable representation of system stats
func (stats *SystemStats) FormatStats() map[string]interface{} {
	return map[string]interface{}{
		"runtime": map[string]interface{}{
			"goroutines":       stats.GoRoutines,
			"memory_usage_mb":  stats.MemoryUsage / 1024 / 1024,
			"memory_system_mb": stats.MemorySystem / 1024 / 1024,
			"gc_count":         stats.GCCount,
			"uptime_seconds":   int64(stats.ProcessUptime.Seconds()),
		},
		"database": map[string]interface{}{
			"open_connections": stats.DBOpen,
			"in_use":           stats.DBInUse,
			"idle":             stats.DBIdle,
			"wait_count":       stats.DBWaitCount,
			"wait_duration_ms": stats.DBWaitDuration.Milliseconds(),
		},
		"timestamp": stats.Timestamp.Format(time.RFC3339),
	}
}
