// Package app wires the grid export service together and runs it.
//
// New builds every component from a *config.Config: the catalog database
// pool, the grid definitions registry, the export and health services, the
// export file janitor and the chi router. Nothing runs until Run is called.
//
// Run serves HTTP and drives the background workers (the janitor and, when
// enabled, the grid definitions watcher) under one errgroup. When the
// context is cancelled, or any worker fails, the server is shut down
// gracefully and the database, metrics and OpenTelemetry providers are
// released.
//
// Routes:
//
//	/api/health, /api/health/ready, /api/health/live, /api/health/detailed
//	/api/version, /api/stats
//	/api/export/...   see package http
//	/metrics          Prometheus scrape endpoint
package app
