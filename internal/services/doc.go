// Package services implements the business layer of the grid export
// service. It sits between the HTTP handlers and the export pipeline and
// owns the lifecycle of every export.
//
// # Export sessions
//
// ExportService.Open resolves a grid, loads its active column set and
// assembles the pipeline:
//
//	paged source -> projector -> generator
//
// Nothing is fetched until the session's generator is advanced, so an
// opened session costs one column configuration read. Each session carries
// its own memo of attribute set and website names; entries never outlive
// the export.
//
//	sess, err := svc.Open(ctx, services.ExportRequest{
//	    Grid:   "product_listing",
//	    Format: exporter.FormatCSV,
//	})
//	if err != nil {
//	    return err
//	}
//	defer sess.Finish(ctx, err)
//
// Finish records the outcome (success, aborted or failure) in metrics and
// in the "export finished" log line.
//
// # File exports
//
// ExportFile runs a whole export into the export directory and returns the
// descriptor of the written file. OpenExportFile hands such a file out for
// download; it is removed once served.
//
// # Health
//
// HealthService backs the liveness, readiness and stats endpoints. The
// service is ready when the catalog database answers, at least one grid is
// defined and the export directory is writable.
package services
