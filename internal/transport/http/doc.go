// Package http implements the HTTP surface of the grid export service. It
// is a thin layer: handlers parse and validate requests, call the services
// package and turn service errors into RFC 7807 problem documents.
//
// # Routes
//
//	GET|HEAD /api/export/{grid}/csv     stream the grid as CSV
//	GET|HEAD /api/export/{grid}/jsonl   stream the grid as JSON-Lines
//	POST     /api/export/{grid}/file    export to a file, returns its descriptor
//	GET      /api/export/files/{name}   download (and remove) an export file
//	GET      /api/export/grids          list exportable grids
//
// Export requests carry the grid selection state as query parameters:
// selected and excluded (repeatable or comma separated entity ids) and
// search.
//
// # Streaming
//
// StreamedResponse moves through Idle, HeadersSent, Streaming and Closed.
// Headers are flushed before the first body byte and the body is flushed
// after every encoded item. A HEAD request stops after the headers.
//
// Errors can only be reported as problem documents until the headers are
// out. After that a stream is truncated instead: generation failures are
// logged at CRITICAL level, a client that disconnects is logged at info.
package http
