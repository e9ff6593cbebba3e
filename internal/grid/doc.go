// Package grid holds the admin grid model shared by every stage of the export pipeline.
//
// It defines:
//
// Record: the read-only row handed out by a row source. MapRecord is the concrete
// implementation produced by the SQL fetcher.
//
// ColumnDescriptor / ColumnSet: the saved column configuration of a grid and the
// ordered, filtered subset of it that an export writes (see ActiveColumns).
//
// Registry: grid definitions (query, labels, data types) loaded from a YAML file
// and hot-reloaded when the file changes.
//
// Lookup interfaces for attribute sets and websites are declared here so the
// projection package does not depend on storage.
package grid
