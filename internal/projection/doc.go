// Package projection turns grid records into export rows.
//
// A Projector resolves every active column of a record through a fixed,
// ordered table of resolvers (shared catalog, attribute set, websites,
// select, multiselect, raw value) and optionally flattens list values into a
// single ", " separated string. Date columns are normalized once per record
// before any field is resolved.
//
// Lookup failures never abort a row: they degrade to an empty value.
package projection
