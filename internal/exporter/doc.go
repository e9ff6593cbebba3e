// Package exporter turns a stream of grid records into export output.
//
// A Generator pulls records from a RecordSource, projects them and yields
// Items: the header row first for CSV, then one item per record. An Encoder
// writes items one at a time as CSV or JSON-Lines. Write failures of the
// destination are reported as *TransportError so callers can tell a closed
// connection from a broken export.
//
// FileExporter drains a generator into a locked file under the export
// directory and returns a FileDescriptor; Janitor removes export files that
// were never downloaded.
//
// Example usage:
//
//	gen, err := exporter.NewGenerator(paged, projector, cols, exporter.FormatCSV)
//	if err != nil {
//		return err
//	}
//	enc := exporter.NewCSVEncoder(w, exporter.DefaultEncoderOptions())
//	for gen.Next(ctx) {
//		if err := enc.Encode(gen.Item()); err != nil {
//			return err
//		}
//	}
//	return gen.Err()
package exporter
