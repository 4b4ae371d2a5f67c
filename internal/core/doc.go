// Package core provides the business logic for importing spreadsheet rows
// into existing database tables.
//
// The package is independent of any transport: the HTTP server and the CLI
// both drive the same [Service].
//
// # Pipeline
//
// An import runs in three steps, each a single call:
//
//  1. [Service.SaveUpload] stores the workbook under a server-generated name.
//  2. [Service.InspectUpload] reads the header row and the target table's
//     columns and returns a [MappingSurface] for the client to choose from.
//  3. [Service.MapAndImport] applies a [ColumnMapping] and inserts every data
//     row with its own statement, returning an [ImportOutcome].
//
// The mapping travels in the import request and is never stored, and the
// upload is deleted when MapAndImport returns, whatever the result.
//
// # Row failures
//
// A row the database rejects is recorded as a [FailedRow] with its 1-based
// spreadsheet row number and the driver's message; the batch continues.
// Rows whose mapped cells are all blank are skipped and reported only as a
// count. There is no transaction around the batch, so a re-run after a
// partial import fails on rows already inserted when the table has a unique
// key.
//
// # Error Handling
//
// Errors that stop an import are [*Error] values with a [Kind]. Technical
// errors are mapped to user-friendly messages using [MapError]; each
// category has a code for support reference:
//
//   - FILE001-FILE006: workbook errors (size, type, unreadable, empty)
//   - UPL001-UPL005: upload errors (bad reference, busy, expired, cancelled)
//   - TBL001-TBL002: table errors
//   - MAP001-MAP002: mapping errors
//   - DB001-DB009: database errors (constraints, connections, types)
package core
