package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/sheetload/internal/database"
	"github.com/JonMunkholm/sheetload/internal/logging"
	"github.com/JonMunkholm/sheetload/internal/schema"
	"github.com/JonMunkholm/sheetload/internal/spreadsheet"
)

// progressInterval is how many rows pass between progress log entries.
const progressInterval = 100

// SheetReader is the part of a workbook the importer reads.
// *spreadsheet.Workbook satisfies it.
type SheetReader interface {
	HighestRow() int
	Cell(col, row int) (spreadsheet.Cell, error)
}

// Execer runs one statement. database.DB satisfies it.
type Execer interface {
	Dialect() database.Dialect
	Exec(ctx context.Context, query string, args ...any) error
}

// Field is one target column and the cell read for it.
type Field struct {
	Column string
	Value  spreadsheet.Cell
}

// RowRecord holds one data row's mapped cells in ascending spreadsheet
// column order. It only ever contains columns named by the mapping.
type RowRecord []Field

// Columns returns the target column names in order.
func (r RowRecord) Columns() []string {
	cols := make([]string, len(r))
	for i, f := range r {
		cols[i] = f.Column
	}
	return cols
}

// Args returns the statement arguments in the same order as Columns.
func (r RowRecord) Args() []any {
	args := make([]any, len(r))
	for i, f := range r {
		args[i] = f.Value.Arg()
	}
	return args
}

// IsBlank reports whether every recorded cell is blank. A record with no
// fields is blank.
func (r RowRecord) IsBlank() bool {
	for _, f := range r {
		if !f.Value.IsBlank() {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the record as an object whose keys keep column order.
func (r RowRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Column)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FailedRow is a data row the database rejected.
type FailedRow struct {
	Row     int       `json:"row"`
	Data    RowRecord `json:"data"`
	Message string    `json:"message"`
}

// ImportOutcome is the result of one import. Successes and Failures are in
// ascending spreadsheet row order; blank rows appear in neither.
type ImportOutcome struct {
	Table     string        `json:"table"`
	Successes []RowRecord   `json:"successes"`
	Failures  []FailedRow   `json:"failures"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"-"`
}

// Summary is the aggregate message shown after an import.
func (o *ImportOutcome) Summary() string {
	return fmt.Sprintf("Import finished: %d rows imported successfully, %d errors.",
		len(o.Successes), len(o.Failures))
}

// MarshalJSON adds the summary and the duration in milliseconds.
func (o *ImportOutcome) MarshalJSON() ([]byte, error) {
	type outcome ImportOutcome
	return json.Marshal(struct {
		*outcome
		Imported   int    `json:"imported"`
		Failed     int    `json:"failed"`
		Summary    string `json:"summary"`
		DurationMS int64  `json:"duration_ms"`
	}{
		outcome:    (*outcome)(o),
		Imported:   len(o.Successes),
		Failed:     len(o.Failures),
		Summary:    o.Summary(),
		DurationMS: o.Duration.Milliseconds(),
	})
}

// RowImporter inserts mapped spreadsheet rows one statement at a time.
type RowImporter struct {
	db Execer
}

// NewRowImporter creates an importer writing to db.
func NewRowImporter(db Execer) *RowImporter {
	return &RowImporter{db: db}
}

// Import inserts rows 2 through the sheet's highest row into table.
//
// Each row is its own statement: a rejected row is recorded in Failures and
// the batch continues. Rows whose mapped cells are all blank are skipped.
// Mapped columns missing from allow are never sent to the database; every
// non-blank row fails with a message naming the first unknown column. A nil
// allow set disables that check.
//
// Cancellation and lost connections stop the batch. The outcome gathered so
// far is returned together with the error.
func (imp *RowImporter) Import(ctx context.Context, sheet SheetReader, mapping ColumnMapping, table string, allow schema.ColumnSet) (*ImportOutcome, error) {
	const op = "import rows"
	start := time.Now()
	log := logging.WithFields(ctx, "table", table)

	out := &ImportOutcome{
		Table:     table,
		Successes: []RowRecord{},
		Failures:  []FailedRow{},
	}
	defer func() { out.Duration = time.Since(start) }()

	targets := mapping.Targets()
	columns := make([]string, len(targets))
	for i, t := range targets {
		columns[i] = t.Column
	}

	var unknownMsg string
	if allow != nil {
		if unknown := mapping.UnknownTargets(allow); len(unknown) > 0 {
			unknownMsg = fmt.Sprintf("column %q does not exist in table %q", unknown[0], table)
			log.Warn("mapping names unknown columns", "columns", unknown)
		}
	}

	var stmt string
	if len(columns) > 0 && unknownMsg == "" {
		stmt = database.InsertStatement(imp.db.Dialect(), table, columns)
	}

	last := sheet.HighestRow()
	for row := 2; row <= last; row++ {
		if err := ctx.Err(); err != nil {
			log.Warn("import interrupted", "row", row, "error", err)
			return out, wrap(op, err)
		}

		if done := row - 2; done > 0 && done%progressInterval == 0 {
			log.Info("import progress",
				"row", row-1,
				"last_row", last,
				"imported", len(out.Successes),
				"failed", len(out.Failures),
				"skipped", out.Skipped,
			)
		}

		record := make(RowRecord, len(targets))
		for i, t := range targets {
			cell, err := sheet.Cell(t.Index, row)
			if err != nil {
				return out, &Error{Kind: KindFatal, Op: op, Err: fmt.Errorf("read row %d: %w", row, err)}
			}
			record[i] = Field{Column: t.Column, Value: cell}
		}

		if record.IsBlank() {
			out.Skipped++
			continue
		}

		if unknownMsg != "" {
			out.Failures = append(out.Failures, FailedRow{Row: row, Data: record, Message: unknownMsg})
			continue
		}

		if err := imp.db.Exec(ctx, stmt, record.Args()...); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, wrap(op, ctxErr)
			}
			if database.IsConnectionError(err) {
				log.Error("database connection lost", "row", row, "error", err)
				return out, &Error{Kind: KindConnectionFailure, Op: op, Err: fmt.Errorf("row %d: %w", row, err)}
			}

			msg := database.DriverMessage(err)
			log.Debug("row rejected", "row", row, "error", msg)
			out.Failures = append(out.Failures, FailedRow{Row: row, Data: record, Message: msg})
		} else {
			out.Successes = append(out.Successes, record)
		}
	}

	log.Info("import finished",
		"imported", len(out.Successes),
		"failed", len(out.Failures),
		"skipped", out.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
