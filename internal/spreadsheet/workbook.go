// Package spreadsheet reads the first worksheet of an .xlsx workbook as a
// header row plus a bounded grid of typed cells.
package spreadsheet

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrNotFound is returned when the workbook file does not exist.
	ErrNotFound = errors.New("spreadsheet file not found")

	// ErrCorrupt is returned when the file cannot be read as a workbook.
	ErrCorrupt = errors.New("invalid workbook")

	// ErrNoHeaders is returned when row 1 has no non-blank cells.
	ErrNoHeaders = errors.New("no headers found in first row")

	// ErrEmptyFile is returned when there are no rows after the header.
	ErrEmptyFile = errors.New("empty file: no data rows after header")
)

// HeaderEntry is one non-blank cell of the header row.
type HeaderEntry struct {
	Index  int    `json:"index"`  // 1-based column number
	Letter string `json:"letter"` // spreadsheet column letter, e.g. "B"
	Name   string `json:"name"`   // trimmed header text
}

// Workbook is an opened spreadsheet, restricted to its first worksheet.
// It must be closed by the caller.
type Workbook struct {
	file     *excelize.File
	sheet    string
	rows     int
	cols     int
	date1904 bool
}

// Open loads the workbook at path and measures the used grid of its first
// worksheet.
func Open(path string) (*Workbook, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("stat workbook: %w", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return nil, fmt.Errorf("%w: workbook has no worksheets", ErrCorrupt)
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read sheet %s: %v", ErrCorrupt, sheet, err)
	}

	wb := &Workbook{file: f, sheet: sheet, rows: len(rows)}
	for _, row := range rows {
		if len(row) > wb.cols {
			wb.cols = len(row)
		}
	}

	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		wb.date1904 = *props.Date1904
	}

	return wb, nil
}

// Close releases the underlying file handle.
func (w *Workbook) Close() error {
	if w == nil || w.file == nil {
		return nil
	}
	return w.file.Close()
}

// SheetName returns the name of the worksheet being read.
func (w *Workbook) SheetName() string { return w.sheet }

// HighestRow returns the last used row number (1-based).
func (w *Workbook) HighestRow() int { return w.rows }

// HighestColumn returns the last used column number (1-based).
func (w *Workbook) HighestColumn() int { return w.cols }

// CheckHasData fails with ErrEmptyFile when the sheet has no rows below the
// header.
func (w *Workbook) CheckHasData() error {
	if w.rows <= 1 {
		return ErrEmptyFile
	}
	return nil
}

// Headers reads row 1. Blank cells are skipped and header text is trimmed.
func (w *Workbook) Headers() ([]HeaderEntry, error) {
	var headers []HeaderEntry
	for col := 1; col <= w.cols; col++ {
		c, err := w.Cell(col, 1)
		if err != nil {
			return nil, err
		}
		if c.IsBlank() {
			continue
		}
		headers = append(headers, HeaderEntry{
			Index:  col,
			Letter: ColumnLetter(col),
			Name:   strings.TrimSpace(c.String()),
		})
	}

	if len(headers) == 0 {
		return nil, ErrNoHeaders
	}
	return headers, nil
}

// Cell reads a single cell without modifying its value.
func (w *Workbook) Cell(col, row int) (Cell, error) {
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return Cell{}, fmt.Errorf("cell (%d,%d): %w", col, row, err)
	}

	raw, err := w.file.GetCellValue(w.sheet, ref, excelize.Options{RawCellValue: true})
	if err != nil {
		return Cell{}, fmt.Errorf("read %s: %w", ref, err)
	}
	if raw == "" {
		return NullCell(), nil
	}

	typ, err := w.file.GetCellType(w.sheet, ref)
	if err != nil {
		return Cell{}, fmt.Errorf("cell type %s: %w", ref, err)
	}

	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString,
		excelize.CellTypeFormula, excelize.CellTypeError:
		return TextCell(raw), nil

	case excelize.CellTypeBool:
		if raw == "1" || strings.EqualFold(raw, "true") {
			return NumberCell(1), nil
		}
		return NumberCell(0), nil

	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return DateCell(t), nil
		}
		return TextCell(raw), nil
	}

	// Numeric cells carry no type attribute; the number format decides
	// whether the serial value is a date.
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return TextCell(raw), nil
	}
	if w.isDateFormatted(ref) {
		if t, err := excelize.ExcelDateToTime(f, w.date1904); err == nil {
			return DateCell(t), nil
		}
	}
	return NumberCell(f), nil
}

func (w *Workbook) isDateFormatted(ref string) bool {
	idx, err := w.file.GetCellStyle(w.sheet, ref)
	if err != nil || idx == 0 {
		return false
	}
	style, err := w.file.GetStyle(idx)
	if err != nil || style == nil {
		return false
	}
	if style.CustomNumFmt != nil {
		return isDateLayout(*style.CustomNumFmt)
	}
	return isBuiltinDateFormat(style.NumFmt)
}

// isBuiltinDateFormat reports whether a built-in number format id renders
// dates or times.
func isBuiltinDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22:
		return true
	case id >= 27 && id <= 36:
		return true
	case id >= 45 && id <= 47:
		return true
	case id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateLayout inspects a custom number format, ignoring quoted literals,
// bracketed sections such as locale or color codes, and the character after
// a backslash escape, a `_` padding or a `*` fill.
func isDateLayout(layout string) bool {
	var b strings.Builder
	inQuote, inBracket, skip := false, false, false
	for _, r := range strings.ToLower(layout) {
		switch {
		case skip:
			skip = false
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		case r == '\\' || r == '_' || r == '*':
			skip = true
		default:
			b.WriteRune(r)
		}
	}
	return strings.ContainsAny(b.String(), "ydmhs")
}

// ColumnLetter converts a 1-based column number to its letter, e.g. 28 -> "AB".
func ColumnLetter(col int) string {
	name, err := excelize.ColumnNumberToName(col)
	if err != nil {
		return strconv.Itoa(col)
	}
	return name
}

// ColumnIndex converts a column letter to its 1-based number.
func ColumnIndex(letter string) (int, error) {
	return excelize.ColumnNameToNumber(letter)
}
