package spreadsheet

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which variant a Cell holds.
type Kind int

const (
	Null Kind = iota
	Text
	Number
	Date
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Number:
		return "number"
	case Date:
		return "date"
	default:
		return "null"
	}
}

// Cell is a single spreadsheet value. Exactly one of the variant fields is
// meaningful, selected by Kind.
type Cell struct {
	kind Kind
	text string
	num  float64
	date time.Time
}

// TextCell returns a Text cell holding s exactly as stored.
func TextCell(s string) Cell { return Cell{kind: Text, text: s} }

// NumberCell returns a Number cell.
func NumberCell(f float64) Cell { return Cell{kind: Number, num: f} }

// DateCell returns a Date cell.
func DateCell(t time.Time) Cell { return Cell{kind: Date, date: t} }

// NullCell returns an empty cell.
func NullCell() Cell { return Cell{} }

func (c Cell) Kind() Kind { return c.kind }

// IsBlank reports whether the cell counts as empty. Whitespace-only text is
// blank, matching how header cells are trimmed.
func (c Cell) IsBlank() bool {
	switch c.kind {
	case Null:
		return true
	case Text:
		return strings.TrimSpace(c.text) == ""
	default:
		return false
	}
}

// Text returns the stored string of a Text cell.
func (c Cell) Text() (string, bool) { return c.text, c.kind == Text }

// Number returns the value of a Number cell.
func (c Cell) Number() (float64, bool) { return c.num, c.kind == Number }

// Date returns the value of a Date cell.
func (c Cell) Date() (time.Time, bool) { return c.date, c.kind == Date }

// String renders the cell the way it is sent to the database.
func (c Cell) String() string {
	switch c.kind {
	case Text:
		return c.text
	case Number:
		return strconv.FormatFloat(c.num, 'f', -1, 64)
	case Date:
		return formatDate(c.date)
	default:
		return ""
	}
}

// Arg returns the positional parameter for this cell. Non-null values are
// passed in their textual form so the database applies its own parsing for
// the target column type; the importer never converts types itself.
func (c Cell) Arg() any {
	if c.kind == Null {
		return nil
	}
	return c.String()
}

// MarshalJSON encodes Text as a string, Number as a number, Date as an
// RFC 3339 string and Null as null.
func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case Text:
		return json.Marshal(c.text)
	case Number:
		return json.Marshal(c.num)
	case Date:
		return json.Marshal(formatDate(c.date))
	default:
		return []byte("null"), nil
	}
}

// formatDate writes midnight values as an RFC 3339 full-date and anything
// else as a full timestamp.
func formatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}
