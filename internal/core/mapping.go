package core

import (
	"slices"
	"strconv"
	"strings"

	"github.com/JonMunkholm/sheetload/internal/schema"
	"github.com/JonMunkholm/sheetload/internal/spreadsheet"
)

// ColumnMapping maps a 1-based spreadsheet column index to a target column
// name. An empty name, or a missing key, ignores the column. A mapping is
// built for one import and never stored.
type ColumnMapping map[int]string

// Target is one non-ignored mapping entry.
type Target struct {
	Index  int
	Column string
}

// Targets returns the non-ignored entries in ascending column index. Keys
// and values of every RowRecord are produced from this single ordering.
func (m ColumnMapping) Targets() []Target {
	targets := make([]Target, 0, len(m))
	for idx, col := range m {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		targets = append(targets, Target{Index: idx, Column: col})
	}
	slices.SortFunc(targets, func(a, b Target) int { return a.Index - b.Index })
	return targets
}

// UnknownTargets returns the mapped column names that are not columns of
// the table, in ascending column index.
func (m ColumnMapping) UnknownTargets(allow schema.ColumnSet) []string {
	var unknown []string
	for _, t := range m.Targets() {
		if !allow.Has(t.Column) {
			unknown = append(unknown, t.Column)
		}
	}
	return unknown
}

// ValidateMapping checks the mapping's structure against the workbook's
// headers. Every key must be a header's column index and no target column
// may be chosen twice. An empty mapping is valid and imports nothing.
func ValidateMapping(m ColumnMapping, headers []spreadsheet.HeaderEntry) error {
	const op = "validate mapping"

	known := make(map[int]struct{}, len(headers))
	for _, h := range headers {
		known[h.Index] = struct{}{}
	}

	keys := make([]int, 0, len(m))
	for idx := range m {
		keys = append(keys, idx)
	}
	slices.Sort(keys)

	for _, idx := range keys {
		if _, ok := known[idx]; !ok {
			return invalid(op, ErrInvalidMapping, "column %d (%s) has no header", idx, columnLabel(idx))
		}
	}

	seen := make(map[string]int)
	for _, t := range m.Targets() {
		if prev, dup := seen[t.Column]; dup {
			return invalid(op, ErrInvalidMapping, "columns %s and %s both map to %q",
				columnLabel(prev), columnLabel(t.Index), t.Column)
		}
		seen[t.Column] = t.Index
	}
	return nil
}

// ParseMappingPairs parses "1=full_name" or "A=full_name" pairs. An empty
// right-hand side ignores the column.
func ParseMappingPairs(pairs []string) (ColumnMapping, error) {
	const op = "parse mapping"

	m := make(ColumnMapping, len(pairs))
	for _, pair := range pairs {
		key, col, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, invalid(op, ErrInvalidMapping, "%q is not COLUMN=target", pair)
		}
		key = strings.TrimSpace(key)

		idx, err := strconv.Atoi(key)
		if err != nil {
			idx, err = spreadsheet.ColumnIndex(key)
			if err != nil {
				return nil, invalid(op, ErrInvalidMapping, "%q is neither a column number nor a column letter", key)
			}
		}
		if idx <= 0 {
			return nil, invalid(op, ErrInvalidMapping, "column index %d must be positive", idx)
		}
		if _, dup := m[idx]; dup {
			return nil, invalid(op, ErrInvalidMapping, "column %s mapped more than once", columnLabel(idx))
		}
		m[idx] = strings.TrimSpace(col)
	}
	return m, nil
}

func columnLabel(idx int) string {
	if idx <= 0 {
		return strconv.Itoa(idx)
	}
	return spreadsheet.ColumnLetter(idx)
}

// MappingChoice is one spreadsheet column offered for mapping.
type MappingChoice struct {
	Header    spreadsheet.HeaderEntry `json:"header"`
	Suggested string                  `json:"suggested,omitempty"`
}

// MappingSurface lists what a client needs to build a ColumnMapping: each
// header with an optional suggested target, and the table's columns. The
// empty target means "ignore this column".
type MappingSurface struct {
	Table   string               `json:"table"`
	Choices []MappingChoice      `json:"choices"`
	Columns []schema.TableColumn `json:"columns"`
}

// NewMappingSurface pairs headers with table columns. A header is given a
// suggestion when its normalized name equals a column name that no earlier
// header has claimed.
func NewMappingSurface(table string, headers []spreadsheet.HeaderEntry, columns []schema.TableColumn) MappingSurface {
	byName := make(map[string]string, len(columns))
	for _, col := range columns {
		byName[toDBColumnName(col.Name)] = col.Name
	}

	claimed := make(map[string]bool)
	choices := make([]MappingChoice, 0, len(headers))
	for _, h := range headers {
		choice := MappingChoice{Header: h}
		if col, ok := byName[toDBColumnName(h.Name)]; ok && !claimed[col] {
			choice.Suggested = col
			claimed[col] = true
		}
		choices = append(choices, choice)
	}

	return MappingSurface{Table: table, Choices: choices, Columns: columns}
}

// SuggestedMapping returns the suggestions as a mapping.
func (s MappingSurface) SuggestedMapping() ColumnMapping {
	m := make(ColumnMapping)
	for _, c := range s.Choices {
		if c.Suggested != "" {
			m[c.Header.Index] = c.Suggested
		}
	}
	return m
}

// toDBColumnName normalizes a header the way column names are usually
// written: trimmed, lowercase, spaces as underscores.
func toDBColumnName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}
