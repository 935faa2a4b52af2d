package core

// validation.go provides header validation for tabular inputs.
//
// Every CSV this service reads (registry extract, pcode dataset) is checked once
// at load time: the header row is indexed case-insensitively, required columns
// are verified, and downstream code reads typed fields instead of looking up
// columns by name per row.

import (
	"strings"
)

// ColumnSpec names a column the loader expects in a header row.
type ColumnSpec struct {
	Name     string // Column header name, matched case-insensitively
	Required bool   // Column must exist in the header
}

// HeaderIndex maps lowercased column names to their position in a row.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a header row.
// The first occurrence of a duplicated column wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if _, dup := idx[key]; dup {
			continue
		}
		idx[key] = i
	}
	return idx
}

// Position returns the index of the named column.
func (h HeaderIndex) Position(name string) (int, bool) {
	pos, ok := h[strings.ToLower(strings.TrimSpace(name))]
	return pos, ok
}

// Cell returns the cleaned value of the named column, or "" when absent.
func (h HeaderIndex) Cell(row []string, name string) string {
	pos, ok := h.Position(name)
	if !ok || pos >= len(row) {
		return ""
	}
	return CleanCell(row[pos])
}

// Raw returns the named cell exactly as the CSV reader decoded it, or "" when absent.
func (h HeaderIndex) Raw(row []string, name string) string {
	pos, ok := h.Position(name)
	if !ok || pos >= len(row) {
		return ""
	}
	return row[pos]
}

// ValidateHeaders checks that every required column is present.
// Returns the header index and the names of all missing columns.
func ValidateHeaders(header []string, specs []ColumnSpec) (HeaderIndex, []string) {
	idx := MakeHeaderIndex(header)
	var missing []string
	for _, spec := range specs {
		if !spec.Required {
			continue
		}
		if _, ok := idx.Position(spec.Name); !ok {
			missing = append(missing, spec.Name)
		}
	}
	return idx, missing
}

// CleanCell trims whitespace and strips spreadsheet export artifacts:
// a leading formula marker (="..." or =) and surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"`))
}

// isEmptyRow reports whether every cell in row is blank.
func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
