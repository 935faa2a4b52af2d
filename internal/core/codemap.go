package core

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// Default registry extract columns.
const (
	DefaultNameColumn = "Countries and Territories"
	DefaultCodeColumn = "ISO3"
)

// CountryCodeMap maps country codes to display names.
// It is built once per run and only exposes read access afterward.
type CountryCodeMap struct {
	names map[string]string
}

// NewCountryCodeMap copies entries into an immutable map.
func NewCountryCodeMap(entries map[string]string) CountryCodeMap {
	names := make(map[string]string, len(entries))
	for code, name := range entries {
		names[code] = name
	}
	return CountryCodeMap{names: names}
}

// Name returns the display name for code.
func (m CountryCodeMap) Name(code string) (string, bool) {
	name, ok := m.names[code]
	return name, ok
}

// Has reports whether code is present.
func (m CountryCodeMap) Has(code string) bool {
	_, ok := m.names[code]
	return ok
}

// Len returns the number of codes.
func (m CountryCodeMap) Len() int { return len(m.names) }

// Codes returns all codes in sorted order.
func (m CountryCodeMap) Codes() []string {
	codes := make([]string, 0, len(m.names))
	for code := range m.names {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ParseCodeMap reads a registry extract and builds a CountryCodeMap from its
// name and code columns. Extra columns are ignored and rows with an empty
// code are skipped. A code listed twice with different names is an error.
func ParseCodeMap(r io.Reader, nameColumn, codeColumn string) (CountryCodeMap, error) {
	cr := newCSVReader(r)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty registry extract")
		}
		return CountryCodeMap{}, &ResolutionError{Op: "parse", Err: err}
	}

	idx, missing := ValidateHeaders(header, []ColumnSpec{
		{Name: nameColumn, Required: true},
		{Name: codeColumn, Required: true},
	})
	if len(missing) > 0 {
		return CountryCodeMap{}, &ResolutionError{
			Op:  "parse",
			Err: fmt.Errorf("missing required column(s) %q", missing),
		}
	}

	names := make(map[string]string)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return CountryCodeMap{}, &ResolutionError{Op: "parse", Err: err}
		}

		code := idx.Cell(row, codeColumn)
		if code == "" {
			continue
		}
		name := idx.Cell(row, nameColumn)
		if prev, dup := names[code]; dup && prev != name {
			return CountryCodeMap{}, &ResolutionError{
				Op:  "parse",
				Err: fmt.Errorf("duplicate code %q (%q and %q)", code, prev, name),
			}
		}
		names[code] = name
	}

	return CountryCodeMap{names: names}, nil
}
