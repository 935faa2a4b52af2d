package core

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"strconv"
	"strings"
)

// Pcode dataset columns.
const (
	ColumnLocation   = "Location"
	ColumnAdminLevel = "Admin Level"
	ColumnPcode      = "P-Code"
	ColumnName       = "Name"
)

// PcodeColumns lists the columns every pcode dataset must carry.
var PcodeColumns = []ColumnSpec{
	{Name: ColumnLocation, Required: true},
	{Name: ColumnAdminLevel, Required: true},
	{Name: ColumnPcode, Required: true},
	{Name: ColumnName, Required: true},
}

// PcodeRow is one validated record of the pcode dataset.
type PcodeRow struct {
	Location   string // Country code
	AdminLevel int    // 1 = top level
	Pcode      string
	Name       string
	Line       int // Source line number (1-indexed, header is line 1)
}

// CountryPartition holds every row sharing one Location.
type CountryPartition struct {
	Code string
	Rows []PcodeRow
}

// PcodeTable is the in-memory pcode dataset, partitioned by country.
type PcodeTable struct {
	order []string
	rows  map[string][]PcodeRow
	total int
}

// LoadPcodeTable opens and reads a pcode dataset from path.
func LoadPcodeTable(path string) (*PcodeTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcode table: %w", err)
	}
	defer f.Close()

	return ReadPcodeTable(f)
}

// ReadPcodeTable parses a pcode dataset. The header row is validated against
// PcodeColumns and the first data row, a metadata row, is dropped.
func ReadPcodeTable(r io.Reader) (*PcodeTable, error) {
	cr := newCSVReader(r)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &MalformedTableError{Err: errors.New("empty file")}
		}
		return nil, &MalformedTableError{Err: err}
	}

	idx, missing := ValidateHeaders(header, PcodeColumns)
	if len(missing) > 0 {
		return nil, &MalformedTableError{Missing: missing}
	}

	// Metadata row directly below the header.
	if _, err := cr.Read(); err != nil && !errors.Is(err, io.EOF) {
		return nil, &MalformedTableError{Err: err}
	}

	t := &PcodeTable{rows: make(map[string][]PcodeRow)}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &MalformedTableError{Err: err}
		}
		if isEmptyRow(record) {
			continue
		}
		line, _ := cr.FieldPos(0)

		row := PcodeRow{
			Location: idx.Cell(record, ColumnLocation),
			Pcode:    idx.Raw(record, ColumnPcode),
			Name:     idx.Raw(record, ColumnName),
			Line:     line,
		}
		if row.Location == "" {
			return nil, &MalformedTableError{Err: fmt.Errorf("line %d: empty %s", line, ColumnLocation)}
		}
		rawLevel := idx.Cell(record, ColumnAdminLevel)
		level, ok := ParseAdminLevel(rawLevel)
		if !ok {
			return nil, &InvalidLevelError{Code: row.Location, Pcode: row.Pcode, Value: rawLevel, Line: line}
		}
		row.AdminLevel = level

		t.add(row)
	}

	return t, nil
}

// NewPcodeTable builds a table from already-typed rows, preserving their order.
func NewPcodeTable(rows []PcodeRow) *PcodeTable {
	t := &PcodeTable{rows: make(map[string][]PcodeRow)}
	for _, row := range rows {
		t.add(row)
	}
	return t
}

func (t *PcodeTable) add(row PcodeRow) {
	if _, seen := t.rows[row.Location]; !seen {
		t.order = append(t.order, row.Location)
	}
	t.rows[row.Location] = append(t.rows[row.Location], row)
	t.total++
}

// ParseAdminLevel converts an admin level cell to a positive integer.
// Integral float spellings ("2.0") are accepted.
func ParseAdminLevel(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 1
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), f >= 1
}

// Countries yields the distinct country codes in the order first encountered.
// The sequence can be ranged over any number of times.
func (t *PcodeTable) Countries() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, code := range t.order {
			if !yield(code) {
				return
			}
		}
	}
}

// Partition returns all rows for code.
func (t *PcodeTable) Partition(code string) (CountryPartition, error) {
	rows := t.rows[code]
	if len(rows) == 0 {
		return CountryPartition{}, &UnknownCountryError{Code: code}
	}
	out := make([]PcodeRow, len(rows))
	copy(out, rows)
	return CountryPartition{Code: code, Rows: out}, nil
}

// Len returns the total number of rows.
func (t *PcodeTable) Len() int { return t.total }

// CountryCount returns the number of distinct countries.
func (t *PcodeTable) CountryCount() int { return len(t.order) }
