package core

// writer.go serializes form documents into XLSForm workbooks.
//
// Each workbook holds three sheets in order: survey, choices, settings. Rows
// are written with excelize stream writers since large countries carry tens of
// thousands of choices. Files are written to a temp file in the output
// directory and renamed into place, so a failed write never leaves a partial
// artifact behind.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet names.
const (
	SheetSurvey   = "survey"
	SheetChoices  = "choices"
	SheetSettings = "settings"

	ArtifactExt = ".xlsx"
)

// Artifact describes one written form file.
type Artifact struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
	Path        string `json:"path"`
}

// FileName returns the base name of the artifact.
func (a Artifact) FileName() string { return filepath.Base(a.Path) }

// ArtifactFileName returns the deterministic file name for a country.
func ArtifactFileName(code, displayName string) string {
	return safeFileName(Title(code, displayName)) + ArtifactExt
}

func safeFileName(s string) string {
	return strings.NewReplacer("/", "-", "\\", "-", "\x00", "").Replace(s)
}

// DocumentWriter writes form documents into a directory.
type DocumentWriter struct {
	dir string
}

// NewDocumentWriter returns a writer targeting dir.
func NewDocumentWriter(dir string) *DocumentWriter {
	return &DocumentWriter{dir: dir}
}

// Dir returns the output directory.
func (w *DocumentWriter) Dir() string { return w.dir }

// Write serializes doc, creating the output directory if needed and
// overwriting any previous artifact for the same country.
func (w *DocumentWriter) Write(doc *FormDocument) (Artifact, error) {
	path := filepath.Join(w.dir, ArtifactFileName(doc.Code, doc.DisplayName))

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Artifact{}, &WriteError{Path: path, Err: err}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := fillWorkbook(f, doc); err != nil {
		return Artifact{}, &WriteError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(w.dir, ".form-*"+ArtifactExt)
	if err != nil {
		return Artifact{}, &WriteError{Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		return Artifact{}, &WriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return Artifact{}, &WriteError{Path: path, Err: err}
	}
	committed = true

	return Artifact{Code: doc.Code, DisplayName: doc.DisplayName, Path: path}, nil
}

func fillWorkbook(f *excelize.File, doc *FormDocument) error {
	if err := f.SetSheetName(f.GetSheetName(0), SheetSurvey); err != nil {
		return err
	}
	for _, name := range []string{SheetChoices, SheetSettings} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}

	survey := make([][]string, 0, len(doc.Questions))
	for _, q := range doc.Questions {
		survey = append(survey, q.Values())
	}
	if err := writeSheet(f, SheetSurvey, SurveyColumns, survey); err != nil {
		return err
	}

	choices := make([][]string, 0, len(doc.Choices))
	for _, c := range doc.Choices {
		choices = append(choices, c.Values())
	}
	if err := writeSheet(f, SheetChoices, ChoicesColumns, choices); err != nil {
		return err
	}

	return writeSheet(f, SheetSettings, SettingsColumns, [][]string{doc.Settings.Values()})
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]string) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("sheet %s: %w", sheet, err)
	}

	write := func(rowNum int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		row := make([]interface{}, len(values))
		for i, v := range values {
			row[i] = v
		}
		return sw.SetRow(cell, row)
	}

	if err := write(1, header); err != nil {
		return fmt.Errorf("sheet %s header: %w", sheet, err)
	}
	for i, values := range rows {
		if err := write(i+2, values); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+2, err)
		}
	}
	return sw.Flush()
}

// ListArtifacts returns the form artifacts found in dir, sorted by file name.
// File names that do not follow the "<code> (<name>).xlsx" pattern are ignored.
func ListArtifacts(dir string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading artifact directory %s: %w", dir, err)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ArtifactExt {
			continue
		}
		code, displayName, ok := parseArtifactName(strings.TrimSuffix(name, ArtifactExt))
		if !ok {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Code:        code,
			DisplayName: displayName,
			Path:        filepath.Join(dir, name),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].FileName() < artifacts[j].FileName()
	})
	return artifacts, nil
}

func parseArtifactName(base string) (code, displayName string, ok bool) {
	code, rest, found := strings.Cut(base, " (")
	if !found || code == "" || !strings.HasSuffix(rest, ")") {
		return "", "", false
	}
	return code, strings.TrimSuffix(rest, ")"), true
}
