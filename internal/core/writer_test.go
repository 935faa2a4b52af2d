package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

func sampleDocument(t *testing.T) *FormDocument {
	t.Helper()
	p := CountryPartition{Code: "AA", Rows: []PcodeRow{
		{Location: "AA", AdminLevel: 1, Pcode: "A1", Name: "Region1"},
		{Location: "AA", AdminLevel: 2, Pcode: "A1.1", Name: "District1"},
		{Location: "AA", AdminLevel: 2, Pcode: "A1.2", Name: "District2"},
	}}
	doc, err := NewFormBuilder(fixedClock).Build(p, testland())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return doc
}

func TestDocumentWriter_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "xlsforms")
	w := NewDocumentWriter(dir)

	artifact, err := w.Write(sampleDocument(t))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	wantPath := filepath.Join(dir, "AA (Testland).xlsx")
	if artifact.Path != wantPath {
		t.Errorf("Path = %q, want %q", artifact.Path, wantPath)
	}
	if artifact.Code != "AA" || artifact.DisplayName != "Testland" {
		t.Errorf("artifact = %+v", artifact)
	}

	f, err := excelize.OpenFile(artifact.Path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	if diff := cmp.Diff([]string{SheetSurvey, SheetChoices, SheetSettings}, f.GetSheetList()); diff != "" {
		t.Errorf("sheet list mismatch (-want +got):\n%s", diff)
	}

	survey, err := f.GetRows(SheetSurvey)
	if err != nil {
		t.Fatalf("GetRows(survey) error = %v", err)
	}
	wantSurvey := [][]string{
		SurveyColumns,
		{"select_one level_1", "level_1", "Level 1", "", `"-"`, "minimal", "#adm+code"},
		{"select_one level_2", "level_2", "Level 2", "starts-with(name, ${level_1})", `"-"`, "minimal", "#adm+code"},
	}
	if diff := cmp.Diff(wantSurvey, survey); diff != "" {
		t.Errorf("survey sheet mismatch (-want +got):\n%s", diff)
	}

	choices, err := f.GetRows(SheetChoices)
	if err != nil {
		t.Fatalf("GetRows(choices) error = %v", err)
	}
	wantChoices := [][]string{
		ChoicesColumns,
		{"level_1", "A1", "Region1"},
		{"level_2", "A1.1", "District1"},
		{"level_2", "A1.2", "District2"},
	}
	if diff := cmp.Diff(wantChoices, choices); diff != "" {
		t.Errorf("choices sheet mismatch (-want +got):\n%s", diff)
	}

	settings, err := f.GetRows(SheetSettings)
	if err != nil {
		t.Fatalf("GetRows(settings) error = %v", err)
	}
	wantSettings := [][]string{
		SettingsColumns,
		{"AA (Testland)", "2024-03-05 14:07:09.123456", "yes"},
	}
	if diff := cmp.Diff(wantSettings, settings); diff != "" {
		t.Errorf("settings sheet mismatch (-want +got):\n%s", diff)
	}
}

func TestDocumentWriter_OverwritesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewDocumentWriter(dir)
	doc := sampleDocument(t)

	for i := 0; i < 2; i++ {
		if _, err := w.Write(doc); err != nil {
			t.Fatalf("Write() #%d error = %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "AA (Testland).xlsx" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("directory contents = %v, want only the artifact", names)
	}
}

func TestDocumentWriter_WriteError(t *testing.T) {
	// A regular file where the output directory should be.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewDocumentWriter(blocker).Write(sampleDocument(t))
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("error = %v, want WriteError", err)
	}
	if filepath.Dir(writeErr.Path) != blocker {
		t.Errorf("WriteError.Path = %q", writeErr.Path)
	}
}

func TestArtifactFileName(t *testing.T) {
	tests := []struct {
		code, name, want string
	}{
		{"AFG", "Afghanistan", "AFG (Afghanistan).xlsx"},
		{"CIV", "Côte d'Ivoire", "CIV (Côte d'Ivoire).xlsx"},
		{"XXX", "North/South", "XXX (North-South).xlsx"},
	}
	for _, tt := range tests {
		if got := ArtifactFileName(tt.code, tt.name); got != tt.want {
			t.Errorf("ArtifactFileName(%q, %q) = %q, want %q", tt.code, tt.name, got, tt.want)
		}
	}
}

func TestListArtifacts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"BBB (Beta).xlsx", "AA (Testland).xlsx", "notes.txt", "stray.xlsx", ".form-123.xlsx"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "CCC (Dir).xlsx"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListArtifacts(dir)
	if err != nil {
		t.Fatalf("ListArtifacts() error = %v", err)
	}
	want := []Artifact{
		{Code: "AA", DisplayName: "Testland", Path: filepath.Join(dir, "AA (Testland).xlsx")},
		{Code: "BBB", DisplayName: "Beta", Path: filepath.Join(dir, "BBB (Beta).xlsx")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListArtifacts() mismatch (-want +got):\n%s", diff)
	}

	if _, err := ListArtifacts(filepath.Join(dir, "missing")); err == nil {
		t.Error("ListArtifacts() expected error for missing directory")
	}
}
