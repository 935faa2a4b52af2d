package core

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestParseCodeMap(t *testing.T) {
	input := strings.Join([]string{
		"Countries and Territories,ISO2,ISO3,Region",
		"Afghanistan,AF,AFG,Asia",
		"Testland,,AA,Nowhere",
		"Nowhereland,,,Nowhere",
		"Afghanistan,AF,AFG,Asia",
	}, "\n")

	codes, err := ParseCodeMap(strings.NewReader(input), DefaultNameColumn, DefaultCodeColumn)
	if err != nil {
		t.Fatalf("ParseCodeMap() error = %v", err)
	}

	if codes.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (empty code skipped, exact duplicate merged)", codes.Len())
	}
	if name, ok := codes.Name("AFG"); !ok || name != "Afghanistan" {
		t.Errorf("Name(AFG) = %q, %v", name, ok)
	}
	if !codes.Has("AA") || codes.Has("AF") {
		t.Error("code column should be ISO3, not ISO2")
	}
	if got := codes.Codes(); !slices.Equal(got, []string{"AA", "AFG"}) {
		t.Errorf("Codes() = %v", got)
	}
}

func TestParseCodeMap_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty payload", input: ""},
		{name: "missing code column", input: "Countries and Territories,ISO2\nAfghanistan,AF\n"},
		{name: "html instead of csv", input: "<html><body>Unauthorized</body></html>"},
		{name: "conflicting duplicate", input: "Countries and Territories,ISO3\nAfghanistan,AFG\nOther,AFG\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCodeMap(strings.NewReader(tt.input), DefaultNameColumn, DefaultCodeColumn)
			var resErr *ResolutionError
			if !errors.As(err, &resErr) {
				t.Fatalf("error = %v, want ResolutionError", err)
			}
			if resErr.Op != "parse" {
				t.Errorf("Op = %q, want parse", resErr.Op)
			}
		})
	}
}

func TestNewCountryCodeMap_IsImmutable(t *testing.T) {
	entries := map[string]string{"AA": "Testland"}
	codes := NewCountryCodeMap(entries)
	entries["AA"] = "Changed"
	entries["BB"] = "Added"

	if name, _ := codes.Name("AA"); name != "Testland" {
		t.Errorf("Name(AA) = %q, want Testland", name)
	}
	if codes.Has("BB") {
		t.Error("map should not observe later changes to its input")
	}
}
