package main

import (
	"testing"

	"github.com/bar-archiver/bar/internal/job"
	"github.com/bar-archiver/bar/internal/source"
)

func TestParseArchiveType(t *testing.T) {
	cases := map[string]job.ArchiveType{
		"normal":       job.ArchiveNormal,
		"full":         job.ArchiveFull,
		"incremental":  job.ArchiveIncremental,
		"differential": job.ArchiveDifferential,
		"continuous":   job.ArchiveContinuous,
	}
	for in, want := range cases {
		got, err := parseArchiveType(in)
		if err != nil {
			t.Fatalf("parseArchiveType(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseArchiveType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseArchiveTypeRejectsUnknown(t *testing.T) {
	if _, err := parseArchiveType("bogus"); err == nil {
		t.Fatal("expected an error for an unknown archive type")
	}
}

func TestParsePatternsEmpty(t *testing.T) {
	if got := parsePatterns(""); got != nil {
		t.Fatalf("parsePatterns(\"\") = %v, want nil", got)
	}
}

func TestParsePatternsSplitsOnComma(t *testing.T) {
	got := parsePatterns("*.txt,*.log")
	want := []source.Pattern{
		{Kind: source.PatternGlob, Expr: "*.txt"},
		{Kind: source.PatternGlob, Expr: "*.log"},
	}
	if len(got) != len(want) {
		t.Fatalf("parsePatterns(...) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parsePatterns(...)[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSelectionFromFlagsDefault(t *testing.T) {
	sel := selectionFromFlags()
	if sel.Include != nil || sel.Exclude != nil {
		t.Fatalf("selectionFromFlags() with unset flags = %+v, want zero Selection", sel)
	}
}
