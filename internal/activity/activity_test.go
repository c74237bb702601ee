package activity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordOverwritesWithSingleLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity")

	sink, err := Open(path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer sink.Close()

	if err := sink.Record("ZTP is administratively disabled"); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := sink.Record("discovery in progress"); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected a single overwritten line, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "discovery in progress") {
		t.Fatalf("expected latest message, got %q", lines[0])
	}
}
