package zconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSeedsMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ztp_cfg.json")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !store.GetBool("admin-mode") {
		t.Fatalf("expected seeded admin-mode to be true")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected seed file to be created: %v", err)
	}
}

func TestGetFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ztp_cfg.json")
	if err := os.WriteFile(path, []byte(`{"admin-mode": false}`), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if store.GetBool("admin-mode") {
		t.Fatalf("expected stored admin-mode false to override default true")
	}
	if got, want := store.GetInt("curl-retries"), Defaults["curl-retries"].defVal.(int); got != want {
		t.Fatalf("curl-retries = %d, want default %d", got, want)
	}
	if got, want := store.GetString("log-level"), Defaults["log-level"].defVal.(string); got != want {
		t.Fatalf("log-level = %q, want default %q", got, want)
	}
}

func TestLoadRejectsTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ztp_cfg.json")
	if err := os.WriteFile(path, []byte(`{"admin-mode": "yes"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error for admin-mode typed as string")
	}
}

func TestLoadPreservesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ztp_cfg.json")
	if err := os.WriteFile(path, []byte(`{"custom-site-key": "foo"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := store.GetString("custom-site-key"); got != "foo" {
		t.Fatalf("custom-site-key = %q, want %q", got, "foo")
	}
}

func TestSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ztp_cfg.json")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	store.Set("log-level", "DEBUG")
	if err := store.Save(); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	if got := reloaded.GetString("log-level"); got != "DEBUG" {
		t.Fatalf("log-level after reload = %q, want DEBUG", got)
	}
}

func TestBoolPointerHelpersDistinguishUnset(t *testing.T) {
	var unset *bool
	if BoolVal(unset) != false {
		t.Fatalf("BoolVal(nil) should default to false")
	}
	set := Bool(true)
	if !BoolVal(set) {
		t.Fatalf("BoolVal(Bool(true)) should be true")
	}
}
