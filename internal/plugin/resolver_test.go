package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sonic-net/sonic-ztp/internal/document"
)

func TestResolveUsesCachedPluginFile(t *testing.T) {
	dir := t.TempDir()
	sectionDir := filepath.Join(dir, "sections", "0001-x")
	if err := os.MkdirAll(sectionDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cached := filepath.Join(sectionDir, "plugin")
	if err := os.WriteFile(cached, []byte("#!/bin/sh\n"), 0o700); err != nil {
		t.Fatal(err)
	}

	r := &Resolver{PluginsDir: filepath.Join(dir, "plugins"), TmpPersistent: filepath.Join(dir, "sections")}
	path, err := r.Resolve(context.Background(), "0001-x", &document.PluginSpec{Name: "ignored-because-cached"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if path != cached {
		t.Fatalf("path = %q, want cached path %q", path, cached)
	}
}

func TestResolveLiteralNameFromPluginsDir(t *testing.T) {
	dir := t.TempDir()
	pluginsDir := filepath.Join(dir, "plugins")
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	pluginPath := filepath.Join(pluginsDir, "firmware-install")
	if err := os.WriteFile(pluginPath, []byte("#!/bin/sh\n"), 0o700); err != nil {
		t.Fatal(err)
	}

	r := &Resolver{PluginsDir: pluginsDir, TmpPersistent: filepath.Join(dir, "sections")}
	path, err := r.Resolve(context.Background(), "0001-firmware", &document.PluginSpec{Name: "firmware-install"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if path != pluginPath {
		t.Fatalf("path = %q, want %q", path, pluginPath)
	}
}

func TestResolveDerivesNameFromSectionWhenPluginAbsent(t *testing.T) {
	dir := t.TempDir()
	pluginsDir := filepath.Join(dir, "plugins")
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	pluginPath := filepath.Join(pluginsDir, "config-db-json")
	if err := os.WriteFile(pluginPath, []byte("#!/bin/sh\n"), 0o700); err != nil {
		t.Fatal(err)
	}

	r := &Resolver{PluginsDir: pluginsDir, TmpPersistent: filepath.Join(dir, "sections")}
	path, err := r.Resolve(context.Background(), "0002-config-db-json", nil)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if path != pluginPath {
		t.Fatalf("path = %q, want %q", path, pluginPath)
	}
}

func TestResolveMissingPluginYieldsError(t *testing.T) {
	dir := t.TempDir()
	r := &Resolver{PluginsDir: filepath.Join(dir, "plugins"), TmpPersistent: filepath.Join(dir, "sections")}
	if _, err := r.Resolve(context.Background(), "0003-missing", nil); err == nil {
		t.Fatalf("expected error for missing plugin")
	}
}

func TestArgsOmitsInputPathWhenIgnoreSectionData(t *testing.T) {
	args := Args("/var/lib/ztp/sections/x/input.json", &document.PluginSpec{IgnoreSectionData: true, Args: "--verbose"})
	if len(args) != 1 || args[0] != "--verbose" {
		t.Fatalf("args = %v, want [--verbose]", args)
	}
}

func TestArgsIncludesInputPathByDefault(t *testing.T) {
	args := Args("/var/lib/ztp/sections/x/input.json", nil)
	if len(args) != 1 || args[0] != "/var/lib/ztp/sections/x/input.json" {
		t.Fatalf("args = %v", args)
	}
}
