package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sonic-net/sonic-ztp/internal/activity"
	"github.com/sonic-net/sonic-ztp/internal/discovery"
	"github.com/sonic-net/sonic-ztp/internal/document"
	"github.com/sonic-net/sonic-ztp/internal/download"
	"github.com/sonic-net/sonic-ztp/internal/plugin"
	"github.com/sonic-net/sonic-ztp/internal/zconfig"
)

type noopDownloader struct{}

func (noopDownloader) DownloadURL(context.Context, string, string) error { return nil }

func newTestSupervisor(t *testing.T) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := zconfig.Load(filepath.Join(dir, "ztp_cfg.json"))
	if err != nil {
		t.Fatalf("zconfig.Load: %v", err)
	}

	docPaths := document.Paths{
		WorkingDocument: filepath.Join(dir, "ztp_data.json"),
		ShadowDocument:  filepath.Join(dir, "ztp_data_shadow.json"),
		TmpDir:          filepath.Join(dir, "tmp"),
		TmpPersistent:   filepath.Join(dir, "sections"),
		SectionInput:    "input.json",
	}
	env := document.Env{Downloader: download.New(dir), Retries: 1}
	loader := document.New(docPaths, store, env)

	pluginsDir := filepath.Join(dir, "plugins")
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	resolver := &plugin.Resolver{PluginsDir: pluginsDir, TmpPersistent: docPaths.TmpPersistent, Env: env}

	sink, err := activity.Open(filepath.Join(dir, "activity"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sink.Close() })

	discPaths := discovery.Paths{
		WorkingDocument: docPaths.WorkingDocument,
		LocalDocument:   filepath.Join(dir, "ztp_data_local.json"),
	}
	loop := discovery.New(discPaths, store, nil, noopDownloader{})

	sup := &Supervisor{
		Store:       store,
		Discover:    loop,
		Loader:      loader,
		Resolver:    resolver,
		Activity:    sink,
		TestMode:    true,
		RequireRoot: false,
		Once:        true,
	}
	return sup, dir
}

func TestRunStopsWhenAdminDisabled(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.Store.Set("admin-mode", false)

	code := sup.Run(context.Background())
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
}

func TestRunFailsPrivilegeCheck(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sup.RequireRoot = true

	if os.Geteuid() == 0 {
		t.Skip("running as root, privilege check cannot fail")
	}

	code := sup.Run(context.Background())
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestRunExecutesLocalDocumentToSuccess(t *testing.T) {
	sup, dir := newTestSupervisor(t)

	writeFile(t, filepath.Join(dir, "plugins", "a"), "#!/bin/sh\nexit 0\n")
	os.Chmod(filepath.Join(dir, "plugins", "a"), 0o755)

	writeFile(t, filepath.Join(dir, "ztp_data_local.json"), `{
		"ztp": {
			"0001-a": {"plugin": "a"}
		}
	}`)

	code := sup.Run(context.Background())
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	b, err := os.ReadFile(filepath.Join(dir, "ztp_data.json"))
	if err != nil {
		t.Fatalf("expected working document to remain: %v", err)
	}
	if len(b) == 0 {
		t.Fatalf("expected working document to be non-empty")
	}
}

func TestRunStopsAfterImmediateReboot(t *testing.T) {
	sup, dir := newTestSupervisor(t)

	writeFile(t, filepath.Join(dir, "plugins", "a"), "#!/bin/sh\nexit 0\n")
	os.Chmod(filepath.Join(dir, "plugins", "a"), 0o755)
	writeFile(t, filepath.Join(dir, "plugins", "b"), "#!/bin/sh\nexit 0\n")
	os.Chmod(filepath.Join(dir, "plugins", "b"), 0o755)

	writeFile(t, filepath.Join(dir, "ztp_data_local.json"), `{
		"ztp": {
			"0001-a": {"plugin": "a", "reboot-on-success": true},
			"0002-b": {"plugin": "b"}
		}
	}`)

	code := sup.Run(context.Background())
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	doc, err := sup.Loader.Load(context.Background(), filepath.Join(dir, "ztp_data.json"))
	if err != nil {
		t.Fatalf("reloading working document: %v", err)
	}
	if doc.Sections["0001-a"].Status != document.StatusSuccess {
		t.Fatalf("0001-a status = %q, want SUCCESS", doc.Sections["0001-a"].Status)
	}
	if doc.Sections["0002-b"].Status != document.StatusBoot {
		t.Fatalf("0002-b status = %q, want BOOT (never executed, reboot stopped the run)", doc.Sections["0002-b"].Status)
	}
}

func TestCycleRetriesOnPendingRestartFlag(t *testing.T) {
	sup, dir := newTestSupervisor(t)

	flag := filepath.Join(dir, "pending_ztp_restart")
	writeFile(t, flag, "")
	sup.RestartFlag = flag

	decision, err := sup.cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle returned error: %v", err)
	}
	if decision != DecisionRetry {
		t.Fatalf("decision = %v, want DecisionRetry", decision)
	}
	if _, err := os.Stat(flag); !os.IsNotExist(err) {
		t.Fatalf("expected restart flag to be consumed")
	}
}

type fakeProfile struct {
	removed int
}

func (f *fakeProfile) Install(context.Context) error { return nil }
func (f *fakeProfile) Remove(context.Context, bool) error {
	f.removed++
	return nil
}
func (f *fakeProfile) LinkUpTransitions(context.Context) (bool, error) { return false, nil }
func (f *fakeProfile) FlushLeases(context.Context) error               { return nil }

func TestRunStripsZTPObjectFromStartupConfig(t *testing.T) {
	sup, dir := newTestSupervisor(t)

	startup := filepath.Join(dir, "config_db.json")
	writeFile(t, startup, `{"DEVICE_METADATA": {}, "ZTP": {"mode": "ran"}}`)

	sup.TestMode = false
	sup.Profile = &fakeProfile{}
	sup.StartupConfig = startup
	sup.Discover.Paths.StartupConfig = startup
	sup.Store.Set("monitor-startup-config", true)

	code := sup.Run(context.Background())
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	b, err := os.ReadFile(startup)
	if err != nil {
		t.Fatal(err)
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(b, &cfg); err != nil {
		t.Fatal(err)
	}
	if _, present := cfg["ZTP"]; present {
		t.Fatalf("expected ZTP object to be stripped from startup config")
	}
	if _, present := cfg["DEVICE_METADATA"]; !present {
		t.Fatalf("expected other startup config keys to survive")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}
