package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlagsDefaults(t *testing.T) {
	cli := NewCLI(os.Stdout, os.Stderr)
	o, isVersion, err := cli.ParseFlags(nil)
	if err != nil {
		t.Fatalf("ParseFlags returned error: %v", err)
	}
	if isVersion {
		t.Fatalf("expected isVersion=false with no flags")
	}
	if o.once {
		t.Fatalf("expected once=false by default")
	}
	if o.testMode != nil {
		t.Fatalf("expected testMode unset by default")
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	cli := NewCLI(os.Stdout, os.Stderr)
	o, isVersion, err := cli.ParseFlags([]string{
		"-config-dir=/tmp/ztp",
		"-once",
		"-test-mode=true",
		"-admin-mode=false",
		"-log-level=debug",
	})
	if err != nil {
		t.Fatalf("ParseFlags returned error: %v", err)
	}
	if isVersion {
		t.Fatalf("expected isVersion=false")
	}
	if o.configDir != "/tmp/ztp" {
		t.Fatalf("configDir = %q, want /tmp/ztp", o.configDir)
	}
	if !o.once {
		t.Fatalf("expected once=true")
	}
	if o.testMode == nil || !*o.testMode {
		t.Fatalf("expected testMode=true")
	}
	if o.adminMode == nil || *o.adminMode {
		t.Fatalf("expected adminMode=false")
	}
	if o.logLevel == nil || *o.logLevel != "debug" {
		t.Fatalf("expected logLevel=debug")
	}
}

func TestParseFlagsVersion(t *testing.T) {
	cli := NewCLI(os.Stdout, os.Stderr)
	_, isVersion, err := cli.ParseFlags([]string{"-version"})
	if err != nil {
		t.Fatalf("ParseFlags returned error: %v", err)
	}
	if !isVersion {
		t.Fatalf("expected isVersion=true")
	}
}

func TestParseFlagsRejectsExtraArgs(t *testing.T) {
	cli := NewCLI(os.Stdout, os.Stderr)
	if _, _, err := cli.ParseFlags([]string{"bogus"}); err == nil {
		t.Fatalf("expected error for unexpected positional argument")
	}
}

func TestRunAdminDisabledExitsClean(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ztp_cfg.json")
	cfgBody := `{
		"admin-mode": false,
		"ztp-activity": "` + filepath.Join(dir, "activity") + `",
		"ztp-json": "` + filepath.Join(dir, "ztp_data.json") + `",
		"ztp-json-shadow": "` + filepath.Join(dir, "ztp_data_shadow.json") + `",
		"ztp-json-local": "` + filepath.Join(dir, "ztp_data_local.json") + `",
		"ztp-tmp": "` + filepath.Join(dir, "tmp") + `",
		"ztp-tmp-persistent": "` + filepath.Join(dir, "sections") + `",
		"plugins-dir": "` + filepath.Join(dir, "plugins") + `"
	}`
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o644); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	cli := NewCLI(&out, &errOut)
	code := cli.Run([]string{"sonic-ztp", "-config=" + cfgPath, "-test-mode"})
	if code != ExitCodeOK {
		t.Fatalf("exit code = %d, want %d; stderr=%s", code, ExitCodeOK, errOut.String())
	}
}

func TestRunVersionFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	cli := NewCLI(&out, &errOut)
	code := cli.Run([]string{"sonic-ztp", "-version"})
	if code != ExitCodeOK {
		t.Fatalf("exit code = %d, want %d", code, ExitCodeOK)
	}
	if errOut.Len() == 0 {
		t.Fatalf("expected version string written to stderr")
	}
}
