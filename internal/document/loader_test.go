package document

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sonic-net/sonic-ztp/internal/download"
	"github.com/sonic-net/sonic-ztp/internal/zconfig"
)

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := zconfig.Load(filepath.Join(dir, "ztp_cfg.json"))
	if err != nil {
		t.Fatalf("zconfig.Load: %v", err)
	}

	paths := Paths{
		WorkingDocument: filepath.Join(dir, "ztp_data.json"),
		ShadowDocument:  filepath.Join(dir, "ztp_data_shadow.json"),
		TmpDir:          filepath.Join(dir, "tmp"),
		TmpPersistent:   filepath.Join(dir, "sections"),
		SectionInput:    "input.json",
	}

	env := Env{Downloader: download.New(dir), Retries: 1}
	return New(paths, store, env), dir
}

func writeDoc(t *testing.T, path string, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAppliesDefaultsAndSplitsSections(t *testing.T) {
	loader, dir := newTestLoader(t)
	src := filepath.Join(dir, "in.json")
	writeDoc(t, src, `{
		"ztp": {
			"0001-firmware": {"plugin": "firmware-install"},
			"0002-config": {"plugin": "config-db-json", "description": "load config"}
		}
	}`)

	doc, err := loader.Load(context.Background(), src)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if doc.Status != StatusBoot {
		t.Fatalf("status = %q, want BOOT", doc.Status)
	}
	if doc.Policy.IgnoreResult == nil || *doc.Policy.IgnoreResult != false {
		t.Fatalf("ignore-result default not applied")
	}

	names := doc.SectionNames()
	if len(names) != 2 || names[0] != "0001-firmware" || names[1] != "0002-config" {
		t.Fatalf("unexpected section names: %v", names)
	}

	for _, name := range names {
		sec := doc.Sections[name]
		if sec.Status != StatusBoot {
			t.Fatalf("section %q status = %q, want BOOT", name, sec.Status)
		}
		input := filepath.Join(dir, "sections", name, "input.json")
		if _, err := os.Stat(input); err != nil {
			t.Fatalf("expected split file for %q: %v", name, err)
		}
	}

	if _, err := os.Stat(loader.Paths.WorkingDocument); err != nil {
		t.Fatalf("expected working document to be written: %v", err)
	}
	if _, err := os.Stat(loader.Paths.ShadowDocument); err != nil {
		t.Fatalf("expected shadow document to be written: %v", err)
	}
}

func TestLoadRejectsMissingZtpKey(t *testing.T) {
	loader, dir := newTestLoader(t)
	src := filepath.Join(dir, "in.json")
	writeDoc(t, src, `{"not-ztp": {}}`)

	_, err := loader.Load(context.Background(), src)
	if err == nil {
		t.Fatalf("expected error for missing ztp root key")
	}
	var invalid *InvalidDocumentError
	if !asInvalid(err, &invalid) {
		t.Fatalf("expected InvalidDocumentError, got %T: %v", err, err)
	}
}

func asInvalid(err error, target **InvalidDocumentError) bool {
	if e, ok := err.(*InvalidDocumentError); ok {
		*target = e
		return true
	}
	return false
}

func TestLoadFollowsFileRedirectAndDiscardsInline(t *testing.T) {
	loader, dir := newTestLoader(t)

	redirectTarget := filepath.Join(dir, "final.json")
	writeDoc(t, redirectTarget, `{
		"ztp": {
			"0001-final": {"plugin": "final-plugin"}
		}
	}`)

	src := filepath.Join(dir, "in.json")
	writeDoc(t, src, `{
		"ztp": {
			"url": "file://`+redirectTarget+`",
			"0001-inline": {"plugin": "should-be-discarded"}
		}
	}`)

	doc, err := loader.Load(context.Background(), src)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	names := doc.SectionNames()
	if len(names) != 1 || names[0] != "0001-final" {
		t.Fatalf("expected redirect to win and inline to be discarded, got %v", names)
	}
}

func TestSuspendExitCodeNegativeDropped(t *testing.T) {
	loader, dir := newTestLoader(t)
	src := filepath.Join(dir, "in.json")
	writeDoc(t, src, `{
		"ztp": {
			"0001-x": {"plugin": "p", "suspend-exit-code": -1}
		}
	}`)

	doc, err := loader.Load(context.Background(), src)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if doc.Sections["0001-x"].SuspendExitCode != nil {
		t.Fatalf("expected negative suspend-exit-code to be dropped")
	}
}

func TestSectionRoundTripPreservesOpaquePayload(t *testing.T) {
	raw := json.RawMessage(`{"plugin": "p", "custom-field": {"nested": true}}`)
	sec, err := decodeSection("0001-x", raw)
	if err != nil {
		t.Fatalf("decodeSection: %v", err)
	}
	out, err := encodeSection(sec)
	if err != nil {
		t.Fatalf("encodeSection: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	custom, ok := got["custom-field"].(map[string]interface{})
	if !ok || custom["nested"] != true {
		t.Fatalf("expected custom-field to round-trip, got %#v", got["custom-field"])
	}
}

func TestShadowIsSubsetOfWorkingDocument(t *testing.T) {
	loader, dir := newTestLoader(t)
	src := filepath.Join(dir, "in.json")
	writeDoc(t, src, `{
		"ztp": {
			"0001-x": {"plugin": "p", "description": "a section", "secret-field": "should-not-leak"}
		}
	}`)

	doc, err := loader.Load(context.Background(), src)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	shadowBytes, err := os.ReadFile(loader.Paths.ShadowDocument)
	if err != nil {
		t.Fatal(err)
	}
	var shadow map[string]map[string]interface{}
	if err := json.Unmarshal(shadowBytes, &shadow); err != nil {
		t.Fatal(err)
	}
	section := shadow["ztp"]["0001-x"].(map[string]interface{})
	if _, present := section["secret-field"]; present {
		t.Fatalf("shadow document leaked non-whitelisted key")
	}
	if section["description"] != "a section" {
		t.Fatalf("shadow document missing whitelisted description key")
	}

	_ = doc
}
