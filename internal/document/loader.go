package document

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/sonic-net/sonic-ztp/internal/zconfig"
)

// InvalidDocumentError signals a document that could not be parsed at
// all (bad JSON, missing "ztp" root) or whose envelope redirect could not
// be downloaded, as opposed to one that merely has
// out-of-range field values, which are repaired in place instead. The
// supervisor checks for this type to decide between restarting
// discovery and stopping.
type InvalidDocumentError struct {
	Err error
}

func (e *InvalidDocumentError) Error() string {
	return "document: invalid provisioning document: " + e.Err.Error()
}

func (e *InvalidDocumentError) Unwrap() error { return e.Err }

// Paths collects every on-disk location the loader and splitter touch.
type Paths struct {
	WorkingDocument string
	ShadowDocument  string
	TmpDir          string
	TmpPersistent   string
	SectionInput    string // filename, e.g. "input.json"
}

// Loader reads, repairs, splits, and persists provisioning documents.
type Loader struct {
	Paths Paths
	Store *zconfig.Store
	Env   Env
}

// New returns a Loader reading/writing under paths, applying defaults
// from store and using env for any redirect download.
func New(paths Paths, store *zconfig.Store, env Env) *Loader {
	return &Loader{Paths: paths, Store: store, Env: env}
}

// Load reads the document at path, optionally follows one envelope
// redirect, applies defaults, validates statuses, splits sections to
// disk, and persists both the working document and its shadow
// projection.
func (l *Loader) Load(ctx context.Context, path string) (*Document, error) {
	env, err := l.loadOnce(path)
	if err != nil {
		return nil, &InvalidDocumentError{Err: err}
	}

	if env.doc.URL != nil || env.doc.DynamicURL != nil {
		if err := l.followRedirect(ctx, env.doc, path); err != nil {
			return nil, &InvalidDocumentError{Err: err}
		}
		// Exactly one level of envelope redirection is honored: reload
		// once more, discarding whatever inline sections this envelope
		// defined alongside the redirect. Redirect wins, inline is
		// discarded.
		env, err = l.loadOnce(path)
		if err != nil {
			return nil, &InvalidDocumentError{Err: err}
		}
	}

	doc := env.doc

	if doc.Version == "" {
		doc.Version = l.Store.GetString("ztp-json-version")
	}

	applyDocumentDefaults(doc, l.Store)

	if doc.Status == "" {
		doc.Status = StatusBoot
		doc.Timestamp = timestamp()
	} else if !documentStatuses[doc.Status] {
		doc.Status = StatusDisabled
	}
	if doc.Status == StatusBoot && doc.StartTimestamp == "" {
		doc.StartTimestamp = timestamp()
	}

	var verrs *multierror.Error
	for name, sec := range doc.Sections {
		applySectionDefaults(sec, doc, l.Store)
		if sec.Status == "" {
			sec.Status = StatusBoot
		} else if !sectionStatuses[sec.Status] {
			verrs = multierror.Append(verrs, errors.Errorf("document: section %q has invalid status %q", name, sec.Status))
			sec.Status = StatusDisabled
		}
	}

	if doc.Status == StatusBoot {
		if err := l.resetWorkDirs(); err != nil {
			return nil, errors.Wrap(err, "document: unable to reset work directories")
		}
	}

	if err := l.split(doc); err != nil {
		return nil, errors.Wrap(err, "document: unable to split sections")
	}

	if err := l.Save(doc); err != nil {
		return nil, err
	}

	return doc, verrs.ErrorOrNil()
}

// loadOnce reads and parses the envelope at path without following any
// redirect.
func (l *Loader) loadOnce(path string) (*decodedEnvelope, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "document: unable to read document")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(contents, &top); err != nil {
		return nil, errors.Wrap(err, "document: malformed JSON")
	}

	ztp, ok := top["ztp"]
	if !ok {
		return nil, errors.New("document: missing \"ztp\" root key")
	}

	return decodeEnvelope(ztp)
}

// followRedirect downloads the referenced document over path. An
// in-payload destination wins for the download itself, but the fetched
// content still replaces the working document so the reload sees it.
func (l *Loader) followRedirect(ctx context.Context, doc *Document, path string) error {
	var code int
	var got string
	var derr error
	if doc.DynamicURL != nil {
		code, got, derr = doc.DynamicURL.Download(ctx, l.Env, path)
	} else {
		code, got, derr = doc.URL.Download(ctx, l.Env, path)
	}
	if derr != nil || code != 0 {
		return errors.Wrap(derr, "document: envelope redirect download failed")
	}
	if got != path {
		b, err := os.ReadFile(got)
		if err != nil {
			return errors.Wrap(err, "document: reading redirected document")
		}
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return errors.Wrap(err, "document: replacing working document")
		}
	}
	return nil
}

func (l *Loader) resetWorkDirs() error {
	if err := os.RemoveAll(l.Paths.TmpDir); err != nil {
		return err
	}
	if err := os.RemoveAll(l.Paths.TmpPersistent); err != nil {
		return err
	}
	if err := os.MkdirAll(l.Paths.TmpDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(l.Paths.TmpPersistent, 0o755)
}

// split writes each section's input JSON under
// <tmp-persistent>/<section>/<section-input-file>, never overwriting an
// existing section directory. This is what lets a suspended section's
// cached plugin and any plugin-owned scratch state survive across
// passes.
func (l *Loader) split(doc *Document) error {
	for name, sec := range doc.Sections {
		dir := filepath.Join(l.Paths.TmpPersistent, name)
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		b, err := encodeSection(sec)
		if err != nil {
			return err
		}
		input := l.Paths.SectionInput
		if input == "" {
			input = "input.json"
		}
		if err := os.WriteFile(filepath.Join(dir, input), b, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Save persists both the working document and its shadow projection, in
// that order: the shadow is always at least as stale as the working
// document, never fresher.
func (l *Loader) Save(doc *Document) error {
	b, err := MarshalDocument(doc)
	if err != nil {
		return errors.Wrap(err, "document: unable to marshal working document")
	}
	b = indentJSON(b, l.Store.GetInt("json-indent"))
	if err := os.WriteFile(l.Paths.WorkingDocument, b, 0o644); err != nil {
		return errors.Wrap(err, "document: unable to write working document")
	}

	shadow, err := MarshalShadow(doc)
	if err != nil {
		return errors.Wrap(err, "document: unable to marshal shadow document")
	}
	shadow = indentJSON(shadow, l.Store.GetInt("json-indent"))
	if err := os.WriteFile(l.Paths.ShadowDocument, shadow, 0o644); err != nil {
		return errors.Wrap(err, "document: unable to write shadow document")
	}
	return nil
}

// Delete removes both the working and shadow documents, used when the
// supervisor abandons a document (invalid-document recovery, or a
// "retry"/"restart" decision).
func (l *Loader) Delete() error {
	var errs *multierror.Error
	if err := os.Remove(l.Paths.WorkingDocument); err != nil && !os.IsNotExist(err) {
		errs = multierror.Append(errs, err)
	}
	if err := os.Remove(l.Paths.ShadowDocument); err != nil && !os.IsNotExist(err) {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func applyDocumentDefaults(d *Document, store *zconfig.Store) {
	d.Policy.IgnoreResult = orDefault(d.Policy.IgnoreResult, store, "ignore-result")
	d.Policy.RebootOnSuccess = orDefault(d.Policy.RebootOnSuccess, store, "reboot-on-success")
	d.Policy.RebootOnFailure = orDefault(d.Policy.RebootOnFailure, store, "reboot-on-failure")
	d.Policy.HaltOnFailure = orDefault(d.Policy.HaltOnFailure, store, "halt-on-failure")
	d.Policy.RestartZTPOnFailure = orDefault(d.Policy.RestartZTPOnFailure, store, "restart-ztp-on-failure")
	d.Policy.RestartZTPNoConfig = orDefault(d.Policy.RestartZTPNoConfig, store, "restart-ztp-no-config")
	d.Policy.ConfigFallback = orDefault(d.Policy.ConfigFallback, store, "config-fallback")
}

// applySectionDefaults resolves the three-level lookup: section →
// document → Config Store.
func applySectionDefaults(s *Section, d *Document, store *zconfig.Store) {
	s.Policy.IgnoreResult = orInherit(s.Policy.IgnoreResult, d.Policy.IgnoreResult, store, "ignore-result")
	s.Policy.RebootOnSuccess = orInherit(s.Policy.RebootOnSuccess, d.Policy.RebootOnSuccess, store, "reboot-on-success")
	s.Policy.RebootOnFailure = orInherit(s.Policy.RebootOnFailure, d.Policy.RebootOnFailure, store, "reboot-on-failure")
	s.Policy.HaltOnFailure = orInherit(s.Policy.HaltOnFailure, d.Policy.HaltOnFailure, store, "halt-on-failure")
	s.Policy.RestartZTPOnFailure = orInherit(s.Policy.RestartZTPOnFailure, d.Policy.RestartZTPOnFailure, store, "restart-ztp-on-failure")
	s.Policy.RestartZTPNoConfig = orInherit(s.Policy.RestartZTPNoConfig, d.Policy.RestartZTPNoConfig, store, "restart-ztp-no-config")
	s.Policy.ConfigFallback = orInherit(s.Policy.ConfigFallback, d.Policy.ConfigFallback, store, "config-fallback")

	if s.SuspendExitCode != nil && *s.SuspendExitCode < 0 {
		s.SuspendExitCode = nil
	}
}

// indentJSON pretty-prints b with an n-space indent; n <= 0 leaves the
// compact form untouched.
func indentJSON(b []byte, n int) []byte {
	if n <= 0 {
		return b
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", strings.Repeat(" ", n)); err != nil {
		return b
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func orDefault(v *bool, store *zconfig.Store, key string) *bool {
	if v != nil {
		return v
	}
	b := store.GetBool(key)
	return &b
}

func orInherit(v, parent *bool, store *zconfig.Store, key string) *bool {
	if v != nil {
		return v
	}
	if parent != nil {
		return parent
	}
	b := store.GetBool(key)
	return &b
}
