// Package zconfig implements the ZTP Config Store: a flat key/value JSON
// file on disk, backed by a built-in defaults table that also fixes the
// canonical type of every known key.
package zconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/consul-template/config"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Kind is the canonical JSON type of a configuration key.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
)

type definition struct {
	kind   Kind
	defVal interface{}
}

// Defaults is the built-in defaults table. Every key the engine ever
// reads has an entry here, which both supplies a fallback value and fixes
// that key's canonical type for coercion and validation.
var Defaults = map[string]definition{
	"acl-url":                      {KindString, "/var/run/ztp/dhcp_acl_url"},
	"admin-mode":                   {KindBool, true},
	"config-db-json":               {KindString, "/etc/sonic/config_db.json"},
	"curl-retries":                 {KindInt, 3},
	"curl-timeout":                 {KindInt, 30},
	"discovery-interval":           {KindInt, 10},
	"config-fallback":              {KindBool, false},
	"feat-console-logging":         {KindBool, true},
	"feat-inband":                  {KindBool, true},
	"feat-ipv4":                    {KindBool, true},
	"feat-ipv6":                    {KindBool, true},
	"graph-url":                    {KindString, "/var/run/ztp/dhcp_graph_url"},
	"halt-on-failure":              {KindBool, false},
	"https-secure":                 {KindBool, true},
	"http-user-agent":              {KindString, "SONiC-ZTP/2.0"},
	"ignore-result":                {KindBool, false},
	"include-http-headers":         {KindBool, true},
	"opt59-v6-url":                 {KindString, "/var/run/ztp/dhcp6_59-ztp_data_url"},
	"opt66-tftp-server":            {KindString, "/var/run/ztp/dhcp_66-ztp_tftp_server"},
	"opt67-url":                    {KindString, "/var/run/ztp/dhcp_67-ztp_data_url"},
	"opt239-url":                   {KindString, "/var/run/ztp/dhcp_239-provisioning-script_url"},
	"opt239-v6-url":                {KindString, "/var/run/ztp/dhcp6_239-provisioning-script_url"},
	"plugins-dir":                  {KindString, "/usr/lib/ztp/plugins"},
	"provisioning-script":          {KindString, "/host/ztp/provisioning-script"},
	"json-indent":                  {KindInt, 4},
	"log-file":                     {KindString, ""},
	"log-level":                    {KindString, "INFO"},
	"monitor-startup-config":       {KindBool, true},
	"restart-ztp-interval":         {KindInt, 300},
	"reboot-on-success":            {KindBool, false},
	"reboot-on-failure":            {KindBool, false},
	"restart-ztp-on-failure":       {KindBool, false},
	"restart-ztp-on-invalid-data":  {KindBool, true},
	"restart-ztp-no-config":        {KindBool, true},
	"section-input-file":           {KindString, "input.json"},
	"sighandler-wait-interval":     {KindInt, 60},
	"syslog":                       {KindBool, false},
	"syslog-facility":              {KindString, "LOCAL0"},
	"test-mode":                    {KindBool, false},
	"umask":                        {KindString, "022"},
	"ztp-activity":                 {KindString, "/var/run/ztp/activity"},
	"ztp-cfg-dir":                  {KindString, "/host/ztp"},
	"ztp-json":                     {KindString, "/host/ztp/ztp_data.json"},
	"ztp-json-shadow":              {KindString, "/host/ztp/ztp_data_shadow.json"},
	"ztp-json-local":               {KindString, "/host/ztp/ztp_data_local.json"},
	"ztp-json-version":             {KindString, "1.0"},
	"ztp-lib-dir":                  {KindString, "/usr/lib/ztp"},
	"ztp-restart-flag":             {KindString, "/tmp/pending_ztp_restart"},
	"ztp-run-dir":                  {KindString, "/var/run/ztp"},
	"ztp-tmp-persistent":           {KindString, "/var/lib/ztp/sections"},
	"ztp-tmp":                      {KindString, "/var/lib/ztp/tmp"},
}

// DefaultString returns the built-in default value for key, or "" if key
// is unknown or its canonical type is not a string. Exported so callers
// building paths before a Store exists (e.g. locating the config file
// itself) don't need their own copy of the defaults table.
func DefaultString(key string) string {
	if def, ok := Defaults[key]; ok {
		if s, ok := def.defVal.(string); ok {
			return s
		}
	}
	return ""
}

// Store is a loaded, mutable Config Store backed by a JSON file on disk.
type Store struct {
	mu   sync.RWMutex
	path string
	data map[string]interface{}
}

// Load reads the configuration file at path, creating a minimal seed file
// (just admin-mode) if it does not exist yet. Unknown keys are preserved untouched;
// known keys whose decoded type does not match their canonical Kind
// produce a validation error collected into the returned multierror.
func Load(path string) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := seed(path); err != nil {
			return nil, errors.Wrap(err, "zconfig: unable to seed config file")
		}
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "zconfig: error reading config")
	}

	var shadow interface{}
	if err := hcl.Decode(&shadow, string(contents)); err != nil {
		return nil, errors.Wrap(err, "zconfig: error decoding config")
	}

	var data map[string]interface{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: false,
		Result:           &data,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(shadow); err != nil {
		return nil, errors.Wrap(err, "zconfig: error mapping config")
	}

	var errs *multierror.Error
	for key, val := range data {
		def, known := Defaults[key]
		if !known {
			continue
		}
		if !kindMatches(def.kind, val) {
			errs = multierror.Append(errs, fmt.Errorf(
				"zconfig: key %q has value of unexpected type %T, expected %s",
				key, val, kindName(def.kind)))
		}
	}

	return &Store{path: path, data: data}, errs.ErrorOrNil()
}

func seed(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	seedDoc := map[string]bool{"admin-mode": Defaults["admin-mode"].defVal.(bool)}
	b, err := json.MarshalIndent(seedDoc, "", "")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func kindName(k Kind) string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	default:
		return "string"
	}
}

func kindMatches(k Kind, val interface{}) bool {
	switch k {
	case KindBool:
		_, ok := val.(bool)
		return ok
	case KindInt:
		switch val.(type) {
		case int, int64, float64:
			return true
		default:
			return false
		}
	case KindString:
		_, ok := val.(string)
		return ok
	default:
		return false
	}
}

// GetBool resolves key, coercing the persisted value to bool. If the key
// is absent or the coercion fails, the built-in default is returned.
func (s *Store) GetBool(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	if def, ok := Defaults[key]; ok {
		if b, ok := def.defVal.(bool); ok {
			return b
		}
	}
	return false
}

// GetString resolves key, coercing the persisted value to string.
func (s *Store) GetString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	if def, ok := Defaults[key]; ok {
		if str, ok := def.defVal.(string); ok {
			return str
		}
	}
	return ""
}

// GetInt resolves key, coercing the persisted value to int. JSON/HCL
// decode numeric literals as float64; that and int64 both coerce cleanly.
func (s *Store) GetInt(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data[key]; ok {
		if i, ok := coerceInt(v); ok {
			return i
		}
	}
	if def, ok := Defaults[key]; ok {
		if i, ok := coerceInt(def.defVal); ok {
			return i
		}
	}
	return 0
}

func coerceInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

// GetDuration resolves a key as seconds (intervals are stored as plain
// integer seconds) and returns a time.Duration.
func (s *Store) GetDuration(key string) time.Duration {
	return time.Duration(s.GetInt(key)) * time.Second
}

// Bool/String/Int expose tri-state pointer helpers identical in spirit to
// consul-template/config's String/Bool/Int: "unset" and "explicitly
// false/zero" stay distinguishable for callers building the document's
// three-level default lookup.
func Bool(b bool) *bool          { return config.Bool(b) }
func BoolVal(b *bool) bool       { return config.BoolVal(b) }
func String(s string) *string    { return config.String(s) }
func StringVal(s *string) string { return config.StringVal(s) }
func Int(i int) *int             { return config.Int(i) }
func IntVal(i *int) int          { return config.IntVal(i) }

// Set updates a single key in memory. Callers must call Save to persist.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Path returns the on-disk location backing this store.
func (s *Store) Path() string {
	return s.path
}

// Save serializes the store back to disk using a write-then-fsync-then-
// rename discipline, so a crash mid-write never leaves a malformed or
// half-written configuration file behind.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return atomicWriteJSON(s.path, s.data, 4)
}

// atomicWriteJSON writes v as indented JSON to a temp file in the same
// directory as path, fsyncs it, then renames it into place.
func atomicWriteJSON(path string, v interface{}, indent int) error {
	b, err := json.MarshalIndent(v, "", indentString(indent))
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ztp-cfg-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func indentString(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	return string(out)
}
