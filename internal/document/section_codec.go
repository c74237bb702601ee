package document

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// knownSectionKeys are the fields this model interprets; everything else
// in a section object is preserved verbatim in Section.raw so splitting
// and reassembly round-trip byte-for-byte.
var knownSectionKeys = map[string]bool{
	"status":              true,
	"plugin":              true,
	"suspend-exit-code":   true,
	"start-timestamp":     true,
	"timestamp":           true,
	"exit-code":           true,
	"error":               true,
	"description":         true,
	"ignore-result":       true,
	"reboot-on-success":   true,
	"reboot-on-failure":   true,
	"halt-on-failure":     true,
	"restart-ztp-on-failure": true,
	"restart-ztp-no-config":  true,
	"config-fallback":     true,
}

// SetRawPayload stores extra opaque fields on a section, used by
// synthesized sections (DHCP-sourced script/graph documents) that are
// built in code rather than decoded from the wire.
func (s *Section) SetRawPayload(fields map[string]interface{}) {
	if s.raw == nil {
		s.raw = map[string]json.RawMessage{}
	}
	for k, v := range fields {
		s.raw[k] = mustMarshal(v)
	}
}

// decodeSection parses a section's JSON object into a Section, keeping
// anything this model doesn't recognize in raw.
func decodeSection(name string, data json.RawMessage) (*Section, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, errors.Wrapf(err, "document: section %q is not an object", name)
	}

	s := &Section{Name: name, raw: map[string]json.RawMessage{}}

	for k, v := range generic {
		if !knownSectionKeys[k] {
			s.raw[k] = v
			continue
		}
		switch k {
		case "status":
			json.Unmarshal(v, &s.Status)
		case "suspend-exit-code":
			var i int
			if err := json.Unmarshal(v, &i); err == nil {
				s.SuspendExitCode = &i
			}
			// Non-integer values are silently dropped.
		case "start-timestamp":
			json.Unmarshal(v, &s.StartTimestamp)
		case "timestamp":
			json.Unmarshal(v, &s.Timestamp)
		case "exit-code":
			var i int
			if err := json.Unmarshal(v, &i); err == nil {
				s.ExitCode = &i
			}
		case "error":
			json.Unmarshal(v, &s.Error)
		case "description":
			json.Unmarshal(v, &s.Description)
		case "plugin":
			spec, err := decodePluginSpec(v)
			if err != nil {
				return nil, errors.Wrapf(err, "document: section %q plugin", name)
			}
			s.Plugin = spec
		case "ignore-result":
			s.Policy.IgnoreResult = decodeBoolPtr(v)
		case "reboot-on-success":
			s.Policy.RebootOnSuccess = decodeBoolPtr(v)
		case "reboot-on-failure":
			s.Policy.RebootOnFailure = decodeBoolPtr(v)
		case "halt-on-failure":
			s.Policy.HaltOnFailure = decodeBoolPtr(v)
		case "restart-ztp-on-failure":
			s.Policy.RestartZTPOnFailure = decodeBoolPtr(v)
		case "restart-ztp-no-config":
			s.Policy.RestartZTPNoConfig = decodeBoolPtr(v)
		case "config-fallback":
			s.Policy.ConfigFallback = decodeBoolPtr(v)
		}
	}

	return s, nil
}

func decodeBoolPtr(v json.RawMessage) *bool {
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return nil
	}
	return &b
}

func decodePluginSpec(data json.RawMessage) (*PluginSpec, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return &PluginSpec{Name: name}, nil
	}

	var obj struct {
		Name              string      `json:"name"`
		URL               *URL        `json:"url"`
		DynamicURL        *DynamicURL `json:"dynamic-url"`
		Shell             bool        `json:"shell"`
		Umask             string      `json:"umask"`
		Args              string      `json:"args"`
		IgnoreSectionData bool        `json:"ignore-section-data"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, errors.Wrap(err, "document: invalid plugin shape")
	}

	return &PluginSpec{
		Name:              obj.Name,
		URL:               obj.URL,
		DynamicURL:        obj.DynamicURL,
		Shell:             obj.Shell,
		Umask:             obj.Umask,
		Args:              obj.Args,
		IgnoreSectionData: obj.IgnoreSectionData,
	}, nil
}

// encodeSection serializes a section back to a JSON object, merging
// known fields back over raw so a round-trip preserves untouched keys.
func encodeSection(s *Section) (json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	for k, v := range s.raw {
		out[k] = v
	}

	setIf(out, "status", s.Status)
	if s.SuspendExitCode != nil {
		out["suspend-exit-code"] = mustMarshal(*s.SuspendExitCode)
	}
	setIf(out, "start-timestamp", s.StartTimestamp)
	setIf(out, "timestamp", s.Timestamp)
	if s.ExitCode != nil {
		out["exit-code"] = mustMarshal(*s.ExitCode)
	}
	setIf(out, "error", s.Error)
	setIf(out, "description", s.Description)

	setBoolPtrIf(out, "ignore-result", s.Policy.IgnoreResult)
	setBoolPtrIf(out, "reboot-on-success", s.Policy.RebootOnSuccess)
	setBoolPtrIf(out, "reboot-on-failure", s.Policy.RebootOnFailure)
	setBoolPtrIf(out, "halt-on-failure", s.Policy.HaltOnFailure)
	setBoolPtrIf(out, "restart-ztp-on-failure", s.Policy.RestartZTPOnFailure)
	setBoolPtrIf(out, "restart-ztp-no-config", s.Policy.RestartZTPNoConfig)
	setBoolPtrIf(out, "config-fallback", s.Policy.ConfigFallback)

	if s.Plugin != nil {
		out["plugin"] = encodePluginSpec(s.Plugin)
	}

	return json.Marshal(out)
}

func encodePluginSpec(p *PluginSpec) json.RawMessage {
	if p.URL == nil && p.DynamicURL == nil && !p.Shell && p.Umask == "" && p.Args == "" && !p.IgnoreSectionData {
		return mustMarshal(p.Name)
	}
	obj := map[string]interface{}{}
	if p.Name != "" {
		obj["name"] = p.Name
	}
	if p.URL != nil {
		obj["url"] = p.URL
	}
	if p.DynamicURL != nil {
		obj["dynamic-url"] = p.DynamicURL
	}
	if p.Shell {
		obj["shell"] = true
	}
	if p.Umask != "" {
		obj["umask"] = p.Umask
	}
	if p.Args != "" {
		obj["args"] = p.Args
	}
	if p.IgnoreSectionData {
		obj["ignore-section-data"] = true
	}
	return mustMarshal(obj)
}

func setIf(m map[string]json.RawMessage, key, val string) {
	if val != "" {
		m[key] = mustMarshal(val)
	}
}

func setBoolPtrIf(m map[string]json.RawMessage, key string, val *bool) {
	if val != nil {
		m[key] = mustMarshal(*val)
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(strconv.Quote(""))
	}
	return b
}
