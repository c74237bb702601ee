package document

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

var knownEnvelopeKeys = map[string]bool{
	"status":                 true,
	"start-timestamp":        true,
	"timestamp":              true,
	"ztp-json-source":        true,
	"ztp-json-version":       true,
	"url":                    true,
	"dynamic-url":            true,
	"error":                  true,
	"ignore-result":          true,
	"reboot-on-success":      true,
	"reboot-on-failure":      true,
	"halt-on-failure":        true,
	"restart-ztp-on-failure": true,
	"restart-ztp-no-config":  true,
	"config-fallback":        true,
}

// decodedEnvelope pairs a parsed Document with the envelope-level
// metadata keys the model doesn't otherwise interpret, preserved so
// writes don't silently drop them.
type decodedEnvelope struct {
	doc *Document
	raw map[string]json.RawMessage
}

// decodeEnvelope parses the object under the top-level "ztp" key.
func decodeEnvelope(data json.RawMessage) (*decodedEnvelope, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, errors.Wrap(err, "document: ztp envelope is not an object")
	}

	d := &Document{Sections: map[string]*Section{}, envelopeRaw: map[string]json.RawMessage{}}
	raw := d.envelopeRaw

	for k, v := range generic {
		if knownEnvelopeKeys[k] {
			switch k {
			case "status":
				json.Unmarshal(v, &d.Status)
			case "start-timestamp":
				json.Unmarshal(v, &d.StartTimestamp)
			case "timestamp":
				json.Unmarshal(v, &d.Timestamp)
			case "ztp-json-source":
				json.Unmarshal(v, &d.Source)
			case "ztp-json-version":
				json.Unmarshal(v, &d.Version)
			case "error":
				json.Unmarshal(v, &d.Error)
			case "url":
				var u URL
				if err := json.Unmarshal(v, &u); err == nil {
					d.URL = &u
				}
			case "dynamic-url":
				var du DynamicURL
				if err := json.Unmarshal(v, &du); err == nil {
					d.DynamicURL = &du
				}
			case "ignore-result":
				d.Policy.IgnoreResult = decodeBoolPtr(v)
			case "reboot-on-success":
				d.Policy.RebootOnSuccess = decodeBoolPtr(v)
			case "reboot-on-failure":
				d.Policy.RebootOnFailure = decodeBoolPtr(v)
			case "halt-on-failure":
				d.Policy.HaltOnFailure = decodeBoolPtr(v)
			case "restart-ztp-on-failure":
				d.Policy.RestartZTPOnFailure = decodeBoolPtr(v)
			case "restart-ztp-no-config":
				d.Policy.RestartZTPNoConfig = decodeBoolPtr(v)
			case "config-fallback":
				d.Policy.ConfigFallback = decodeBoolPtr(v)
			}
			continue
		}

		// A section is identified by being a JSON object; anything else
		// at the envelope level is metadata preserved untouched.
		if looksLikeObject(v) {
			sec, err := decodeSection(k, v)
			if err != nil {
				return nil, err
			}
			d.Sections[k] = sec
			continue
		}

		raw[k] = v
	}

	return &decodedEnvelope{doc: d, raw: raw}, nil
}

func looksLikeObject(v json.RawMessage) bool {
	for _, b := range v {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// SectionNames returns section keys in sorted lexicographic order, the
// order sections execute in.
func (d *Document) SectionNames() []string {
	names := make([]string, 0, len(d.Sections))
	for name := range d.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// encodeEnvelope serializes the document back into the `{"ztp": {...}}`
// wire shape, merging raw metadata back in.
func encodeEnvelope(e *decodedEnvelope) (json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	for k, v := range e.raw {
		out[k] = v
	}

	d := e.doc
	setIf(out, "status", d.Status)
	setIf(out, "start-timestamp", d.StartTimestamp)
	setIf(out, "timestamp", d.Timestamp)
	setIf(out, "ztp-json-source", d.Source)
	setIf(out, "ztp-json-version", d.Version)
	setIf(out, "error", d.Error)

	setBoolPtrIf(out, "ignore-result", d.Policy.IgnoreResult)
	setBoolPtrIf(out, "reboot-on-success", d.Policy.RebootOnSuccess)
	setBoolPtrIf(out, "reboot-on-failure", d.Policy.RebootOnFailure)
	setBoolPtrIf(out, "halt-on-failure", d.Policy.HaltOnFailure)
	setBoolPtrIf(out, "restart-ztp-on-failure", d.Policy.RestartZTPOnFailure)
	setBoolPtrIf(out, "restart-ztp-no-config", d.Policy.RestartZTPNoConfig)
	setBoolPtrIf(out, "config-fallback", d.Policy.ConfigFallback)

	for name, sec := range d.Sections {
		b, err := encodeSection(sec)
		if err != nil {
			return nil, err
		}
		out[name] = b
	}

	return json.Marshal(out)
}

// MarshalDocument serializes the full `{"ztp": ...}` wrapper.
func MarshalDocument(d *Document) ([]byte, error) {
	raw := d.envelopeRaw
	if raw == nil {
		raw = map[string]json.RawMessage{}
	}
	env, err := encodeEnvelope(&decodedEnvelope{doc: d, raw: raw})
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{"ztp": env})
}
