package discovery

import (
	"github.com/sonic-net/sonic-ztp/internal/document"
	"github.com/sonic-net/sonic-ztp/internal/zconfig"
)

// synthesizeScriptDocument wraps a downloaded DHCP option 239 script into
// a one-section document. The script itself becomes the section's plugin,
// referenced as a file URL so the resolver copies it into the section's
// cache and executes it; an operator script expects no section input, so
// ignore-section-data is set.
func synthesizeScriptDocument(scriptPath string) *document.Document {
	doc := &document.Document{
		Status: document.StatusBoot,
		Source: "dhcp-option-239",
		Sections: map[string]*document.Section{
			"0001-provisioning-script": {
				Name:   "0001-provisioning-script",
				Status: document.StatusBoot,
				Plugin: &document.PluginSpec{
					URL:               &document.URL{Source: "file://" + scriptPath},
					IgnoreSectionData: true,
				},
			},
		},
	}
	return doc
}

// synthesizeGraphDocument wraps DHCP options 225/226 (minigraph and
// optional ACL URLs) into a one-section "graphservice" document. The
// section payload nests each URL under minigraph-url/acl-url with a bare
// "url" string, the shape the graphservice plugin consumes, and the
// document pins restart-ztp-no-config to false so a graph-provisioned
// device does not re-enter discovery just because no startup config
// exists yet.
func synthesizeGraphDocument(graphURL, aclURL string) *document.Document {
	sec := &document.Section{
		Name:   "0001-graphservice",
		Status: document.StatusBoot,
		Plugin: &document.PluginSpec{Name: "graphservice"},
	}

	payload := map[string]interface{}{
		"minigraph-url": map[string]interface{}{"url": graphURL},
	}
	if aclURL != "" {
		payload["acl-url"] = map[string]interface{}{"url": aclURL}
	}

	sec.SetRawPayload(payload)

	return &document.Document{
		Status:   document.StatusBoot,
		Source:   "dhcp-option-225-226",
		Policy:   document.Policy{RestartZTPNoConfig: zconfig.Bool(false)},
		Sections: map[string]*document.Section{"0001-graphservice": sec},
	}
}
