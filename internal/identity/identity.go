// Package identity resolves the per-device tags used by dynamic URL
// identifiers and by outbound download headers: hostname, EEPROM
// fields, and the SONiC build version.
package identity

import (
	"bufio"
	"os"
	"strings"
)

const (
	eepromPath  = "/sys/class/dmi/id/product_serial"
	versionPath = "/etc/sonic/sonic_version.yml"
)

// Reserved identifier tags accepted by the Dynamic URL source.
const (
	TagHostname     = "hostname"
	TagHostnameFQDN = "hostname-fqdn"
	TagSerialNumber = "serial-number"
	TagProductName  = "product-name"
	TagMAC          = "mac"
	TagSONiCVersion = "sonic-version"
)

// Provider resolves reserved identifier tags and supplies header values
// for outbound downloads. A struct (rather than package funcs) so tests
// can substitute a fake without touching the filesystem.
type Provider struct {
	EepromPath  string
	VersionPath string
}

// Default returns a Provider reading from the usual OS locations.
func Default() *Provider {
	return &Provider{EepromPath: eepromPath, VersionPath: versionPath}
}

// Resolve returns the value for a reserved tag, or ("", false) if tag is
// not one of the reserved identifier names.
func (p *Provider) Resolve(tag string) (string, bool) {
	switch tag {
	case TagHostname:
		return p.hostname(), true
	case TagHostnameFQDN:
		return p.hostnameFQDN(), true
	case TagSerialNumber:
		return blankFilter(p.eeprom("serial-number")), true
	case TagProductName:
		return blankFilter(p.eeprom("product-name")), true
	case TagMAC:
		return blankFilter(p.eeprom("mac")), true
	case TagSONiCVersion:
		return p.sonicVersion(), true
	default:
		return "", false
	}
}

func (p *Provider) hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	if i := strings.IndexByte(h, '.'); i >= 0 {
		return h[:i]
	}
	return h
}

func (p *Provider) hostnameFQDN() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

// eeprom reads a single EEPROM-backed field. This is a simplified stand-in
// for the platform EEPROM decoder external to this engine's core; it
// reads whatever is present at EepromPath and returns it raw, letting
// blankFilter do the printable-ASCII cleanup the real decoder performs.
func (p *Provider) eeprom(field string) string {
	f, err := os.Open(p.EepromPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 && strings.TrimSpace(parts[0]) == field {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

func (p *Provider) sonicVersion() string {
	f, err := os.Open(p.VersionPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "build_version:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "build_version:"))
		}
	}
	return ""
}

// blankFilter masks non-printable/padding bytes out of an EEPROM field,
// matching the platform EEPROM decoder's handling of unprogrammed fields.
func blankFilter(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
