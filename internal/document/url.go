package document

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/sonic-net/sonic-ztp/internal/download"
	"github.com/sonic-net/sonic-ztp/internal/identity"
)

// URL represents a download request. It accepts either a bare JSON
// string (meaning {source: <string>}) or the full object form.
type URL struct {
	Source             string  `json:"source"`
	Destination        string  `json:"destination,omitempty"`
	Secure             *bool   `json:"secure,omitempty"`
	IncludeHTTPHeaders *bool   `json:"include-http-headers,omitempty"`
	Encrypted          *bool   `json:"encrypted,omitempty"`
	Timeout            *int    `json:"timeout,omitempty"`
	CurlArguments      *string `json:"curl-arguments,omitempty"`
}

// UnmarshalJSON accepts both the bare-string and full-object wire shapes.
func (u *URL) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		u.Source = s
		return nil
	}

	type alias URL
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*u = URL(a)
	return nil
}

// Env is the shared dependency set every URL/DynamicURL download call
// needs: where to fetch from, what identity to stamp on headers, and
// where a relative destination lands.
type Env struct {
	Downloader     *download.Downloader
	Identity       *identity.Provider
	TFTPServerHint string
	Retries        int
	UserAgent      string

	// IncludeHTTPHeadersDefault is the Config Store's include-http-headers
	// value, applied whenever a URL/DynamicURL omits the field.
	IncludeHTTPHeadersDefault bool
}

// Download delegates to the Downloader, stamping the device identity
// headers and environment defaults onto the request.
func (u *URL) Download(ctx context.Context, env Env, dest string) (int, string, error) {
	if u == nil || u.Source == "" {
		return download.CodeFailed, "", errors.New("document: url has no source")
	}

	destination := dest
	if u.Destination != "" {
		destination = u.Destination
	}

	headers := download.Headers{}
	if env.Identity != nil {
		if v, ok := env.Identity.Resolve(identity.TagProductName); ok {
			headers.ProductName = v
		}
		if v, ok := env.Identity.Resolve(identity.TagSerialNumber); ok {
			headers.SerialNumber = v
		}
		if v, ok := env.Identity.Resolve(identity.TagMAC); ok {
			headers.BaseMAC = v
		}
		if v, ok := env.Identity.Resolve(identity.TagSONiCVersion); ok {
			headers.SONiCVersion = v
		}
	}

	req := download.Request{
		Source:                    u.Source,
		Destination:               destination,
		Secure:                    u.Secure,
		IncludeHTTPHeaders:        u.IncludeHTTPHeaders,
		IncludeHTTPHeadersDefault: env.IncludeHTTPHeadersDefault,
		Encrypted:                 u.Encrypted,
		Timeout:                   u.Timeout,
		CurlArguments:             u.CurlArguments,
		Retries:                   env.Retries,
		UserAgent:                 env.UserAgent,
		TFTPServerHint:            env.TFTPServerHint,
		Headers:                   headers,
	}
	return env.Downloader.Get(ctx, req)
}

// DynamicSource is the {prefix?, identifier, suffix?} triple that
// computes a URL's effective source at construction time.
type DynamicSource struct {
	Prefix     string          `json:"prefix,omitempty"`
	Identifier json.RawMessage `json:"identifier"`
	Suffix     string          `json:"suffix,omitempty"`
}

// DynamicURL is a URL whose source is computed by concatenating a
// prefix, a resolved identifier, and a suffix.
type DynamicURL struct {
	SourceSpec         DynamicSource `json:"source"`
	Destination        string        `json:"destination,omitempty"`
	Secure             *bool         `json:"secure,omitempty"`
	IncludeHTTPHeaders *bool         `json:"include-http-headers,omitempty"`
	Encrypted          *bool         `json:"encrypted,omitempty"`
	Timeout            *int          `json:"timeout,omitempty"`
	CurlArguments      *string       `json:"curl-arguments,omitempty"`

	resolved string
}

// Resolve computes the effective source by resolving the identifier
// once and concatenating prefix+identifier+suffix. An unresolvable
// identifier fails the whole dynamic URL.
func (d *DynamicURL) Resolve(ctx context.Context, env Env) error {
	if d.SourceSpec.Identifier == nil {
		return errors.New("document: dynamic-url missing source")
	}

	id, err := ResolveIdentifier(ctx, env, d.SourceSpec.Identifier)
	if err != nil {
		return errors.Wrap(err, "document: dynamic-url identifier unresolved")
	}
	if id == "" {
		return errors.New("document: dynamic-url identifier resolved to empty string")
	}

	d.resolved = d.SourceSpec.Prefix + id + d.SourceSpec.Suffix
	return nil
}

// Download resolves (if not already resolved) then delegates to a plain
// URL download; a dynamic URL is just a URL with a computed source.
func (d *DynamicURL) Download(ctx context.Context, env Env, dest string) (int, string, error) {
	if d.resolved == "" {
		if err := d.Resolve(ctx, env); err != nil {
			return download.CodeFailed, "", err
		}
	}

	u := &URL{
		Source:             d.resolved,
		Destination:        d.Destination,
		Secure:             d.Secure,
		IncludeHTTPHeaders: d.IncludeHTTPHeaders,
		Encrypted:          d.Encrypted,
		Timeout:            d.Timeout,
		CurlArguments:      d.CurlArguments,
	}
	return u.Download(ctx, env, dest)
}
