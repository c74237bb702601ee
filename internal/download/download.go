// Package download fetches a remote or file:// URL to a local
// destination with bounded retries on transient transport failures.
package download

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Result codes follow curl's exit-code convention closely enough for
// callers: 0 means success, 20 means failure (download could not be
// completed within the retry/timeout budget).
const (
	CodeSuccess = 0
	CodeFailed  = 20
)

// Headers are the identity values injected as outbound HTTP headers when
// Request.IncludeHTTPHeaders is true.
type Headers struct {
	ProductName  string
	SerialNumber string
	BaseMAC      string
	SONiCVersion string
}

// Request describes a single download attempt, matching the URL object
// in the provisioning document schema.
type Request struct {
	Source             string
	Destination        string
	Secure             *bool
	IncludeHTTPHeaders *bool
	// IncludeHTTPHeadersDefault is the fallback applied when
	// IncludeHTTPHeaders is unset, sourced from the Config Store's
	// include-http-headers key rather than hardcoded here.
	IncludeHTTPHeadersDefault bool
	Encrypted                 *bool
	Timeout                   *int
	CurlArguments             *string
	Retries                   int
	UserAgent                 string
	TFTPServerHint            string
	Headers                   Headers
}

func boolVal(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func intVal(i *int, def int) int {
	if i == nil {
		return def
	}
	return *i
}

// Downloader performs Request downloads. It holds no state of its own;
// every field on Request fully determines one Get call's behavior.
type Downloader struct {
	// TempDir is where destinations with no directory component land.
	TempDir string
}

// New returns a Downloader that places unqualified destinations under tempDir.
func New(tempDir string) *Downloader {
	return &Downloader{TempDir: tempDir}
}

// Get retrieves req.Source to a local path, retrying transient transport
// failures up to req.Retries times within the cumulative req.Timeout
// budget. It returns (CodeSuccess, path) on success or (CodeFailed, "")
// otherwise; the destination is removed on any failure.
func (d *Downloader) Get(ctx context.Context, req Request) (int, string, error) {
	dest := req.Destination
	if dest == "" {
		dest = d.deriveDestination(req.Source)
	}

	source := d.rewriteTFTP(req.Source, req.TFTPServerHint)

	timeout := time.Duration(intVal(req.Timeout, 30)) * time.Second
	retries := req.Retries
	if retries < 0 {
		retries = 0
	}

	deadline := time.Now().Add(timeout * time.Duration(retries+1))

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if time.Now().After(deadline) {
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := d.attempt(attemptCtx, source, dest, req)
		cancel()

		if err == nil {
			if err := os.Chmod(dest, 0o700); err != nil {
				os.Remove(dest)
				return CodeFailed, "", errors.Wrap(err, "download: chmod failed")
			}
			return CodeSuccess, dest, nil
		}

		lastErr = err
		if !isTransient(err) {
			break
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		sleep := timeout
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			os.Remove(dest)
			return CodeFailed, "", ctx.Err()
		case <-time.After(sleep):
		}
	}

	os.Remove(dest)
	return CodeFailed, "", errors.Wrap(lastErr, "download: exhausted retries")
}

func (d *Downloader) deriveDestination(source string) string {
	u, err := url.Parse(source)
	var base string
	if err == nil && u.Path != "" {
		base = filepath.Base(u.Path)
	}
	if base == "" || base == "." || base == "/" {
		base = "download"
	}
	return filepath.Join(d.TempDir, base)
}

func (d *Downloader) rewriteTFTP(source, tftpHint string) string {
	if tftpHint == "" {
		return source
	}
	if strings.Contains(source, "://") {
		return source
	}
	body := strings.TrimPrefix(source, "/")
	return "tftp://" + tftpHint + "/" + body
}

// transientErr wraps a transport failure of the kind curl's exit-code
// table (5, 6, 7: proxy resolve, host resolve, connect) treats as
// retryable.
type transientErr struct{ err error }

func (t *transientErr) Error() string { return t.err.Error() }
func (t *transientErr) Unwrap() error { return t.err }

func isTransient(err error) bool {
	var t *transientErr
	return errors.As(err, &t)
}

func (d *Downloader) attempt(ctx context.Context, source, dest string, req Request) error {
	u, err := url.Parse(source)
	if err != nil {
		return err
	}

	switch u.Scheme {
	case "file":
		return copyFile(u.Path, dest)
	case "tftp":
		return tftpGet(ctx, u, dest)
	case "http", "https":
		return d.httpGet(ctx, source, dest, req)
	default:
		// Bare paths with no scheme are treated as local files.
		return copyFile(source, dest)
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func (d *Downloader) httpGet(ctx context.Context, source, dest string, req Request) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return err
	}

	ua := req.UserAgent
	if ua == "" {
		ua = "SONiC-ZTP"
	}
	httpReq.Header.Set("User-Agent", ua)

	if boolVal(req.IncludeHTTPHeaders, req.IncludeHTTPHeadersDefault) {
		if req.Headers.ProductName != "" {
			httpReq.Header.Set("PRODUCT-NAME", req.Headers.ProductName)
		}
		if req.Headers.SerialNumber != "" {
			httpReq.Header.Set("SERIAL-NUMBER", req.Headers.SerialNumber)
		}
		if req.Headers.BaseMAC != "" {
			httpReq.Header.Set("BASE-MAC-ADDRESS", req.Headers.BaseMAC)
		}
		if req.Headers.SONiCVersion != "" {
			httpReq.Header.Set("SONiC-VERSION", req.Headers.SONiCVersion)
		}
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		},
	}
	if !boolVal(req.Secure, true) {
		client.Transport = insecureTransport()
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if isDialFailure(err) {
			return &transientErr{err}
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Errorf("download: server returned status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	return out.Sync()
}

func isDialFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
