package download

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// insecureTransport returns an http.RoundTripper that skips TLS server
// certificate verification, used when a URL's secure option is false.
func insecureTransport() http.RoundTripper {
	return &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
}
