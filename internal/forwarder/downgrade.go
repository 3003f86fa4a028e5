package forwarder

import (
	"bytes"
	"net/url"
	"strings"

	"modelproxy/internal/settings"
)

// cappedTee records up to limit bytes written through it, then silently
// discards the rest and marks itself overflowed. It backs the bounded
// tee-buffer needed for the HTTPS→HTTP downgrade retry: once a body exceeds
// the cap, re-sending it safely is no longer possible.
type cappedTee struct {
	buf        bytes.Buffer
	limit      int64
	overflowed bool
}

func newCappedTee(limit int64) *cappedTee {
	return &cappedTee{limit: limit}
}

func (c *cappedTee) Write(p []byte) (int, error) {
	if c.overflowed {
		return len(p), nil
	}
	if int64(c.buf.Len())+int64(len(p)) > c.limit {
		c.overflowed = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

// sslErrorMarkers are substrings of a failed dial/handshake error that
// indicate a TLS-layer failure worth retrying in cleartext.
var sslErrorMarkers = []string{
	"record layer failure",
	"wrong version number",
	"tlsv1 alert",
	"ssl",
}

func looksLikeSSLError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sslErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sslDowngradeHostAllowed(host string) bool {
	if host == "" {
		return false
	}
	h := strings.ToLower(host)
	if _, ok := settings.SSLDowngradeAllowlist()[h]; ok {
		return true
	}
	return strings.HasSuffix(h, ".local")
}

// httpFallbackURL returns the http:// rewrite of rawURL if a downgrade retry
// is permitted for this failure, or "" if it is not.
func httpFallbackURL(rawURL string, sendErr error) string {
	if !settings.AllowSSLDowngrade() {
		return ""
	}
	if !looksLikeSSLError(sendErr) {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return ""
	}
	if !sslDowngradeHostAllowed(u.Hostname()) {
		return ""
	}
	fallback := *u
	fallback.Scheme = "http"
	return fallback.String()
}
