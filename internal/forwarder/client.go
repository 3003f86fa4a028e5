package forwarder

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"modelproxy/internal/settings"
)

// NewHTTPClient builds the single process-scoped client shared by every
// forwarded request, sized and timed out per the UPSTREAM_TIMEOUT and
// TLS_VERIFY knobs. Connection pooling is left generous since every
// in-flight request shares this one client for its lifetime.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !settings.TLSVerify(),
		},
	}
	return &http.Client{
		Transport: transport,
		Timeout:   settings.UpstreamTimeout(),
	}
}
