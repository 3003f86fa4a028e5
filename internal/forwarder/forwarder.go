// Package forwarder implements the streaming HTTP reverse-proxy core:
// capability preflight, header filtering, streaming upstream send/receive,
// and the bounded HTTPS→HTTP downgrade retry.
package forwarder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"modelproxy/internal/apierr"
	"modelproxy/internal/capcache"
	"modelproxy/internal/config"
	"modelproxy/internal/eventlog"
	mw "modelproxy/internal/middleware"
	"modelproxy/internal/settings"
)

var tracer = otel.Tracer("modelproxy/forwarder")

// bodyMethods is the set of methods the forwarder reads a body for.
var bodyMethods = map[string]struct{}{
	http.MethodPost:  {},
	http.MethodPut:   {},
	http.MethodPatch: {},
}

// StreamMirror optionally tees a streamed response body into a durable log
// as it passes through. internal/streamlog implements this.
type StreamMirror interface {
	Wrap(streamKey string, upstream io.Reader) io.Reader
}

// Forwarder owns the process-scoped HTTP client and capability cache shared
// by every forwarded request.
type Forwarder struct {
	client *http.Client
	caps   *capcache.Cache
	sink   *eventlog.Sink
	mirror StreamMirror
}

// New builds a Forwarder. client is the shared, process-scoped HTTP client;
// caps is the shared capability cache; sink receives best-effort diagnostic
// events. mirror may be nil if SSE mirroring is not configured.
func New(client *http.Client, caps *capcache.Cache, sink *eventlog.Sink, mirror StreamMirror) *Forwarder {
	return &Forwarder{client: client, caps: caps, sink: sink, mirror: mirror}
}

// Forward drives one request end to end — preflight, header filtering,
// streaming send/receive, and response relay — writing the upstream's
// streamed response directly onto c.Writer.
func (f *Forwarder) Forward(c *gin.Context, upstream config.Upstream) {
	ctx, span := tracer.Start(c.Request.Context(), "forwarder.forward",
		trace.WithAttributes(
			attribute.String("upstream.model", upstream.Model),
			attribute.String("upstream.base_url", upstream.BaseURL),
		))
	defer span.End()

	incomingPath := c.Request.URL.Path

	if err := f.caps.EnsureRouteSupported(ctx, upstream, incomingPath); err != nil {
		span.SetStatus(codes.Error, "route not supported")
		apierr.Write(c, apierr.RouteNotFound(incomingPath))
		return
	}

	upstreamURL := capcache.Join(upstream.BaseURL, incomingPath)
	if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
		upstreamURL += "?" + rawQuery
	}

	headers := filteredHeaders(c.Request.Header, upstream)

	var bodyReader io.Reader
	var tee *cappedTee
	hasBody := false
	if _, ok := bodyMethods[c.Request.Method]; ok && c.Request.Body != nil {
		hasBody = true
		tee = newCappedTee(settings.FallbackBufferBytes())
		bodyReader = io.TeeReader(c.Request.Body, tee)
	}

	sendStart := time.Now()
	resp, sendErr := f.send(ctx, c.Request.Method, upstreamURL, headers, bodyReader)
	if sendErr != nil {
		fallbackURL := httpFallbackURL(upstreamURL, sendErr)
		if fallbackURL == "" {
			f.logEvent("forward_request", "request_error", upstream, incomingPath, sendErr)
			span.SetStatus(codes.Error, sendErr.Error())
			mw.RecordUpstream(upstream.BaseURL, time.Since(sendStart), 0, true)
			writeSendError(c, upstream, sendErr)
			return
		}
		if hasBody && tee.overflowed {
			f.logEvent("forward_request", "request_error", upstream, incomingPath, sendErr)
			span.SetStatus(codes.Error, sendErr.Error())
			mw.RecordUpstream(upstream.BaseURL, time.Since(sendStart), 0, true)
			apierr.Write(c, apierr.UnsafeDowngradeRetry("request body exceeded the downgrade retry buffer"))
			return
		}

		// Replay the bytes the failed send already consumed, then whatever the
		// client has not delivered yet — the upstream must see the full body.
		var retryBody io.Reader
		if hasBody {
			retryBody = io.MultiReader(bytes.NewReader(tee.buf.Bytes()), c.Request.Body)
		}
		resp, sendErr = f.send(ctx, c.Request.Method, fallbackURL, headers, retryBody)
		if sendErr != nil {
			f.logEvent("forward_request_fallback", "request_error", upstream, incomingPath, sendErr)
			span.SetStatus(codes.Error, sendErr.Error())
			mw.RecordUpstream(upstream.BaseURL, time.Since(sendStart), 0, true)
			writeSendError(c, upstream, sendErr)
			return
		}
	}
	defer resp.Body.Close()
	mw.RecordUpstream(upstream.BaseURL, time.Since(sendStart), resp.StatusCode, false)

	if resp.StatusCode == http.StatusNotFound {
		f.logEvent("forward_request", "upstream_404", upstream, incomingPath, nil)
		apierr.Write(c, apierr.Upstream404(incomingPath))
		return
	}

	for key, values := range resp.Header {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.Writer.Header().Set("X-Proxy-Upstream", upstream.BaseURL)
	c.Writer.WriteHeader(resp.StatusCode)

	var body io.Reader = resp.Body
	if f.mirror != nil && incomingPath == "/v1/responses" && c.Query("stream") == "true" {
		if streamKey := c.Request.Header.Get("X-Stream-Key"); streamKey != "" {
			body = f.mirror.Wrap(streamKey, resp.Body)
		}
	}

	flusher, _ := c.Writer.(http.Flusher)
	streamCopy(c.Writer, body, flusher)

	// A mirrored body finalizes its log (terminal done marker, trim) on Close,
	// including when the client disconnected before the upstream finished.
	if closer, ok := body.(io.Closer); ok {
		_ = closer.Close()
	}
}

func (f *Forwarder) send(ctx context.Context, method, url string, headers http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header = headers
	return f.client.Do(req)
}

func filteredHeaders(src http.Header, upstream config.Upstream) http.Header {
	out := make(http.Header, len(src))
	for key, values := range src {
		if isHopByHop(key) || strings.EqualFold(key, "Authorization") {
			continue
		}
		out[key] = values
	}
	if upstream.APIKey != "" {
		out.Set("Authorization", "Bearer "+upstream.APIKey)
	}
	out.Set("X-Proxy-Model", upstream.Model)
	return out
}

func writeSendError(c *gin.Context, upstream config.Upstream, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		apierr.Write(c, apierr.PayloadTooLarge("request body exceeds the configured size limit"))
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		apierr.Write(c, apierr.Timeout("Upstream timeout: "+upstream.BaseURL))
		return
	}
	apierr.Write(c, apierr.UpstreamError("Upstream request error: "+err.Error()))
}

func (f *Forwarder) logEvent(action, result string, upstream config.Upstream, path string, err error) {
	if f.sink == nil {
		return
	}
	details := map[string]any{"upstream": upstream.BaseURL, "path": path}
	if err != nil {
		details["error"] = err.Error()
		f.sink.Warn("forwarder", action, result, details)
		return
	}
	f.sink.Info("forwarder", action, result, details)
}

// streamCopy relays src to dst, flushing after each chunk so downstream
// consumers of a long-lived stream (SSE, NDJSON) see bytes promptly.
func streamCopy(dst io.Writer, src io.Reader, flusher http.Flusher) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
