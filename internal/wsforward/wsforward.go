// Package wsforward implements the WebSocket realtime shuttle: it accepts a
// client connection, dials the resolved upstream with a rewritten scheme,
// and copies frames in both directions until either side closes.
package wsforward

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"modelproxy/internal/capcache"
	"modelproxy/internal/config"
	"modelproxy/internal/settings"
	"modelproxy/internal/tracing"
)

var tracer = tracing.Tracer("wsforward")

func deadline() time.Time { return time.Now().Add(5 * time.Second) }

// Close codes used beyond the RFC 6455 defaults.
const (
	CloseModelMissing = 4400
	CloseModelUnknown = 4404
	CloseUnauthorized = 4401
	CloseUpstreamErr  = 1011
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Forwarder dials upstream realtime endpoints on behalf of accepted client
// connections.
type Forwarder struct {
	dialer       *websocket.Dialer
	bearerToken  string
	authRequired bool
}

// New builds a Forwarder whose outbound dialer honors TLS_VERIFY. bearerToken
// is the proxy's own expected credential; when authRequired is false every
// handshake is accepted regardless of its Authorization header.
func New(authRequired bool, bearerToken string) *Forwarder {
	return &Forwarder{
		dialer: &websocket.Dialer{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !settings.TLSVerify()},
		},
		bearerToken:  bearerToken,
		authRequired: authRequired,
	}
}

// Handle authenticates and resolves the handshake, then upgrades r and
// shuttles frames until either side closes. When either check fails, r is
// still upgraded so the matching close code can be sent, then closed.
func (f *Forwarder) Handle(w http.ResponseWriter, r *http.Request, lookup func(model string) (config.Upstream, bool)) {
	if f.authRequired && !bearerOK(r, f.bearerToken) {
		rejectUpgrade(w, r, CloseUnauthorized)
		return
	}

	model := r.URL.Query().Get("model")
	if model == "" {
		rejectUpgrade(w, r, CloseModelMissing)
		return
	}
	upstream, ok := lookup(model)
	if !ok {
		rejectUpgrade(w, r, CloseModelUnknown)
		return
	}

	_, span := tracer.Start(r.Context(), "wsforward.session",
		trace.WithAttributes(
			attribute.String("upstream.model", upstream.Model),
			attribute.String("upstream.base_url", upstream.BaseURL),
		))
	defer span.End()

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer client.Close()

	upstreamURL, err := buildUpstreamURL(upstream, r.URL.Query())
	if err != nil {
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseUpstreamErr, "bad upstream url"), deadline())
		return
	}

	headers := http.Header{}
	if upstream.APIKey != "" {
		headers.Set("Authorization", "Bearer "+upstream.APIKey)
	}

	up, _, err := f.dialer.Dial(upstreamURL, headers)
	if err != nil {
		log.WithFields(log.Fields{"module": "wsforward", "upstream": upstream.BaseURL, "error": err.Error()}).
			Warn("upstream websocket dial failed")
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseUpstreamErr, "upstream dial failed"), deadline())
		return
	}
	defer up.Close()

	shuttle(client, up)
}

// buildUpstreamURL computes join(base, "/v1/realtime"), rewrites the scheme
// to ws(s), and re-emits the query string with model replaced by the
// resolved upstream's own model identifier.
func buildUpstreamURL(upstream config.Upstream, query url.Values) (string, error) {
	joined := capcache.Join(upstream.BaseURL, "/v1/realtime")

	u, err := url.Parse(joined)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("model", upstream.Model)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func bearerOK(r *http.Request, token string) bool {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return strings.TrimSpace(auth[len(prefix):]) == token
}

func rejectUpgrade(w http.ResponseWriter, r *http.Request, code int) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline())
	conn.Close()
}

// shuttle relays frames bidirectionally until either side closes. Each
// direction is its own goroutine; the first to finish triggers the other to
// unwind via its own closed/erroring connection.
func shuttle(client, up *websocket.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		for {
			mt, data, err := client.ReadMessage()
			if err != nil {
				up.Close()
				return
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			if err := up.WriteMessage(mt, data); err != nil {
				client.Close()
				return
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		for {
			mt, data, err := up.ReadMessage()
			if err != nil {
				client.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(CloseUpstreamErr, ""), deadline())
				return
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			if err := client.WriteMessage(mt, data); err != nil {
				up.Close()
				return
			}
		}
	}()

	<-done
}
