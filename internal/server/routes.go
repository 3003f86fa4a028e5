package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"modelproxy/internal/apierr"
	"modelproxy/internal/config"
	"modelproxy/internal/sniff"
	"modelproxy/internal/streamlog"
)

// forwardHandler sniffs the model out of the request body, resolves it
// against the current config snapshot, and hands the request to the
// Forwarder. The body is replaced with a replayable reader first so the
// sniff never consumes bytes the upstream needs to see.
func forwardHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, body, err := sniff.Model(c.Request)
		if err != nil {
			apierr.Write(c, apierr.ModelNotFound(err.Error()))
			return
		}
		c.Request.Body = body

		snap, err := deps.Provider.Get()
		if err != nil {
			apierr.Write(c, apierr.ConfigError(err.Error()))
			return
		}
		upstream, ok := snap.Lookup(model)
		if !ok {
			apierr.Write(c, apierr.UnknownModel(model))
			return
		}

		deps.Forwarder.Forward(c, upstream)
	}
}

// wsHandler implements the WebSocket half of routing: the model comes from
// the handshake's query string, not the sniffer.
func wsHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps.WS.Handle(c.Writer, c.Request, func(model string) (config.Upstream, bool) {
			snap, err := deps.Provider.Get()
			if err != nil {
				return config.Upstream{}, false
			}
			return snap.Lookup(model)
		})
	}
}

// streamReplayHandler re-emits a mirrored stream's log as SSE frames,
// terminating once it observes {"done": true}. last_id/block_ms/count are
// accepted as query parameters with the same defaults Replay itself applies
// when they're absent or unparseable.
func streamReplayHandler(client *streamlog.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		streamKey := c.Param("stream_key")
		if streamKey == "" {
			apierr.Write(c, apierr.New(http.StatusBadRequest, "invalid_request_error", "", "stream_key is required"))
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.WriteHeader(http.StatusOK)
		flusher, _ := c.Writer.(http.Flusher)

		lastID := c.Query("last_id")
		blockMs, _ := strconv.ParseInt(c.Query("block_ms"), 10, 64)
		count, _ := strconv.ParseInt(c.Query("count"), 10, 64)
		err := client.Replay(c.Request.Context(), streamKey, lastID, blockMs, count, func(obj map[string]any) error {
			raw, merr := json.Marshal(obj)
			if merr != nil {
				return merr
			}
			if _, werr := c.Writer.Write([]byte("data: ")); werr != nil {
				return werr
			}
			if _, werr := c.Writer.Write(raw); werr != nil {
				return werr
			}
			if _, werr := c.Writer.Write([]byte("\n\n")); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
			return nil
		})
		if err != nil {
			// Headers are already flushed; the stream simply ends here.
			log.WithFields(log.Fields{"module": "server", "stream_key": streamKey, "error": err.Error()}).
				Warn("stream replay ended with error")
		}
	}
}
