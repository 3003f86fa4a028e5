// Package sniff extracts the target model name from a request body without
// buffering the whole thing: it reads chunks up to a bounded prefix limit,
// regex-matches the model out of JSON or multipart bodies, then hands back
// an io.Reader that replays the bytes it already consumed followed by
// whatever is left unread, so the forwarder sees a byte-identical body.
package sniff

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"modelproxy/internal/settings"
)

var (
	jsonModelRE = regexp.MustCompile(`"model"\s*:\s*"([^"\\]+)"`)
	mpModelRE   = regexp.MustCompile(`name="model"\r\n\r\n([^\r\n]+)`)
)

// ErrModelNotFound is returned when the sniff limit is exhausted (or the
// body ends) without finding a model field.
var ErrModelNotFound = errors.New("model is not found in request body (sniff limit exceeded or missing)")

// Limit returns the configured sniff window in bytes (SNIFF_BYTES, 1 MiB by
// default).
func Limit() int {
	return settings.SniffBytes()
}

// chunkSize is how much we read from the body per iteration while sniffing;
// it does not bound the sniff window, only how finely we poll for a match.
const chunkSize = 4096

// Model inspects r's query string and body to determine the target model.
// It returns the model name and a reader that reproduces the exact bytes of
// the original body (already-consumed chunks first, then the rest of r.Body
// unconsumed) so callers can forward the request unmodified.
func Model(r *http.Request) (string, io.ReadCloser, error) {
	if qp := r.URL.Query().Get("model"); qp != "" {
		return qp, r.Body, nil
	}

	limit := Limit()
	contentType := strings.ToLower(r.Header.Get("Content-Type"))

	var seenChunks [][]byte
	var prefix bytes.Buffer
	var model string

	buf := make([]byte, chunkSize)
	for {
		n, readErr := r.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			seenChunks = append(seenChunks, chunk)

			if prefix.Len() < limit {
				room := limit - prefix.Len()
				if room > len(chunk) {
					room = len(chunk)
				}
				prefix.Write(chunk[:room])
			}

			if m := extractModel(prefix.Bytes(), contentType); m != "" {
				model = m
			}
			if model != "" || prefix.Len() >= limit {
				break
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return "", nil, readErr
		}
	}

	if model == "" {
		return "", nil, ErrModelNotFound
	}

	replay := make([]io.Reader, 0, len(seenChunks)+1)
	for _, c := range seenChunks {
		replay = append(replay, bytes.NewReader(c))
	}
	replay = append(replay, r.Body)

	return model, &replayBody{Reader: io.MultiReader(replay...), orig: r.Body}, nil
}

// replayBody wraps the MultiReader so Close still reaches the original body.
type replayBody struct {
	io.Reader
	orig io.ReadCloser
}

func (b *replayBody) Close() error { return b.orig.Close() }

func extractModel(prefix []byte, contentType string) string {
	switch {
	case strings.Contains(contentType, "multipart/form-data"):
		if m := mpModelRE.FindSubmatch(prefix); m != nil {
			return strings.TrimSpace(string(m[1]))
		}
		return ""
	default:
		// application/json, +json suffixes, and anything else all fall back
		// to the JSON field regex; clients routinely mislabel content types.
		if m := jsonModelRE.FindSubmatch(prefix); m != nil {
			return string(m[1])
		}
		return ""
	}
}
