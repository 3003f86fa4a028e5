package streamlog

import (
	"context"
	"io"

	log "github.com/sirupsen/logrus"
)

// terminalMaxlen bounds a stream's size once it terminates; it is never
// applied while the stream is still being written.
const terminalMaxlen = 10000

// logOp is one ordered write the mirror worker goroutine applies to Redis;
// sending on the channel never blocks the byte copy for more than a buffer
// slot, keeping log writes off the critical path to the client.
type logOp struct {
	chunk string
	done  bool
}

// Wrap implements forwarder.StreamMirror: it returns a reader that yields
// upstream's bytes unchanged while asynchronously appending the decoded text
// to the stream_key log, exactly once terminating with {"done": true} and a
// single terminal XTRIM.
func (c *Client) Wrap(streamKey string, upstream io.Reader) io.Reader {
	ops := make(chan logOp, 64)
	go c.runMirrorWorker(streamKey, ops)

	return &mirrorReader{
		upstream: upstream,
		decoder:  &incrementalDecoder{},
		ops:      ops,
	}
}

type mirrorReader struct {
	upstream io.Reader
	decoder  *incrementalDecoder
	ops      chan logOp
	finished bool
}

func (m *mirrorReader) Read(p []byte) (int, error) {
	n, err := m.upstream.Read(p)
	if n > 0 && !m.finished {
		if decoded := m.decoder.Decode(p[:n]); decoded != "" {
			m.send(logOp{chunk: decoded})
		}
	}
	if err != nil {
		m.finish()
	}
	return n, err
}

// Close finalizes the log when the consumer stops reading before the
// upstream ends (client disconnect): the tail is flushed and the terminal
// done marker still lands, exactly once.
func (m *mirrorReader) Close() error {
	m.finish()
	return nil
}

// finish flushes the decoder tail, appends the terminal marker, and releases
// the worker. Idempotent.
func (m *mirrorReader) finish() {
	if m.finished {
		return
	}
	m.finished = true
	if tail := m.decoder.Flush(); tail != "" {
		m.send(logOp{chunk: tail})
	}
	m.send(logOp{done: true})
	close(m.ops)
}

func (m *mirrorReader) send(op logOp) {
	m.ops <- op
}

func (c *Client) runMirrorWorker(streamKey string, ops chan logOp) {
	ctx := context.Background()
	for op := range ops {
		var err error
		if op.done {
			err = c.writeJSON(ctx, streamKey, map[string]any{"done": true}, true, terminalMaxlen)
		} else {
			err = c.writeJSON(ctx, streamKey, map[string]any{"chunk": op.chunk}, false, 0)
		}
		if err != nil {
			log.WithFields(log.Fields{"module": "streamlog", "stream_key": streamKey, "error": err.Error()}).
				Warn("redis stream write failed, chunk dropped from log")
		}
	}
}
