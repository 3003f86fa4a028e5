// Package streamlog durably logs streamed completions into a Redis Stream
// and lets a second consumer replay them.
package streamlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the minimal Redis Stream surface this package needs: XADD,
// blocking XREAD, and the single terminal XTRIM.
type Client struct {
	rdb *redis.Client
}

// NewClient wraps an existing go-redis client.
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// writeJSON appends one JSON-encoded chunk to stream_key. When done is true,
// it also trims the stream to terminalMaxlen — the single trim this log
// performs, and only once, at stream termination.
func (c *Client) writeJSON(ctx context.Context, streamKey string, payload map[string]any, done bool, terminalMaxlen int64) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"json": string(raw)},
	}).Err(); err != nil {
		return err
	}
	if done {
		return c.rdb.XTrimMaxLenApprox(ctx, streamKey, terminalMaxlen, 0).Err()
	}
	return nil
}

// xread blocks up to blockMs for new entries after lastID, returning raw
// redis-go stream results.
func (c *Client) xread(ctx context.Context, streamKey, lastID string, blockMs int64, count int64) ([]redis.XStream, error) {
	res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamKey, lastID},
		Block:   time.Duration(blockMs) * time.Millisecond,
		Count:   count,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return res, err
}
