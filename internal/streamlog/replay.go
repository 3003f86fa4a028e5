package streamlog

import (
	"context"
	"encoding/json"
)

// Replay yields decoded JSON objects appended to stream_key in order. It
// blocks (for up to blockMs at a time) while waiting for new entries and
// terminates once it observes {"done": true}.
func (c *Client) Replay(ctx context.Context, streamKey string, lastID string, blockMs int64, count int64, emit func(map[string]any) error) error {
	if lastID == "" {
		lastID = "0-0"
	}
	if blockMs <= 0 {
		blockMs = 15000
	}
	if count <= 0 {
		count = 100
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.xread(ctx, streamKey, lastID, blockMs, count)
		if err != nil {
			return err
		}
		if len(streams) == 0 {
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				raw, ok := msg.Values["json"]
				if !ok {
					continue
				}
				rawStr, ok := raw.(string)
				if !ok {
					continue
				}
				var item map[string]any
				if err := json.Unmarshal([]byte(rawStr), &item); err != nil {
					continue
				}
				if err := emit(item); err != nil {
					return err
				}
				if done, _ := item["done"].(bool); done {
					return nil
				}
			}
		}
	}
}
