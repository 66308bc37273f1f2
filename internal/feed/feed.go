package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event kinds published to the feed.
const (
	KindTurnCompleted = "turn_completed"
	KindMemoryStored  = "memory_stored"
	KindToolCalled    = "tool_called"
)

// Entry is one append-only feed observation. Entries never mutate an
// in-flight turn; they only record what already happened.
type Entry struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const stream = "banter:feed"

// Feed publishes change notifications onto a Redis stream. A nil Feed
// or one without Redis is a no-op publisher, so callers never need to
// branch on whether realtime delivery is configured.
type Feed struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New creates a feed over an existing Redis client. client may be nil.
func New(client *redis.Client, logger *zap.Logger) *Feed {
	return &Feed{rdb: client, logger: logger}
}

// Publish appends one entry to the stream. Failures are logged, never
// surfaced: the feed is an observation channel, not a dependency.
func (f *Feed) Publish(ctx context.Context, kind, sessionID string, detail map[string]any) {
	if f == nil || f.rdb == nil {
		return
	}
	entry := Entry{
		ID:        ulid.Make().String(),
		Kind:      kind,
		SessionID: sessionID,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		f.logger.Error("marshal feed entry", zap.Error(err))
		return
	}
	err = f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Err()
	if err != nil {
		f.logger.Warn("feed publish failed", zap.String("kind", kind), zap.Error(err))
	}
}

// Recent returns up to n newest entries, newest first.
func (f *Feed) Recent(ctx context.Context, n int) ([]Entry, error) {
	if f == nil || f.rdb == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 50
	}
	msgs, err := f.rdb.XRevRangeN(ctx, stream, "+", "-", int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	out := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var e Entry
		if json.Unmarshal([]byte(data), &e) == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Subscribe emits entries appended after the call. Cancel the context
// to stop; the channel closes on return.
func (f *Feed) Subscribe(ctx context.Context) <-chan Entry {
	ch := make(chan Entry, 16)
	if f == nil || f.rdb == nil {
		close(ch)
		return ch
	}

	go func() {
		defer close(ch)
		lastID := "$"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := f.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var e Entry
					if json.Unmarshal([]byte(data), &e) == nil {
						ch <- e
					}
				}
			}
		}
	}()
	return ch
}
