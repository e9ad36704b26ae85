// Package events implements the Event Bus: a durable, gap-free, per-CR event
// stream backed by Redis Streams, with a best-effort Pub/Sub notify hint for
// low-latency wakeups.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hadron-sdlc/hadron/pkg/models"
)

// blockWindow is how long a single XREAD BLOCK call waits before returning
// empty, so Subscribe can check ctx.Done() between blocks.
const blockWindow = 5 * time.Second
const subscribeBatch = 50

func streamKey(crID string) string {
	return fmt.Sprintf("hadron:cr:%s:events", crID)
}

func notifyKey(crID string) string {
	return fmt.Sprintf("hadron:cr:%s:events:notify", crID)
}

// Bus is the Redis-backed Event Bus for one process. It has no per-CR state
// of its own; everything durable lives in Redis.
type Bus struct {
	rdb *redis.Client
}

// New builds a Bus over an existing Redis client.
func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Emit appends an event to its CR's stream and publishes a notify hint. The
// returned Event has StreamID populated from the XADD reply. The notify
// publish is fire-and-forget: a failure there is logged, never returned,
// since subscribe's own poll cadence is what guarantees delivery.
func (b *Bus) Emit(ctx context.Context, ev models.Event) (models.Event, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return ev, fmt.Errorf("marshal event data: %w", err)
	}

	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(ev.CRID),
		Values: map[string]any{
			"event_type": string(ev.EventType),
			"stage":      ev.Stage,
			"data":       data,
			"timestamp":  ev.Timestamp,
		},
	}).Result()
	if err != nil {
		return ev, fmt.Errorf("xadd event: %w", err)
	}
	ev.StreamID = id

	if err := b.rdb.Publish(ctx, notifyKey(ev.CRID), "1").Err(); err != nil {
		slog.Warn("event notify publish failed", slog.String("cr_id", ev.CRID), slog.Any("err", err))
	}
	return ev, nil
}

// Replay returns every event at or after fromID ("" or "0" means from the
// beginning) along with the last stream id seen, so a caller can hand that
// cursor straight to Subscribe with no gap and no duplicate in between.
func (b *Bus) Replay(ctx context.Context, crID, fromID string) ([]models.Event, string, error) {
	if fromID == "" {
		fromID = "0"
	}

	msgs, err := b.rdb.XRange(ctx, streamKey(crID), fromID, "+").Result()
	if err != nil {
		return nil, fromID, fmt.Errorf("xrange replay: %w", err)
	}

	events := make([]models.Event, 0, len(msgs))
	lastID := fromID
	for _, m := range msgs {
		ev, err := decodeEvent(crID, m)
		if err != nil {
			return nil, lastID, err
		}
		events = append(events, ev)
		lastID = m.ID
	}
	return events, lastID, nil
}

// Subscribe blocks, delivering events in order to onEvent as they arrive,
// starting strictly after fromID. It returns when ctx is cancelled or
// onEvent returns an error. Combined with Replay(fromID) beforehand, the
// caller observes every event exactly once with no gap.
func (b *Bus) Subscribe(ctx context.Context, crID, fromID string, onEvent func(models.Event) error) error {
	cursor := fromID
	if cursor == "" {
		cursor = "0"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey(crID), cursor},
			Count:   subscribeBatch,
			Block:   blockWindow,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue // block window elapsed with nothing new
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xread subscribe: %w", err)
		}

		for _, stream := range res {
			for _, m := range stream.Messages {
				ev, err := decodeEvent(crID, m)
				if err != nil {
					return err
				}
				if err := onEvent(ev); err != nil {
					return err
				}
				cursor = m.ID
			}
		}
	}
}

func decodeEvent(crID string, m redis.XMessage) (models.Event, error) {
	ev := models.Event{StreamID: m.ID, CRID: crID}

	if v, ok := m.Values["event_type"].(string); ok {
		ev.EventType = models.EventType(v)
	}
	if v, ok := m.Values["stage"].(string); ok {
		ev.Stage = v
	}
	if v, ok := m.Values["timestamp"]; ok {
		switch t := v.(type) {
		case int64:
			ev.Timestamp = t
		case string:
			_ = json.Unmarshal([]byte(t), &ev.Timestamp)
		}
	}
	if v, ok := m.Values["data"].(string); ok && v != "" {
		if err := json.Unmarshal([]byte(v), &ev.Data); err != nil {
			return ev, fmt.Errorf("unmarshal event data for stream id %s: %w", m.ID, err)
		}
	}
	return ev, nil
}
