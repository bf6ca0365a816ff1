// Package live broadcasts advisory entity-update events to other viewers
// over redis pub/sub. The feed is one-way: the authoritative state is
// always the stored row, re-read before any mutating decision, and nothing
// in the write path consumes this channel.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "bottlekeep:live:"

// Update describes one committed mutation for live viewers.
type Update struct {
	Entity  string `json:"entity"`
	ID      int64  `json:"id"`
	StoreID int64  `json:"store_id"`
	Action  string `json:"action"`
}

// Feed publishes and subscribes to per-store update channels.
type Feed struct {
	client *redis.Client
	logger *slog.Logger
}

// NewFeed constructs a Feed. A nil client disables publishing.
func NewFeed(client *redis.Client, logger *slog.Logger) *Feed {
	return &Feed{client: client, logger: logger}
}

func channelFor(storeID int64) string {
	return fmt.Sprintf("%s%d", channelPrefix, storeID)
}

// Publish broadcasts the update. Errors are logged and dropped; the feed
// carries no correctness weight.
func (f *Feed) Publish(ctx context.Context, update Update) {
	if f == nil || f.client == nil {
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		f.logger.Warn("marshal live update", slog.Any("error", err))
		return
	}
	if err := f.client.Publish(ctx, channelFor(update.StoreID), payload).Err(); err != nil {
		f.logger.Warn("publish live update",
			slog.String("entity", update.Entity),
			slog.Int64("store_id", update.StoreID),
			slog.Any("error", err))
	}
}

// Subscribe returns a channel of updates for one store. The goroutine exits
// and the channel closes when ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context, storeID int64) (<-chan Update, error) {
	if f == nil || f.client == nil {
		return nil, fmt.Errorf("live: feed not configured")
	}
	pubsub := f.client.Subscribe(ctx, channelFor(storeID))
	updates := make(chan Update)
	go func() {
		defer close(updates)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update Update
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					continue
				}
				select {
				case updates <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return updates, nil
}
