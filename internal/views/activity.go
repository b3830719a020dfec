package views

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/invoicely/invoicely/internal/documents"
)

func feedKey(userID uuid.UUID) string {
	return strings.Join([]string{keyPrefix, "feed", userID.String()}, ":")
}

// Record prepends evt to the tenant's activity feed and trims it to the
// configured size.
func (c *Cache) Record(ctx context.Context, evt documents.Event) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	key := feedKey(evt.UserID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, raw)
		pipe.LTrim(ctx, key, 0, c.feedSize-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("views: record activity: %w", err)
	}
	return nil
}

// Recent returns up to n of the tenant's latest events, newest first.
// Entries that fail to decode are skipped.
func (c *Cache) Recent(ctx context.Context, userID uuid.UUID, n int) ([]documents.Event, error) {
	if c == nil || c.client == nil {
		return []documents.Event{}, nil
	}
	if n <= 0 || int64(n) > c.feedSize {
		n = int(c.feedSize)
	}
	items, err := c.client.LRange(ctx, feedKey(userID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("views: recent activity: %w", err)
	}
	out := make([]documents.Event, 0, len(items))
	for _, item := range items {
		var evt documents.Event
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// Invalidate implements documents.Invalidator: the event is appended to the
// activity feed and every collection of the tenant is bumped.
func (c *Cache) Invalidate(ctx context.Context, evt documents.Event) error {
	if err := c.Record(ctx, evt); err != nil {
		return err
	}
	return c.Bump(ctx, evt.UserID)
}

var _ documents.Invalidator = (*Cache)(nil)
