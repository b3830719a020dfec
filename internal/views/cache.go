// Package views caches tenant read models in Redis. Every tenant owns one
// version counter per collection; bumping the counter orphans all keys
// built under the previous version, which then expire on their TTL.
package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cached collections.
const (
	CollectionDocuments = "documents"
	CollectionStats     = "stats"
	CollectionCharts    = "charts"
	CollectionActivity  = "activity"
)

const (
	keyPrefix   = "views"
	bumpChannel = "views.bump"
)

// Collections lists every cached collection.
func Collections() []string {
	return []string{CollectionDocuments, CollectionStats, CollectionCharts, CollectionActivity}
}

// Cache wraps Redis based caching with per-tenant versioning.
type Cache struct {
	client   *redis.Client
	ttl      time.Duration
	feedSize int64
}

// Option customises a Cache.
type Option func(*Cache)

// WithFeedSize bounds the recent-activity list of each tenant.
func WithFeedSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.feedSize = int64(n)
		}
	}
}

// NewCache instantiates the cache helper. A nil client disables caching:
// loaders run on every fetch and bumps are no-ops.
func NewCache(client *redis.Client, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{client: client, ttl: ttl, feedSize: 50}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func versionKey(userID uuid.UUID, collection string) string {
	return strings.Join([]string{keyPrefix, "version", userID.String(), collection}, ":")
}

// Version returns the tenant's current version of collection, initialising
// it when missing.
func (c *Cache) Version(ctx context.Context, userID uuid.UUID, collection string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(userID, collection)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX keeps a concurrent bump from being overwritten.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, key, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes the cache key of a tenant's collection entry with the
// current version.
func (c *Cache) BuildKey(ctx context.Context, userID uuid.UUID, collection string, parts ...string) (string, error) {
	joined := strings.Join(append([]string{keyPrefix, collection, userID.String()}, parts...), ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx, userID, collection)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("views: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx, dest, loader, nil)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	return load(ctx, dest, loader, func(raw []byte) error {
		return c.client.Set(ctx, key, raw, c.ttl).Err()
	})
}

func load(ctx context.Context, dest any, loader func(context.Context) (any, error), store func([]byte) error) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store(raw); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates the given collections of a tenant, or all of them when
// none are named, and publishes one notification per bumped collection.
func (c *Cache) Bump(ctx context.Context, userID uuid.UUID, collections ...string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if len(collections) == 0 {
		collections = Collections()
	}
	cmds := make([]*redis.IntCmd, len(collections))
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, collection := range collections {
			cmds[i] = pipe.Incr(ctx, versionKey(userID, collection))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("views: bump: %w", err)
	}
	for i, collection := range collections {
		msg := Bump{UserID: userID, Collection: collection, Version: cmds[i].Val()}
		if err := c.client.Publish(ctx, bumpChannel, msg.String()).Err(); err != nil {
			return fmt.Errorf("views: publish bump: %w", err)
		}
	}
	return nil
}

// InvalidateTenant bumps every collection of userID.
func (c *Cache) InvalidateTenant(ctx context.Context, userID uuid.UUID) error {
	return c.Bump(ctx, userID)
}

// Bump is a version change notification.
type Bump struct {
	UserID     uuid.UUID
	Collection string
	Version    int64
}

func (b Bump) String() string {
	return strings.Join([]string{b.UserID.String(), b.Collection, strconv.FormatInt(b.Version, 10)}, ":")
}

// ParseBump decodes a notification published by Bump.
func ParseBump(payload string) (Bump, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return Bump{}, fmt.Errorf("views: malformed bump %q", payload)
	}
	userID, err := uuid.Parse(parts[0])
	if err != nil {
		return Bump{}, fmt.Errorf("views: malformed bump %q: %w", payload, err)
	}
	ver, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Bump{}, fmt.Errorf("views: malformed bump %q: %w", payload, err)
	}
	return Bump{UserID: userID, Collection: parts[1], Version: ver}, nil
}

// ListenForInvalidation subscribes to version bump notifications and calls
// fn for each well-formed one until ctx is cancelled. The subscription is
// confirmed before ListenForInvalidation returns.
func (c *Cache) ListenForInvalidation(ctx context.Context, fn func(Bump)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("views: subscribe: %w", err)
	}
	go func() {
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
				if b, err := ParseBump(msg.Payload); err == nil {
					fn(b)
				}
			}
		}
	}()
	return nil
}

// Scoped binds a Cache to one collection.
type Scoped struct {
	cache      *Cache
	collection string
}

// Scope returns a view of cache restricted to collection.
func Scope(cache *Cache, collection string) Scoped {
	return Scoped{cache: cache, collection: collection}
}

// FetchJSON loads the tenant's entry key of the scoped collection.
func (s Scoped) FetchJSON(ctx context.Context, userID uuid.UUID, key string, dest any, loader func(context.Context) (any, error)) error {
	full, err := s.cache.BuildKey(ctx, userID, s.collection, key)
	if err != nil {
		return err
	}
	return s.cache.FetchJSON(ctx, full, dest, loader)
}
