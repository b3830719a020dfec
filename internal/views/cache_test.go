package views

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicely/invoicely/internal/documents"
	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
)

func newTestCache(t *testing.T, opts ...Option) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute, opts...), mr
}

type page struct {
	Items []string `json:"items"`
}

func countingLoader(calls *int, items ...string) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		*calls++
		return page{Items: append(items, fmt.Sprintf("call-%d", *calls))}, nil
	}
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	user := uuid.New()
	scoped := Scope(cache, CollectionDocuments)

	calls := 0
	var first, second, third page
	require.NoError(t, scoped.FetchJSON(ctx, user, "all", &first, countingLoader(&calls)))
	require.NoError(t, scoped.FetchJSON(ctx, user, "all", &second, countingLoader(&calls)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	require.NoError(t, cache.Bump(ctx, user, CollectionDocuments))
	require.NoError(t, scoped.FetchJSON(ctx, user, "all", &third, countingLoader(&calls)))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"call-2"}, third.Items)
}

func TestBumpIsScopedToTenantAndCollection(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	v1, err := cache.Version(ctx, alice, CollectionStats)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	require.NoError(t, cache.Bump(ctx, alice, CollectionStats))

	v2, err := cache.Version(ctx, alice, CollectionStats)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	other, err := cache.Version(ctx, alice, CollectionCharts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	bobs, err := cache.Version(ctx, bob, CollectionStats)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bobs)
}

func TestBumpWithoutCollectionsBumpsAll(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, cache.InvalidateTenant(ctx, user))
	for _, collection := range Collections() {
		ver, err := cache.Version(ctx, user, collection)
		require.NoError(t, err)
		assert.Equal(t, int64(1), ver, collection)
	}
	require.NoError(t, cache.InvalidateTenant(ctx, user))
	ver, err := cache.Version(ctx, user, CollectionActivity)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ver)
}

func TestBuildKeyCarriesVersion(t *testing.T) {
	cache, _ := newTestCache(t)
	user := uuid.MustParse("7b1c2f9e-4a8d-4c1e-9f3a-2d6b8e0c5a11")

	key, err := cache.BuildKey(context.Background(), user, CollectionCharts, "2024")
	require.NoError(t, err)
	assert.Equal(t, "views:charts:7b1c2f9e-4a8d-4c1e-9f3a-2d6b8e0c5a11:2024:v1", key)
}

func TestNilClientFallsThroughToLoader(t *testing.T) {
	cache := NewCache(nil, time.Minute)
	ctx := context.Background()

	calls := 0
	var out page
	require.NoError(t, Scope(cache, CollectionStats).FetchJSON(ctx, uuid.New(), "k", &out, countingLoader(&calls)))
	require.NoError(t, Scope(cache, CollectionStats).FetchJSON(ctx, uuid.New(), "k", &out, countingLoader(&calls)))
	assert.Equal(t, 2, calls)
	assert.NoError(t, cache.Bump(ctx, uuid.New()))
	assert.NoError(t, cache.Record(ctx, documents.Event{}))
}

func TestFetchJSONLoaderErrorIsNotCached(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	user := uuid.New()
	boom := errors.New("db down")

	var out page
	err := Scope(cache, CollectionStats).FetchJSON(ctx, user, "k", &out, func(context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	key, err := cache.BuildKey(ctx, user, CollectionStats, "k")
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))
}

func TestFetchJSONRequiresLoader(t *testing.T) {
	cache, _ := newTestCache(t)
	var out page
	assert.Error(t, cache.FetchJSON(context.Background(), "k", &out, nil))
}

func TestListenForInvalidation(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	user := uuid.New()

	received := make(chan Bump, 4)
	require.NoError(t, cache.ListenForInvalidation(ctx, func(b Bump) { received <- b }))
	require.NoError(t, cache.Bump(ctx, user, CollectionDocuments))

	select {
	case b := <-received:
		assert.Equal(t, user, b.UserID)
		assert.Equal(t, CollectionDocuments, b.Collection)
		assert.Equal(t, int64(1), b.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("bump notification not received")
	}
}

func TestParseBumpRejectsMalformed(t *testing.T) {
	_, err := ParseBump("nope")
	assert.Error(t, err)
	_, err = ParseBump("not-a-uuid:stats:1")
	assert.Error(t, err)

	b := Bump{UserID: uuid.New(), Collection: CollectionStats, Version: 9}
	parsed, err := ParseBump(b.String())
	require.NoError(t, err)
	assert.Equal(t, b, parsed)
}

// ============================================================================
// ACTIVITY FEED
// ============================================================================

func event(user uuid.UUID, kind documents.EventKind, number string) documents.Event {
	return documents.Event{
		Kind:       kind,
		UserID:     user,
		DocumentID: uuid.New(),
		Type:       doctype.Invoice,
		Number:     number,
		Status:     status.Draft,
		Total:      "29.20",
		At:         time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
	}
}

func TestRecordKeepsNewestFirstAndTrims(t *testing.T) {
	cache, _ := newTestCache(t, WithFeedSize(3))
	ctx := context.Background()
	user := uuid.New()

	for i := 1; i <= 5; i++ {
		require.NoError(t, cache.Record(ctx, event(user, documents.EventCreated, fmt.Sprintf("INV-202401-%d", i))))
	}

	recent, err := cache.Recent(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "INV-202401-5", recent[0].Number)
	assert.Equal(t, "INV-202401-3", recent[2].Number)
	assert.Equal(t, "29.20", recent[0].Total)
}

func TestRecentSkipsUndecodableEntries(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, cache.Record(ctx, event(user, documents.EventCreated, "INV-202401-1")))
	_, err := mr.Lpush(feedKey(user), "{not json")
	require.NoError(t, err)

	recent, err := cache.Recent(ctx, user, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "INV-202401-1", recent[0].Number)
}

func TestInvalidateRecordsAndBumps(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := cache.Version(ctx, user, CollectionDocuments)
	require.NoError(t, err)

	evt := event(user, documents.EventStatusChanged, "INV-202401-1")
	evt.FromStatus = status.Draft
	evt.Status = status.Pending
	require.NoError(t, cache.Invalidate(ctx, evt))

	ver, err := cache.Version(ctx, user, CollectionDocuments)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ver)

	recent, err := cache.Recent(ctx, user, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, documents.EventStatusChanged, recent[0].Kind)
	assert.Equal(t, status.Draft, recent[0].FromStatus)
}
