package purchase

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranamart/mandi/pkg/models"
)

func TestIdempotencyKeyIsStableWithinADay(t *testing.T) {
	morning := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 3, 14, 22, 30, 0, 0, time.UTC)

	k1 := IdempotencyKey("blinkit", "sku-42", "user-1", morning)
	k2 := IdempotencyKey("blinkit", "sku-42", "user-1", evening)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32) // 16 bytes hex

	nextDay := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)
	assert.NotEqual(t, k1, IdempotencyKey("blinkit", "sku-42", "user-1", nextDay))
	assert.NotEqual(t, k1, IdempotencyKey("blinkit", "sku-42", "user-2", morning))
	assert.NotEqual(t, k1, IdempotencyKey("zepto", "sku-42", "user-1", morning))
}

func TestIdempotencyKeyDayBucketIsUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 01:30 IST on the 15th is 20:00 UTC on the 14th.
	local := time.Date(2025, 3, 15, 1, 30, 0, 0, ist)
	utc := time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC)
	assert.Equal(t,
		IdempotencyKey("blinkit", "sku-42", "user-1", utc),
		IdempotencyKey("blinkit", "sku-42", "user-1", local))
}

func TestMemoryStoreSeenWithinWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	_, seen := store.Check(ctx, "k1")
	assert.False(t, seen)

	store.MarkSeen(ctx, "k1")
	rec, seen := store.Check(ctx, "k1")
	require.True(t, seen)
	assert.Nil(t, rec.Result)
}

func TestMemoryStoreEntriesExpire(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(30 * time.Millisecond)

	store.MarkSeen(ctx, "k1")
	_, seen := store.Check(ctx, "k1")
	require.True(t, seen)

	time.Sleep(60 * time.Millisecond)
	_, seen = store.Check(ctx, "k1")
	assert.False(t, seen)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreRecordSuccessReplaysResult(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	res := &models.PurchaseResult{
		Status:       models.PurchaseSuccess,
		PlatformUsed: "blinkit",
		OrderID:      "ord-1",
	}
	store.RecordSuccess(ctx, "k1", res)

	rec, seen := store.Check(ctx, "k1")
	require.True(t, seen)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "ord-1", rec.Result.OrderID)

	// The stored record is a copy: mutating the original must not leak in.
	res.OrderID = "mutated"
	rec, _ = store.Check(ctx, "k1")
	assert.Equal(t, "ord-1", rec.Result.OrderID)
}

func TestMemoryStoreMarkSeenKeepsExistingRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	store.RecordSuccess(ctx, "k1", &models.PurchaseResult{
		Status:  models.PurchaseSuccess,
		OrderID: "ord-1",
	})
	store.MarkSeen(ctx, "k1")

	rec, seen := store.Check(ctx, "k1")
	require.True(t, seen)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "ord-1", rec.Result.OrderID)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisStore(client, time.Minute)

	_, seen := store.Check(ctx, "k1")
	assert.False(t, seen)

	store.MarkSeen(ctx, "k1")
	rec, seen := store.Check(ctx, "k1")
	require.True(t, seen)
	assert.Nil(t, rec.Result)

	store.RecordSuccess(ctx, "k1", &models.PurchaseResult{
		Status:       models.PurchaseSuccess,
		PlatformUsed: "zepto",
		OrderID:      "ord-9",
	})
	rec, seen = store.Check(ctx, "k1")
	require.True(t, seen)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "ord-9", rec.Result.OrderID)
	assert.Equal(t, "zepto", rec.Result.PlatformUsed)
}

func TestRedisStoreEntriesExpireWithTheWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisStore(client, 5*time.Second)

	store.MarkSeen(ctx, "k1")
	_, seen := store.Check(ctx, "k1")
	require.True(t, seen)

	mr.FastForward(6 * time.Second)
	_, seen = store.Check(ctx, "k1")
	assert.False(t, seen)
}

func TestRedisStoreMarkSeenDoesNotOverwrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisStore(client, time.Minute)

	store.RecordSuccess(ctx, "k1", &models.PurchaseResult{
		Status:  models.PurchaseSuccess,
		OrderID: "ord-1",
	})
	store.MarkSeen(ctx, "k1") // NX: first record wins

	rec, seen := store.Check(ctx, "k1")
	require.True(t, seen)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "ord-1", rec.Result.OrderID)
}

func TestRedisStoreFailsOpenWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisStore(client, time.Minute)
	store.MarkSeen(ctx, "k1")

	mr.Close()

	// A dead backend degrades to a miss instead of blocking the purchase.
	_, seen := store.Check(ctx, "k1")
	assert.False(t, seen)
	store.MarkSeen(ctx, "k2") // must not panic
}
