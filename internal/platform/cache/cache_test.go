package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type view struct {
	Month string `json:"month"`
	Days  int    `json:"days"`
}

func newClockedStore() (*MemoryStore, *time.Time) {
	now := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)
	return NewMemoryStore().WithClock(func() time.Time { return now }), &now
}

func TestViewCache_MissThenHit(t *testing.T) {
	store, _ := newClockedStore()
	c := NewViewCache(store, time.Minute)
	ctx := context.Background()

	var got view
	hit, err := c.Get(ctx, "doctor:1", "monthly:2024-03", &got)
	if err != nil || hit {
		t.Fatalf("expected clean miss, got hit=%v err=%v", hit, err)
	}

	if err := c.Set(ctx, "doctor:1", "monthly:2024-03", view{Month: "2024-03", Days: 42}); err != nil {
		t.Fatalf("set: %v", err)
	}
	hit, err = c.Get(ctx, "doctor:1", "monthly:2024-03", &got)
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if got.Month != "2024-03" || got.Days != 42 {
		t.Errorf("unexpected view %+v", got)
	}
}

func TestViewCache_InvalidateDropsScopeOnly(t *testing.T) {
	store, _ := newClockedStore()
	c := NewViewCache(store, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "doctor:1", "monthly:2024-03", view{Days: 1})
	c.Set(ctx, "doctor:1", "monthly:2024-04", view{Days: 2})
	c.Set(ctx, "doctor:2", "monthly:2024-03", view{Days: 3})

	if err := c.Invalidate(ctx, "doctor:1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	var got view
	for _, key := range []string{"monthly:2024-03", "monthly:2024-04"} {
		if hit, _ := c.Get(ctx, "doctor:1", key, &got); hit {
			t.Errorf("expected %s dropped for doctor:1", key)
		}
	}
	if hit, _ := c.Get(ctx, "doctor:2", "monthly:2024-03", &got); !hit || got.Days != 3 {
		t.Errorf("expected doctor:2 untouched, hit=%v got=%+v", hit, got)
	}

	// Writes after invalidation land in the new generation.
	c.Set(ctx, "doctor:1", "monthly:2024-03", view{Days: 9})
	if hit, _ := c.Get(ctx, "doctor:1", "monthly:2024-03", &got); !hit || got.Days != 9 {
		t.Errorf("expected fresh entry, hit=%v got=%+v", hit, got)
	}
}

func TestViewCache_ExpiresAfterTTL(t *testing.T) {
	store, now := newClockedStore()
	c := NewViewCache(store, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "doctor:1", "k", view{Days: 1})
	*now = now.Add(59 * time.Second)
	var got view
	if hit, _ := c.Get(ctx, "doctor:1", "k", &got); !hit {
		t.Error("expected hit before TTL")
	}
	*now = now.Add(time.Second)
	if hit, _ := c.Get(ctx, "doctor:1", "k", &got); hit {
		t.Error("expected miss at TTL")
	}
}

func TestViewCache_CorruptEntryIsMiss(t *testing.T) {
	store, _ := newClockedStore()
	c := NewViewCache(store, time.Minute)
	ctx := context.Background()

	store.Set(ctx, c.entryKey("doctor:1", 0, "k"), "{not json", time.Minute)
	var got view
	hit, err := c.Get(ctx, "doctor:1", "k", &got)
	if err != nil || hit {
		t.Errorf("expected miss without error, got hit=%v err=%v", hit, err)
	}
}

func TestViewCache_BrokenGeneration(t *testing.T) {
	store, _ := newClockedStore()
	c := NewViewCache(store, time.Minute)
	ctx := context.Background()

	store.Set(ctx, c.genKey("doctor:1"), "abc", 0)
	var got view
	if _, err := c.Get(ctx, "doctor:1", "k", &got); err == nil {
		t.Error("expected error for non-numeric generation")
	}
	if err := c.Invalidate(ctx, "doctor:1"); err == nil {
		t.Error("expected error bumping non-numeric generation")
	}
}

func TestMemoryStore(t *testing.T) {
	store, now := newClockedStore()
	ctx := context.Background()

	if err := store.Get(ctx, "missing").Err(); !errors.Is(err, redis.Nil) {
		t.Errorf("expected redis.Nil, got %v", err)
	}

	store.Set(ctx, "n", "0", 10*time.Second)
	if n, err := store.Incr(ctx, "n").Result(); err != nil || n != 1 {
		t.Errorf("expected 1, got %d %v", n, err)
	}
	if n, _ := store.Incr(ctx, "fresh").Result(); n != 1 {
		t.Errorf("expected incr of missing key to be 1, got %d", n)
	}

	// Incr keeps the original expiry.
	*now = now.Add(10 * time.Second)
	if err := store.Get(ctx, "n").Err(); !errors.Is(err, redis.Nil) {
		t.Errorf("expected n expired, got %v", err)
	}
	if v, _ := store.Get(ctx, "fresh").Int(); v != 1 {
		t.Errorf("expected key without ttl to survive, got %d", v)
	}

	store.Set(ctx, "a", []byte("x"), 0)
	if n, _ := store.Del(ctx, "a", "fresh", "nope").Result(); n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d", store.Len())
	}

	if err := store.Set(ctx, "bad", 1.5, 0).Err(); err == nil {
		t.Error("expected unsupported value error")
	}
}

func TestNewRedis_RejectsBadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), ""); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := NewRedis(context.Background(), "http://localhost:6379"); err == nil {
		t.Error("expected error for non-redis scheme")
	}
}
