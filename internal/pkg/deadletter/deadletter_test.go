package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/callmonitor/courier/internal/pkg/durable"
	redisc "github.com/callmonitor/courier/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
)

var _ durable.BufferStore = (*Store)(nil)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewStore(redisc.New(rdb))
	base := time.Unix(1700000000, 0)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	return store, mr
}

func TestPutGetDelete(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "courier:dlq:audit:1", []byte("one"), time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, "courier:dlq:audit:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "one" {
		t.Fatalf("expected %q, got %q", "one", got)
	}

	if err := store.Delete(ctx, "courier:dlq:audit:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "courier:dlq:audit:1"); err != nil {
		t.Fatalf("second delete should succeed: %v", err)
	}
	got, err = store.Get(ctx, "courier:dlq:audit:1")
	if err != nil || got != nil {
		t.Fatalf("expected missing key, got %q (%v)", got, err)
	}
}

func TestListOldestFirstFilteredByPrefix(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	keys := []string{"courier:dlq:audit:c", "courier:dlq:other:x", "courier:dlq:audit:a", "courier:dlq:audit:b"}
	for _, k := range keys {
		if err := store.Put(ctx, k, []byte(k), time.Hour); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	got, err := store.List(ctx, "courier:dlq:audit:", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0] != "courier:dlq:audit:c" || got[1] != "courier:dlq:audit:a" {
		t.Fatalf("unexpected listing %v", got)
	}

	n, err := store.Len(ctx, "courier:dlq:audit:")
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 audit entries, got %d", n)
	}
}

func TestListPrunesExpiredEntries(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	_ = store.Put(ctx, "courier:dlq:audit:old", []byte("old"), time.Minute)
	_ = store.Put(ctx, "courier:dlq:audit:new", []byte("new"), time.Hour)
	mr.FastForward(2 * time.Minute)

	got, err := store.List(ctx, "courier:dlq:audit:", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0] != "courier:dlq:audit:new" {
		t.Fatalf("expected only the live entry, got %v", got)
	}

	members, err := mr.ZMembers(defaultIndexKey)
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected expired index member to be pruned, got %v", members)
	}
}

func TestListEmpty(t *testing.T) {
	store, _ := setupStore(t)

	got, err := store.List(context.Background(), "courier:dlq:audit:", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no keys, got %v", got)
	}
}
