package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
)

func newFakeClockKV() (*MemoryKV, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	kv := NewMemoryKV()
	kv.now = func() time.Time { return now }
	return kv, &now
}

func TestMemoryKV_Expiry(t *testing.T) {
	ctx := context.Background()
	kv, now := newFakeClockKV()

	require.NoError(t, kv.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, kv.Set(ctx, "b", "2", 0))

	v, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	*now = now.Add(time.Minute)
	_, ok, _ = kv.Get(ctx, "a")
	assert.False(t, ok, "key should be expired exactly at its ttl")

	_, ok, _ = kv.Get(ctx, "b")
	assert.True(t, ok, "zero ttl never expires")

	removed, err := kv.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, kv.Len())
}

func TestMemoryKV_SetNX(t *testing.T) {
	ctx := context.Background()
	kv, now := newFakeClockKV()

	ok, err := kv.SetNX(ctx, "k", "first", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = kv.SetNX(ctx, "k", "second", time.Second)
	assert.False(t, ok)

	*now = now.Add(2 * time.Second)
	ok, _ = kv.SetNX(ctx, "k", "third", time.Second)
	assert.True(t, ok, "expired keys can be claimed again")

	v, _, _ := kv.Get(ctx, "k")
	assert.Equal(t, "third", v)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, ok, _ = kv.Get(ctx, "k")
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	kv, err := New(context.Background(), config.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryKV{}, kv)

	_, err = New(context.Background(), config.StoreConfig{Type: "etcd"})
	assert.Error(t, err)

	_, err = New(context.Background(), config.StoreConfig{Type: "postgres"})
	assert.Error(t, err, "postgres without a DSN must fail")
}

func TestConversations(t *testing.T) {
	ctx := context.Background()

	thread := NewConversations(NewMemoryKV(), ScopeThread, 0)
	assert.Equal(t, "conv:C1:111.222", thread.Key("C1", "111.222", "U1"))

	user := NewConversations(NewMemoryKV(), ScopeUser, 0)
	assert.Equal(t, "conv:user:U1", user.Key("C1", "111.222", "U1"))

	key := thread.Key("C1", "1.0", "U1")
	id, err := thread.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, thread.Put(ctx, key, "conv-a"))
	require.NoError(t, thread.Put(ctx, key, "conv-b"))
	require.NoError(t, thread.Put(ctx, key, ""))

	id, _ = thread.Get(ctx, key)
	assert.Equal(t, "conv-b", id, "last non-empty write wins")

	require.NoError(t, thread.Forget(ctx, key))
	id, _ = thread.Get(ctx, key)
	assert.Empty(t, id)
}

func TestConversations_TTL(t *testing.T) {
	ctx := context.Background()
	kv, now := newFakeClockKV()
	conv := NewConversations(kv, ScopeUser, time.Hour)

	require.NoError(t, conv.Put(ctx, "conv:user:U1", "conv-1"))
	*now = now.Add(59 * time.Minute)
	id, _ := conv.Get(ctx, "conv:user:U1")
	assert.Equal(t, "conv-1", id)

	*now = now.Add(2 * time.Minute)
	id, _ = conv.Get(ctx, "conv:user:U1")
	assert.Empty(t, id)
}

func TestDedup_Claim(t *testing.T) {
	ctx := context.Background()
	kv, now := newFakeClockKV()
	d := NewDedup(kv, time.Minute)

	first, err := d.Claim(ctx, "U1", "100.1", "hello")
	require.NoError(t, err)
	assert.True(t, first)

	again, _ := d.Claim(ctx, "U1", "100.1", "hello")
	assert.False(t, again, "duplicate within the window is suppressed")

	other, _ := d.Claim(ctx, "U1", "100.1", "different text")
	assert.True(t, other)

	*now = now.Add(time.Minute)
	later, _ := d.Claim(ctx, "U1", "100.1", "hello")
	assert.True(t, later, "claims expire with the window")
}

func TestDedupKey(t *testing.T) {
	k := DedupKey("U1", "1.2", "text")
	assert.Len(t, k, len("dedup:U1:1.2:")+16)
	assert.Equal(t, k, DedupKey("U1", "1.2", "text"))
	assert.NotEqual(t, k, DedupKey("U2", "1.2", "text"))
}

func TestCategoryHistory_Record(t *testing.T) {
	ctx := context.Background()
	h := NewCategoryHistory(NewMemoryKV(), 3, 0)

	var got []string
	var err error
	for _, c := range []string{"A", "B", "A", "C", "D"} {
		got, err = h.Record(ctx, "U1", c)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"A", "C", "D"}, got)

	stored, err := h.History(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	other, err := h.History(ctx, "U2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCategoryHistory_Steps(t *testing.T) {
	ctx := context.Background()
	h := NewCategoryHistory(NewMemoryKV(), 3, 0)

	steps := []struct {
		category string
		want     []string
	}{
		{"A", []string{"A"}},
		{"B", []string{"A", "B"}},
		{"A", []string{"B", "A"}},
		{"C", []string{"B", "A", "C"}},
		{"D", []string{"A", "C", "D"}},
		{"D", []string{"A", "C", "D"}},
	}
	for _, s := range steps {
		got, err := h.Record(ctx, "U1", s.category)
		require.NoError(t, err)
		assert.Equal(t, s.want, got, "after recording %s", s.category)
	}
}

func TestCategoryHistory_Concurrent(t *testing.T) {
	ctx := context.Background()
	h := NewCategoryHistory(NewMemoryKV(), 3, 0)

	var wg sync.WaitGroup
	for _, c := range []string{"A", "B", "C", "D", "E", "F"} {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			_, err := h.Record(ctx, "U1", c)
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	got, err := h.History(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, got, 3, "no update is lost or duplicated")
}

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same")
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, km.Size(), "idle keys are released")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key should not block")
	}
	unlockA()
}

// Integration checks against real backends; set TEST_REDIS_ADDR or
// TEST_POSTGRES_DSN to run them.
func TestExternalBackends(t *testing.T) {
	ctx := context.Background()
	backends := map[string]func() (KV, error){
		"redis": func() (KV, error) {
			addr := os.Getenv("TEST_REDIS_ADDR")
			if addr == "" {
				return nil, nil
			}
			return NewRedisKV(ctx, addr, "", 15)
		},
		"postgres": func() (KV, error) {
			dsn := os.Getenv("TEST_POSTGRES_DSN")
			if dsn == "" {
				return nil, nil
			}
			return NewPostgresKV(ctx, dsn)
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			kv, err := open()
			require.NoError(t, err)
			if kv == nil {
				t.Skipf("%s not configured", name)
			}
			defer kv.Close()

			key := "test:" + time.Now().Format(time.RFC3339Nano)
			defer kv.Delete(ctx, key)

			ok, err := kv.SetNX(ctx, key, "v1", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = kv.SetNX(ctx, key, "v2", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			v, found, err := kv.Get(ctx, key)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "v1", v)
		})
	}
}
