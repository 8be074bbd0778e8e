package kvstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness pairs a store with a way to move its notion of time forward.
type harness struct {
	store   Store
	advance func(time.Duration)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemoryHarness(t *testing.T) harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	mem := NewMemoryWithClock(clock.Now)
	t.Cleanup(func() { _ = mem.Close() })
	return harness{store: mem, advance: clock.Advance}
}

func newRedisHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return harness{store: NewRedis(client, time.Second), advance: mr.FastForward}
}

func TestStoreContract(t *testing.T) {
	backends := map[string]func(*testing.T) harness{
		"memory": newMemoryHarness,
		"redis":  newRedisHarness,
	}
	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("fields", func(t *testing.T) { testFields(t, build(t)) })
			t.Run("expiry", func(t *testing.T) { testExpiry(t, build(t)) })
			t.Run("put without expiry", func(t *testing.T) { testPutWithoutExpiry(t, build(t)) })
			t.Run("scan", func(t *testing.T) { testScan(t, build(t)) })
			t.Run("put modes", func(t *testing.T) { testPutModes(t, build(t)) })
			t.Run("compare and delete", func(t *testing.T) { testCompareAndDelete(t, build(t)) })
			t.Run("concurrent put if absent", func(t *testing.T) { testConcurrentPutIfAbsent(t, build(t)) })
			t.Run("concurrent compare and delete", func(t *testing.T) { testConcurrentCompareAndDelete(t, build(t)) })
		})
	}
}

func testPutWithoutExpiry(t *testing.T, h harness) {
	ctx := context.Background()
	s := h.store

	written, err := s.PutRecord(ctx, "web:abc", map[string]string{"uuid": "u-1"}, 10*time.Second, PutAlways)
	require.NoError(t, err)
	require.True(t, written)

	for _, ttl := range []time.Duration{0, -time.Second} {
		written, err = s.PutRecord(ctx, "web:abc", map[string]string{"uuid": "u-2"}, ttl, PutAlways)
		require.NoError(t, err)
		require.True(t, written)

		_, ok, err := s.TTL(ctx, "web:abc")
		require.NoError(t, err)
		assert.False(t, ok, "ttl %s should leave the record without expiry", ttl)
	}

	h.advance(time.Hour)
	val, ok, err := s.GetField(ctx, "web:abc", "uuid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u-2", val)
}

func testFields(t *testing.T, h harness) {
	ctx := context.Background()
	s := h.store

	_, ok, err := s.GetField(ctx, "login:abc", "uuid")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetField(ctx, "login:abc", "uuid", "u-1"))
	require.NoError(t, s.SetField(ctx, "login:abc", "username", "steve"))

	val, ok, err := s.GetField(ctx, "login:abc", "uuid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u-1", val)

	_, ok, err = s.GetField(ctx, "login:abc", "isOp")
	require.NoError(t, err)
	assert.False(t, ok)

	fields, err := s.GetFields(ctx, "login:abc")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"uuid": "u-1", "username": "steve"}, fields)

	exists, err := s.Exists(ctx, "login:abc")
	require.NoError(t, err)
	assert.True(t, exists)

	deleted, err := s.Delete(ctx, "login:abc")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "login:abc")
	require.NoError(t, err)
	assert.False(t, deleted)

	fields, err = s.GetFields(ctx, "login:abc")
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func testExpiry(t *testing.T, h harness) {
	ctx := context.Background()
	s := h.store

	applied, err := s.Expire(ctx, "web:missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, applied, "expire on a missing record")

	written, err := s.PutRecord(ctx, "web:abc", map[string]string{"uuid": "u-1"}, 10*time.Second, PutAlways)
	require.NoError(t, err)
	require.True(t, written)

	ttl, ok, err := s.TTL(ctx, "web:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 10*time.Second, ttl, float64(time.Second))

	h.advance(6 * time.Second)
	applied, err = s.Expire(ctx, "web:abc", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, applied)

	h.advance(6 * time.Second)
	exists, err := s.Exists(ctx, "web:abc")
	require.NoError(t, err)
	assert.True(t, exists, "refreshed record should outlive the original expiry")

	h.advance(5 * time.Second)
	exists, err = s.Exists(ctx, "web:abc")
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, err = s.TTL(ctx, "web:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testScan(t *testing.T, h harness) {
	ctx := context.Background()
	s := h.store

	for _, key := range []string{"login:a", "login:b", "web:a"} {
		_, err := s.PutRecord(ctx, key, map[string]string{"uuid": key}, time.Minute, PutAlways)
		require.NoError(t, err)
	}
	_, err := s.PutRecord(ctx, "login:short", map[string]string{"uuid": "x"}, time.Second, PutAlways)
	require.NoError(t, err)
	h.advance(2 * time.Second)

	keys, err := s.ScanKeys(ctx, "login:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"login:a", "login:b"}, keys)

	keys, err = s.ScanKeys(ctx, "nothing:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testPutModes(t *testing.T, h harness) {
	ctx := context.Background()
	s := h.store
	first := map[string]string{"uuid": "u-1", "username": "alex", "isOp": "false"}
	second := map[string]string{"uuid": "u-2", "username": "sam", "isOp": "true"}

	written, err := s.PutRecord(ctx, "web:k", first, time.Minute, PutIfPresent)
	require.NoError(t, err)
	assert.False(t, written, "if-present must not create")

	written, err = s.PutRecord(ctx, "web:k", first, time.Minute, PutIfAbsent)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.PutRecord(ctx, "web:k", second, time.Minute, PutIfAbsent)
	require.NoError(t, err)
	assert.False(t, written, "if-absent must not overwrite")

	fields, err := s.GetFields(ctx, "web:k")
	require.NoError(t, err)
	assert.Equal(t, first, fields)

	written, err = s.PutRecord(ctx, "web:k", second, time.Minute, PutIfPresent)
	require.NoError(t, err)
	assert.True(t, written)

	fields, err = s.GetFields(ctx, "web:k")
	require.NoError(t, err)
	assert.Equal(t, second, fields)

	h.advance(2 * time.Minute)
	written, err = s.PutRecord(ctx, "web:k", first, time.Minute, PutIfAbsent)
	require.NoError(t, err)
	assert.True(t, written, "an expired record counts as absent")
}

func testCompareAndDelete(t *testing.T, h harness) {
	ctx := context.Background()
	s := h.store

	deleted, err := s.CompareAndDelete(ctx, "web:c", "uuid", "u-1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.PutRecord(ctx, "web:c", map[string]string{"uuid": "u-1"}, time.Minute, PutAlways)
	require.NoError(t, err)

	deleted, err = s.CompareAndDelete(ctx, "web:c", "uuid", "u-2")
	require.NoError(t, err)
	assert.False(t, deleted)

	exists, err := s.Exists(ctx, "web:c")
	require.NoError(t, err)
	assert.True(t, exists, "mismatch must leave the record alone")

	deleted, err = s.CompareAndDelete(ctx, "web:c", "uuid", "u-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.CompareAndDelete(ctx, "web:c", "uuid", "u-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testConcurrentPutIfAbsent(t *testing.T, h harness) {
	ctx := context.Background()
	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			written, err := h.store.PutRecord(ctx, "login:race", map[string]string{"uuid": "u"}, time.Minute, PutIfAbsent)
			if err != nil {
				t.Errorf("put: %v", err)
				return
			}
			if written {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func testConcurrentCompareAndDelete(t *testing.T, h harness) {
	ctx := context.Background()
	_, err := h.store.PutRecord(ctx, "web:race", map[string]string{"uuid": "u"}, time.Minute, PutAlways)
	require.NoError(t, err)

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deleted, err := h.store.CompareAndDelete(ctx, "web:race", "uuid", "u")
			if err != nil {
				t.Errorf("compare and delete: %v", err)
				return
			}
			if deleted {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedis(client, 200*time.Millisecond)

	mr.Close()

	_, err = store.Exists(context.Background(), "login:x")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = store.GetField(context.Background(), "login:x", "uuid")
	assert.True(t, IsUnavailable(err))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `login:`, escapeGlob("login:"))
	assert.Equal(t, `a\*b\?\[c\]`, escapeGlob("a*b?[c]"))
}
