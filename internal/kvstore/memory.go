package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryRecord struct {
	fields    map[string]string
	expiresAt time.Time
}

func (r *memoryRecord) liveAt(now time.Time) bool {
	return r.expiresAt.IsZero() || now.Before(r.expiresAt)
}

// Memory is a process-local Store. Expired records are dropped lazily on
// access and, when StartSweeper runs, periodically.
type Memory struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemory builds an empty in-memory store backed by the wall clock.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock builds an in-memory store reading time from now.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		records: make(map[string]*memoryRecord),
		now:     now,
		stop:    make(chan struct{}),
	}
}

// live returns the record under key, dropping it if expired. Callers hold mu.
func (m *Memory) live(key string) (*memoryRecord, bool) {
	rec, ok := m.records[key]
	if !ok {
		return nil, false
	}
	if !rec.liveAt(m.now()) {
		delete(m.records, key)
		return nil, false
	}
	return rec, true
}

func (m *Memory) SetField(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.live(key)
	if !ok {
		rec = &memoryRecord{fields: make(map[string]string)}
		m.records[key] = rec
	}
	rec.fields[field] = value
	return nil
}

func (m *Memory) GetField(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	val, ok := rec.fields[field]
	return val, ok, nil
}

func (m *Memory) GetFields(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	if rec, ok := m.live(key); ok {
		for k, v := range rec.fields {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	return ok, nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); !ok {
		return false, nil
	}
	delete(m.records, key)
	return true, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.live(key)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		delete(m.records, key)
		return true, nil
	}
	rec.expiresAt = m.now().Add(ttl)
	return true, nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.live(key)
	if !ok || rec.expiresAt.IsZero() {
		return 0, false, nil
	}
	return rec.expiresAt.Sub(m.now()), true, nil
}

// ScanKeys returns matching keys in lexical order.
func (m *Memory) ScanKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.records {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := m.live(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) PutRecord(_ context.Context, key string, fields map[string]string, ttl time.Duration, mode PutMode) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.live(key)
	switch {
	case mode == PutIfAbsent && exists:
		return false, nil
	case mode == PutIfPresent && !exists:
		return false, nil
	}
	if len(fields) == 0 {
		delete(m.records, key)
		return true, nil
	}
	rec := &memoryRecord{fields: make(map[string]string, len(fields))}
	for k, v := range fields {
		rec.fields[k] = v
	}
	if ttl > 0 {
		rec.expiresAt = m.now().Add(ttl)
	}
	m.records[key] = rec
	return true, nil
}

func (m *Memory) CompareAndDelete(_ context.Context, key, field, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.live(key)
	if !ok {
		return false, nil
	}
	if val, ok := rec.fields[field]; !ok || val != expected {
		return false, nil
	}
	delete(m.records, key)
	return true, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Sweep drops every expired record and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for key, rec := range m.records {
		if !rec.liveAt(now) {
			delete(m.records, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until Close is called. It must be
// called at most once.
func (m *Memory) StartSweeper(interval time.Duration) {
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

// Close stops the sweeper, if running, and waits for it to exit.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.done != nil {
		<-m.done
	}
	return nil
}
