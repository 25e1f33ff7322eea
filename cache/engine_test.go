package cache

import (
	"context"
	"testing"
	"time"

	"github.com/bikininjas/newbuild-scraper/models"
)

// memStore is a map-backed cache store for tests.
type memStore struct {
	entries map[string]*models.CacheEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*models.CacheEntry)}
}

func (m *memStore) GetCacheEntry(ctx context.Context, url string) (*models.CacheEntry, error) {
	e, ok := m.entries[url]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	cp := *entry
	m.entries[entry.URL] = &cp
	return nil
}

func TestState_Transitions(t *testing.T) {
	e := New(newMemStore(), Options{})
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if got := e.State(nil, now); got != models.StateNeverFetched {
		t.Fatalf("nil entry: got %s, want never_fetched", got)
	}

	success := now.Add(-2 * time.Hour)
	entry := &models.CacheEntry{URL: "u", LastFetched: success, LastSuccess: &success}
	if got := e.State(entry, now); got != models.StateFresh {
		t.Fatalf("2h old success: got %s, want fresh", got)
	}

	old := now.Add(-7 * time.Hour)
	entry = &models.CacheEntry{URL: "u", LastFetched: old, LastSuccess: &old}
	if got := e.State(entry, now); got != models.StateStale {
		t.Fatalf("7h old success: got %s, want stale", got)
	}

	retry := now.Add(30 * time.Minute)
	entry = &models.CacheEntry{URL: "u", LastFetched: now.Add(-time.Hour), Attempts: 2, NextRetry: &retry}
	if got := e.State(entry, now); got != models.StateBackoff {
		t.Fatalf("before next retry: got %s, want backoff", got)
	}

	passed := now.Add(-time.Minute)
	entry.NextRetry = &passed
	if got := e.State(entry, now); got != models.StateStale {
		t.Fatalf("after next retry: got %s, want stale", got)
	}
}

func TestBackoff_MonotonicAndCapped(t *testing.T) {
	e := New(newMemStore(), Options{})

	prev := time.Duration(0)
	for failures := 1; failures <= 10; failures++ {
		d := e.Backoff(failures)
		if d < prev {
			t.Fatalf("backoff decreased at failure %d: %s < %s", failures, d, prev)
		}
		if d > DefaultBackoffCeiling {
			t.Fatalf("backoff %s exceeds ceiling at failure %d", d, failures)
		}
		prev = d
	}

	if got := e.Backoff(1); got != time.Hour {
		t.Fatalf("first failure backoff = %s, want 1h", got)
	}
	if got := e.Backoff(2); got != 2*time.Hour {
		t.Fatalf("second failure backoff = %s, want 2h", got)
	}
	if got := e.Backoff(6); got != DefaultBackoffCeiling {
		t.Fatalf("sixth failure backoff = %s, want ceiling", got)
	}
}

func TestRecordFailure_ThenSuccess(t *testing.T) {
	store := newMemStore()
	e := New(store, Options{})
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	backoff, err := e.RecordFailure(ctx, "https://example.com/p", now)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if backoff != time.Hour {
		t.Fatalf("first backoff = %s, want 1h", backoff)
	}

	entry, _ := store.GetCacheEntry(ctx, "https://example.com/p")
	if entry.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", entry.Attempts)
	}
	if entry.NextRetry == nil || !entry.NextRetry.Equal(now.Add(time.Hour)) {
		t.Fatalf("next retry = %v, want now+1h", entry.NextRetry)
	}

	// Still in backoff, not due.
	due, err := e.IsDue(ctx, "https://example.com/p", now.Add(30*time.Minute), 0)
	if err != nil || due {
		t.Fatalf("due during backoff: %v, %v", due, err)
	}

	// Backoff elapsed, due again.
	due, err = e.IsDue(ctx, "https://example.com/p", now.Add(2*time.Hour), 0)
	if err != nil || !due {
		t.Fatalf("not due after backoff elapsed: %v, %v", due, err)
	}

	if err := e.RecordSuccess(ctx, "https://example.com/p", 42.50, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}
	entry, _ = store.GetCacheEntry(ctx, "https://example.com/p")
	if entry.Attempts != 0 {
		t.Fatalf("attempts after success = %d, want 0", entry.Attempts)
	}
	if entry.NextRetry != nil {
		t.Fatalf("next retry not cleared: %v", entry.NextRetry)
	}
	if entry.CachedPrice == nil || *entry.CachedPrice != 42.50 {
		t.Fatalf("cached price = %v, want 42.50", entry.CachedPrice)
	}
}

func TestIsDue_SelectiveThreshold(t *testing.T) {
	store := newMemStore()
	e := New(store, Options{})
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Success 2 hours ago: fresh, never due.
	if err := e.RecordSuccess(ctx, "u1", 100, now.Add(-2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	due, err := e.IsDue(ctx, "u1", now, 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if due {
		t.Fatal("fresh URL below threshold should not be due")
	}

	// Success 7 hours ago: stale, but still below the 48h threshold.
	if err := e.RecordSuccess(ctx, "u2", 100, now.Add(-7*time.Hour)); err != nil {
		t.Fatal(err)
	}
	due, err = e.IsDue(ctx, "u2", now, 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if due {
		t.Fatal("stale URL below selective threshold should not be due")
	}
	// Without the threshold it is due.
	due, err = e.IsDue(ctx, "u2", now, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !due {
		t.Fatal("stale URL should be due in normal mode")
	}

	// Success 50 hours ago: stale and past the threshold.
	if err := e.RecordSuccess(ctx, "u3", 100, now.Add(-50*time.Hour)); err != nil {
		t.Fatal(err)
	}
	due, err = e.IsDue(ctx, "u3", now, 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !due {
		t.Fatal("URL past selective threshold should be due")
	}

	// Never fetched is always due, selective or not.
	due, err = e.IsDue(ctx, "u4", now, 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !due {
		t.Fatal("never-fetched URL should be due")
	}
}

func TestTryAcquire_SingleFlight(t *testing.T) {
	e := New(newMemStore(), Options{})

	if !e.TryAcquire("u") {
		t.Fatal("first acquire should succeed")
	}
	if e.TryAcquire("u") {
		t.Fatal("second acquire should fail while held")
	}
	if !e.TryAcquire("other") {
		t.Fatal("distinct URL should be independent")
	}
	e.Release("u")
	if !e.TryAcquire("u") {
		t.Fatal("acquire after release should succeed")
	}
}
