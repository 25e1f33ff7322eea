package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bikininjas/newbuild-scraper/models"
)

// Store is the persistence the engine needs: one cache row per source URL.
type Store interface {
	GetCacheEntry(ctx context.Context, url string) (*models.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error
}

type Options struct {
	FreshnessWindow time.Duration
	BackoffBase     time.Duration
	BackoffCeiling  time.Duration
}

const (
	DefaultFreshnessWindow = 6 * time.Hour
	DefaultBackoffBase     = 1 * time.Hour
	DefaultBackoffCeiling  = 24 * time.Hour
)

// Engine decides per URL whether a re-fetch is due, and tracks failure
// backoff. State is evaluated lazily from the stored entry and a clock; the
// engine also enforces at-most-one in-flight fetch per URL within a run.
type Engine struct {
	store Store
	opts  Options

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(store Store, opts Options) *Engine {
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = DefaultFreshnessWindow
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCeiling <= 0 {
		opts.BackoffCeiling = DefaultBackoffCeiling
	}
	return &Engine{
		store:    store,
		opts:     opts,
		inflight: make(map[string]struct{}),
	}
}

// State classifies a cache entry at time now. A nil entry means the URL has
// never been fetched.
func (e *Engine) State(entry *models.CacheEntry, now time.Time) models.FetchState {
	if entry == nil || entry.LastFetched.IsZero() {
		return models.StateNeverFetched
	}
	if entry.Attempts > 0 {
		if entry.NextRetry != nil && now.Before(*entry.NextRetry) {
			return models.StateBackoff
		}
		return models.StateStale
	}
	if entry.LastSuccess != nil && now.Sub(*entry.LastSuccess) < e.opts.FreshnessWindow {
		return models.StateFresh
	}
	return models.StateStale
}

// IsDue reports whether url should be fetched at time now. A positive
// selectiveThreshold restricts the run to URLs whose last success is older
// than the threshold, without touching backoff bookkeeping.
func (e *Engine) IsDue(ctx context.Context, url string, now time.Time, selectiveThreshold time.Duration) (bool, error) {
	entry, err := e.store.GetCacheEntry(ctx, url)
	if err != nil {
		return false, err
	}

	switch e.State(entry, now) {
	case models.StateNeverFetched, models.StateStale:
	default:
		return false, nil
	}

	if selectiveThreshold > 0 && entry != nil && entry.LastSuccess != nil {
		if now.Sub(*entry.LastSuccess) <= selectiveThreshold {
			return false, nil
		}
	}
	return true, nil
}

// Backoff returns the delay imposed after the given consecutive-failure
// count: base doubling per failure, capped at the ceiling.
func (e *Engine) Backoff(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	d := e.opts.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= e.opts.BackoffCeiling {
			return e.opts.BackoffCeiling
		}
	}
	if d > e.opts.BackoffCeiling {
		return e.opts.BackoffCeiling
	}
	return d
}

// RecordSuccess resets the failure streak and stamps a fresh cache window.
func (e *Engine) RecordSuccess(ctx context.Context, url string, price float64, now time.Time) error {
	entry, err := e.store.GetCacheEntry(ctx, url)
	if err != nil {
		return err
	}
	if entry == nil {
		entry = &models.CacheEntry{URL: url}
	}
	entry.LastFetched = now
	entry.LastSuccess = &now
	entry.CachedPrice = &price
	entry.Attempts = 0
	entry.NextRetry = nil
	return e.store.PutCacheEntry(ctx, entry)
}

// RecordFailure increments the failure streak and pushes the next-retry
// timestamp out by the current backoff. The last cached price survives.
func (e *Engine) RecordFailure(ctx context.Context, url string, now time.Time) (time.Duration, error) {
	entry, err := e.store.GetCacheEntry(ctx, url)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		entry = &models.CacheEntry{URL: url}
	}
	entry.LastFetched = now
	entry.Attempts++
	backoff := e.Backoff(entry.Attempts)
	next := now.Add(backoff)
	entry.NextRetry = &next
	if err := e.store.PutCacheEntry(ctx, entry); err != nil {
		return 0, err
	}
	return backoff, nil
}

// TryAcquire marks url as having a fetch in flight. It returns false when
// another worker already owns the URL.
func (e *Engine) TryAcquire(url string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inflight[url]; ok {
		return false
	}
	e.inflight[url] = struct{}{}
	return true
}

// Release clears the in-flight mark for url.
func (e *Engine) Release(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, url)
}
