package models

import "time"

// FetchState is the lazily-evaluated freshness state of a source URL.
type FetchState string

const (
	StateNeverFetched FetchState = "never_fetched"
	StateFresh        FetchState = "fresh"
	StateStale        FetchState = "stale"
	StateBackoff      FetchState = "backoff"
)

// CacheEntry tracks fetch freshness and failure backoff for one source URL.
// Attempts counts consecutive failures and resets to zero on success.
type CacheEntry struct {
	ID          int64      `json:"id" db:"id"`
	URL         string     `json:"url" db:"url"`
	LastFetched time.Time  `json:"last_fetched" db:"last_fetched"`
	LastSuccess *time.Time `json:"last_success" db:"last_success"`
	CachedPrice *float64   `json:"cached_price" db:"cached_price"`
	Attempts    int        `json:"attempts" db:"attempts"`
	NextRetry   *time.Time `json:"next_retry" db:"next_retry"`
}
