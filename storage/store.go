package storage

import (
	"context"
	"errors"
	"iter"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/bikininjas/newbuild-scraper/models"
)

var (
	// ErrDuplicateObservation is returned when an observation with the same
	// (product, URL, timestamp) already exists in the ledger.
	ErrDuplicateObservation = errors.New("duplicate observation")

	// ErrInvalidPrice is returned for observations whose price is negative
	// or not finite.
	ErrInvalidPrice = errors.New("invalid price value")

	// ErrProductNotFound is returned when a named product does not exist.
	ErrProductNotFound = errors.New("product not found")
)

// Store is the persistence contract shared by the SQLite and Postgres
// backends: product catalog, append-only price ledger, per-URL cache state,
// run bookkeeping, and the operator command queue.
type Store interface {
	// Catalog. Imports are additive: products and URLs are created or
	// touched, never removed. Operators prune URLs explicitly.
	UpsertProduct(ctx context.Context, name, category string) (*models.Product, error)
	AddSourceURL(ctx context.Context, productID int64, url string) (*models.SourceURL, error)
	DeactivateURL(ctx context.Context, url string) error
	GetProducts(ctx context.Context) ([]models.Product, error)
	GetProductByName(ctx context.Context, name string) (*models.Product, error)
	GetProductURLs(ctx context.Context, productID int64) ([]models.SourceURL, error)

	// Price ledger (append-only).
	AppendObservation(ctx context.Context, obs *models.PriceObservation) error
	LatestObservations(ctx context.Context, productID int64) ([]models.PriceObservation, error)
	ObservationsInRange(ctx context.Context, productID int64, from, to time.Time) ([]models.PriceObservation, error)

	// Cache state, one row per source URL.
	GetCacheEntry(ctx context.Context, url string) (*models.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error

	// Run bookkeeping.
	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	UpdateRun(ctx context.Context, run *models.ScrapeRun) error
	LatestRun(ctx context.Context) (*models.ScrapeRun, error)
	Log(ctx context.Context, runID *uuid.UUID, level models.LogLevel, message, siteName string) error

	// Operator command queue.
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error

	Close() error
}

// ValidatePrice enforces the ledger invariant before any append.
func ValidatePrice(price float64) error {
	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return ErrInvalidPrice
	}
	return nil
}

// Series yields (timestamp, best-price-across-URLs) pairs for a product over
// [from, to]. The sequence re-queries the store on each range-over, so it is
// restartable, and it is bounded by the stored observations. Timestamps are
// the distinct observation timestamps in range; per-URL gaps are not filled
// here.
func Series(ctx context.Context, s Store, productID int64, from, to time.Time) iter.Seq[models.SeriesPoint] {
	return func(yield func(models.SeriesPoint) bool) {
		obs, err := s.ObservationsInRange(ctx, productID, from, to)
		if err != nil {
			return
		}
		// Observations arrive ordered by scraped_at; fold equal timestamps
		// into their minimum.
		var cur *models.SeriesPoint
		for _, o := range obs {
			if cur != nil && o.ScrapedAt.Equal(cur.Timestamp) {
				if o.Price < cur.Price {
					cur.Price = o.Price
				}
				continue
			}
			if cur != nil && !yield(*cur) {
				return
			}
			cur = &models.SeriesPoint{Timestamp: o.ScrapedAt, Price: o.Price}
		}
		if cur != nil {
			yield(*cur)
		}
	}
}
