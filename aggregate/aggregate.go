// Package aggregate derives current best prices, category summaries and
// total-price time series from the observation ledger. Everything here is
// read-only over the storage layer; no aggregation result is ever written
// back to history.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bikininjas/newbuild-scraper/models"
	"github.com/bikininjas/newbuild-scraper/storage"
)

// Direction classifies how a product's price moved between its latest two
// distinct observations.
type Direction string

const (
	DirectionDecrease  Direction = "decrease"
	DirectionIncrease  Direction = "increase"
	DirectionUnchanged Direction = "unchanged"
	DirectionUnknown   Direction = "unknown"
)

// BestPrice is the lowest current price across a product's source URLs,
// with the winning vendor attached.
type BestPrice struct {
	Price           float64
	URL             string
	SiteName        string
	VendorName      string
	VendorURL       string
	IsMarketplace   bool
	IsPrimeEligible bool
	LowConfidence   bool
	ScrapedAt       time.Time
}

// ProductSummary is the per-product rendering payload.
type ProductSummary struct {
	Product   models.Product
	Best      *BestPrice
	Direction Direction
}

// CategorySummary names the cheapest product in a category. Excluded
// categories still produce a summary for visibility, they just never
// contribute to totals.
type CategorySummary struct {
	Category string
	Cheapest *ProductSummary
	Excluded bool
}

// Engine computes aggregates over a store. The excluded set holds category
// names whose products are reported but kept out of total calculations.
type Engine struct {
	store    storage.Store
	excluded map[string]bool
}

func NewEngine(store storage.Store, excludedCategories []string) *Engine {
	excluded := make(map[string]bool, len(excludedCategories))
	for _, c := range excludedCategories {
		excluded[c] = true
	}
	return &Engine{store: store, excluded: excluded}
}

func (e *Engine) IsExcluded(category string) bool {
	return e.excluded[category]
}

// BestPrice returns the lowest latest observation across the product's
// URLs. Ties go to the URL registered earliest, which LatestObservations
// already orders by, so the first strictly-lower price wins and equal
// prices never displace an earlier URL. Returns nil when the product has
// no observations.
func (e *Engine) BestPrice(ctx context.Context, productID int64) (*BestPrice, error) {
	latest, err := e.store.LatestObservations(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("latest observations for product %d: %w", productID, err)
	}
	if len(latest) == 0 {
		return nil, nil
	}

	best := latest[0]
	for _, obs := range latest[1:] {
		if obs.Price < best.Price {
			best = obs
		}
	}

	return &BestPrice{
		Price:           best.Price,
		URL:             best.URL,
		SiteName:        best.SiteName,
		VendorName:      best.VendorName,
		VendorURL:       best.VendorURL,
		IsMarketplace:   best.IsMarketplace,
		IsPrimeEligible: best.IsPrimeEligible,
		LowConfidence:   best.LowConfidence,
		ScrapedAt:       best.ScrapedAt,
	}, nil
}

// PriceDirection compares the product's latest two distinct best-price
// points. Strict numeric comparison, so equal values read as unchanged.
func (e *Engine) PriceDirection(ctx context.Context, productID int64) (Direction, error) {
	points, err := e.bestSeries(ctx, productID, time.Time{}, time.Now().UTC())
	if err != nil {
		return DirectionUnknown, err
	}
	if len(points) < 2 {
		return DirectionUnknown, nil
	}

	prev := points[len(points)-2].Price
	last := points[len(points)-1].Price
	switch {
	case last < prev:
		return DirectionDecrease, nil
	case last > prev:
		return DirectionIncrease, nil
	default:
		return DirectionUnchanged, nil
	}
}

// Summarize builds the per-product rendering payload for every product.
func (e *Engine) Summarize(ctx context.Context) ([]ProductSummary, error) {
	products, err := e.store.GetProducts(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]ProductSummary, 0, len(products))
	for _, p := range products {
		best, err := e.BestPrice(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		dir, err := e.PriceDirection(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, ProductSummary{Product: p, Best: best, Direction: dir})
	}
	return summaries, nil
}

// Categories groups product summaries into per-category cheapest-product
// summaries. Excluded categories are included in the result, flagged.
func (e *Engine) Categories(ctx context.Context) ([]CategorySummary, error) {
	summaries, err := e.Summarize(ctx)
	if err != nil {
		return nil, err
	}

	byCategory := map[string]*CategorySummary{}
	for i := range summaries {
		s := &summaries[i]
		if s.Best == nil {
			continue
		}
		cat, ok := byCategory[s.Product.Category]
		if !ok {
			byCategory[s.Product.Category] = &CategorySummary{
				Category: s.Product.Category,
				Cheapest: s,
				Excluded: e.IsExcluded(s.Product.Category),
			}
			continue
		}
		if s.Best.Price < cat.Cheapest.Best.Price {
			cat.Cheapest = s
		}
	}

	names := make([]string, 0, len(byCategory))
	for name := range byCategory {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]CategorySummary, 0, len(names))
	for _, name := range names {
		out = append(out, *byCategory[name])
	}
	return out, nil
}

// bestSeries returns, per distinct timestamp in range, the lowest price
// across the product's URLs as of that timestamp. A URL without an
// observation at-or-before a timestamp simply does not compete at that
// point.
func (e *Engine) bestSeries(ctx context.Context, productID int64, from, to time.Time) ([]models.SeriesPoint, error) {
	observations, err := e.store.ObservationsInRange(ctx, productID, from, to)
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, nil
	}

	// Walk observations in time order, tracking each URL's last known price.
	lastByURL := map[string]float64{}
	var points []models.SeriesPoint
	i := 0
	for i < len(observations) {
		ts := observations[i].ScrapedAt
		for i < len(observations) && observations[i].ScrapedAt.Equal(ts) {
			lastByURL[observations[i].URL] = observations[i].Price
			i++
		}
		best := 0.0
		first := true
		for _, price := range lastByURL {
			if first || price < best {
				best = price
				first = false
			}
		}
		points = append(points, models.SeriesPoint{Timestamp: ts, Price: best})
	}
	return points, nil
}

// TotalSeries computes the aggregate sum series over all non-excluded
// products. At every distinct timestamp found in any included product's
// history, each included product contributes its best known price as of
// that timestamp; a product with no observation yet contributes nothing.
// The final point therefore equals the sum of current best prices.
func (e *Engine) TotalSeries(ctx context.Context, from, to time.Time) ([]models.SeriesPoint, error) {
	products, err := e.store.GetProducts(ctx)
	if err != nil {
		return nil, err
	}

	type productSeries struct {
		points []models.SeriesPoint
	}
	var included []productSeries
	timestampSet := map[time.Time]bool{}

	for _, p := range products {
		if e.IsExcluded(p.Category) {
			continue
		}
		points, err := e.bestSeries(ctx, p.ID, from, to)
		if err != nil {
			return nil, err
		}
		if len(points) == 0 {
			continue
		}
		included = append(included, productSeries{points: points})
		for _, pt := range points {
			timestampSet[pt.Timestamp] = true
		}
	}
	if len(timestampSet) == 0 {
		return nil, nil
	}

	timestamps := make([]time.Time, 0, len(timestampSet))
	for ts := range timestampSet {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	totals := make([]models.SeriesPoint, 0, len(timestamps))
	for _, ts := range timestamps {
		sum := 0.0
		for _, ps := range included {
			if price, ok := asOf(ps.points, ts); ok {
				sum += price
			}
		}
		totals = append(totals, models.SeriesPoint{Timestamp: ts, Price: sum})
	}
	return totals, nil
}

// asOf returns the last price at or before ts in a time-ordered series.
func asOf(points []models.SeriesPoint, ts time.Time) (float64, bool) {
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].Timestamp.After(ts)
	})
	if idx == 0 {
		return 0, false
	}
	return points[idx-1].Price, true
}

// ForwardFill expands a sparse series onto the given timestamp grid,
// carrying each product's most recent prior price forward. Purely a
// presentation transform; the input series is not modified and nothing is
// written back to the store. Timestamps before the first observation are
// omitted rather than filled.
func ForwardFill(points []models.SeriesPoint, grid []time.Time) []models.SeriesPoint {
	if len(points) == 0 || len(grid) == 0 {
		return nil
	}

	var out []models.SeriesPoint
	for _, ts := range grid {
		if price, ok := asOf(points, ts); ok {
			out = append(out, models.SeriesPoint{Timestamp: ts, Price: price})
		}
	}
	return out
}
