package aggregate

import (
	"context"
	"time"

	"github.com/bikininjas/newbuild-scraper/models"
)

// Report is the full payload handed to downstream rendering: per-product
// summaries with their observation series, per-category cheapest products,
// and the aggregate total series.
type Report struct {
	GeneratedAt time.Time
	Products    []ProductReport
	Categories  []CategorySummary
	Totals      []models.SeriesPoint
}

// ProductReport extends a ProductSummary with the product's full
// best-price series for charting.
type ProductReport struct {
	ProductSummary
	Series []models.SeriesPoint
}

// BuildReport assembles a complete report over the given time range.
func (e *Engine) BuildReport(ctx context.Context, from, to time.Time) (*Report, error) {
	summaries, err := e.Summarize(ctx)
	if err != nil {
		return nil, err
	}

	products := make([]ProductReport, 0, len(summaries))
	for _, s := range summaries {
		series, err := e.bestSeries(ctx, s.Product.ID, from, to)
		if err != nil {
			return nil, err
		}
		products = append(products, ProductReport{ProductSummary: s, Series: series})
	}

	categories, err := e.Categories(ctx)
	if err != nil {
		return nil, err
	}

	totals, err := e.TotalSeries(ctx, from, to)
	if err != nil {
		return nil, err
	}

	return &Report{
		GeneratedAt: time.Now().UTC(),
		Products:    products,
		Categories:  categories,
		Totals:      totals,
	}, nil
}
