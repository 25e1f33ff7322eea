package models

import "time"

// PriceObservation is one immutable row of the price ledger. Observations are
// appended once per successful fetch and never mutated.
type PriceObservation struct {
	ID              int64     `json:"id" db:"id"`
	ProductID       int64     `json:"product_id" db:"product_id"`
	URL             string    `json:"url" db:"url"`
	SiteName        string    `json:"site_name" db:"site_name"`
	Price           float64   `json:"price" db:"price"`
	VendorName      string    `json:"vendor_name" db:"vendor_name"`
	VendorURL       string    `json:"vendor_url" db:"vendor_url"`
	IsMarketplace   bool      `json:"is_marketplace" db:"is_marketplace"`
	IsPrimeEligible bool      `json:"is_prime_eligible" db:"is_prime_eligible"`
	LowConfidence   bool      `json:"low_confidence" db:"low_confidence"`
	ScrapedAt       time.Time `json:"scraped_at" db:"scraped_at"`
}

// RawObservation is what a fetch handler returns before normalization and
// vendor resolution: the price as it appeared on the page plus whatever
// vendor signals the page carried.
type RawObservation struct {
	PriceText string
	Signals   *VendorSignals
	FetchedAt time.Time
}

// VendorSignals are the aggregator page fragments the resolver works from.
// OfferHTML is the markup of the winning offer element; RedirectChain is the
// ordered list of URLs an offer link bounced through, terminal URL last.
type VendorSignals struct {
	OfferHTML     string
	RedirectChain []string
	Aggregator    string
	AggregatorURL string
}

// VendorInfo is the resolved seller of record for an observation.
type VendorInfo struct {
	Name            string
	URL             string
	IsMarketplace   bool
	IsPrimeEligible bool
	LowConfidence   bool
}

// SeriesPoint is one (timestamp, best price) pair from a product series.
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}
