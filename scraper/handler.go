package scraper

import (
	"context"

	"github.com/bikininjas/newbuild-scraper/config"
	"github.com/bikininjas/newbuild-scraper/httputil"
	"github.com/bikininjas/newbuild-scraper/models"
)

// Fetcher is the contract every site handler implements: given one URL,
// return the raw price text plus whatever vendor signals the page exposes,
// or a typed failure (models.FetchError).
type Fetcher interface {
	ID() string
	Fetch(ctx context.Context, url string) (*models.RawObservation, error)
}

// NewFetcher picks a handler for a site. Sites behind anti-bot walls get
// the browser handler; everything else goes through plain HTTP.
func NewFetcher(siteCfg *config.SiteConfig, clients *httputil.Clients) Fetcher {
	switch siteCfg.Handler {
	case "browser":
		return NewBrowserHandler(siteCfg)
	default:
		return NewHTTPHandler(siteCfg, clients)
	}
}
