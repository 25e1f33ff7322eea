package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/bikininjas/newbuild-scraper/config"
	"github.com/bikininjas/newbuild-scraper/httputil"
	"github.com/bikininjas/newbuild-scraper/models"
	"github.com/bikininjas/newbuild-scraper/resolver"
)

// HTTPHandler fetches product pages over plain HTTP and extracts the raw
// price text with goquery selectors from the site config.
type HTTPHandler struct {
	cfg    *config.SiteConfig
	client *http.Client
}

func NewHTTPHandler(siteCfg *config.SiteConfig, clients *httputil.Clients) *HTTPHandler {
	return &HTTPHandler{
		cfg:    siteCfg,
		client: clients.Scraping,
	}
}

func (h *HTTPHandler) ID() string {
	return h.cfg.ID
}

func (h *HTTPHandler) Fetch(ctx context.Context, pageURL string) (*models.RawObservation, error) {
	pageURL = CleanURL(pageURL, h.cfg.CleanURLParams)

	resp, chain, err := httputil.FollowRedirects(ctx, h.client, pageURL, resolver.MaxRedirectHops)
	if err != nil {
		return nil, models.NewFetchError(classifyNetErr(err), pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.NewFetchError(classifyStatus(resp.StatusCode), pageURL,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, models.NewFetchError(models.FailureParseError, pageURL, err)
	}

	priceText := h.extractPrice(doc)
	if priceText == "" {
		return nil, models.NewFetchError(models.FailureParseError, pageURL,
			errors.New("no price selector matched"))
	}

	obs := &models.RawObservation{
		PriceText: priceText,
		FetchedAt: time.Now().UTC(),
	}

	if h.cfg.Aggregator {
		obs.Signals = &models.VendorSignals{
			OfferHTML:     h.extractOffer(doc),
			RedirectChain: chain,
			Aggregator:    h.cfg.Name,
			AggregatorURL: pageURL,
		}
	}

	return obs, nil
}

func (h *HTTPHandler) extractPrice(doc *goquery.Document) string {
	for _, sel := range h.cfg.PriceSelectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func (h *HTTPHandler) extractOffer(doc *goquery.Document) string {
	if h.cfg.OfferSelector == "" {
		return ""
	}
	html, err := goquery.OuterHtml(doc.Find(h.cfg.OfferSelector).First())
	if err != nil {
		return ""
	}
	return html
}

// CleanURL strips tracking query parameters (Amazon wishlist ids and the
// like) so the same product page always maps to one cache entry.
func CleanURL(rawURL string, params []string) string {
	if len(params) == 0 {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	changed := false
	for _, p := range params {
		if q.Has(p) {
			q.Del(p)
			changed = true
		}
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func classifyNetErr(err error) models.FailureKind {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return models.FailureTimeout
	}
	return models.FailureBlocked
}

func classifyStatus(code int) models.FailureKind {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return models.FailureNotFound
	case code == http.StatusForbidden || code == http.StatusTooManyRequests ||
		code == http.StatusServiceUnavailable:
		return models.FailureBlocked
	default:
		return models.FailureParseError
	}
}
