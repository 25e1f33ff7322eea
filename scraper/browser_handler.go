package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/bikininjas/newbuild-scraper/config"
	"github.com/bikininjas/newbuild-scraper/models"
)

// BrowserHandler drives a headless browser for sites that need JavaScript
// or serve consent walls before showing prices. The browser is started
// lazily on first fetch and shared across fetches for the same site.
type BrowserHandler struct {
	cfg *config.SiteConfig

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewBrowserHandler(siteCfg *config.SiteConfig) *BrowserHandler {
	return &BrowserHandler{cfg: siteCfg}
}

func (h *BrowserHandler) ID() string {
	return h.cfg.ID
}

func (h *BrowserHandler) ensureBrowser() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.browser != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("launch browser: %w", err)
	}

	h.pw = pw
	h.browser = browser
	return nil
}

func (h *BrowserHandler) Fetch(ctx context.Context, pageURL string) (*models.RawObservation, error) {
	pageURL = CleanURL(pageURL, h.cfg.CleanURLParams)

	if err := h.ensureBrowser(); err != nil {
		return nil, models.NewFetchError(models.FailureBlocked, pageURL, err)
	}

	page, err := h.browser.NewPage()
	if err != nil {
		return nil, models.NewFetchError(models.FailureBlocked, pageURL, err)
	}
	defer page.Close()

	resp, err := page.Goto(pageURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(60000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		kind := models.FailureBlocked
		if strings.Contains(err.Error(), "Timeout") {
			kind = models.FailureTimeout
		}
		return nil, models.NewFetchError(kind, pageURL, err)
	}
	if resp != nil && resp.Status() == 404 {
		return nil, models.NewFetchError(models.FailureNotFound, pageURL,
			fmt.Errorf("status %d", resp.Status()))
	}

	h.acceptCookies(page)

	if h.cfg.WaitMS > 0 {
		page.WaitForTimeout(float64(h.cfg.WaitMS))
	}

	priceText := h.extractPrice(page)
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
			OfferHTML:     h.extractOffer(page),
			RedirectChain: []string{page.URL()},
			Aggregator:    h.cfg.Name,
			AggregatorURL: pageURL,
		}
	}

	return obs, nil
}

func (h *BrowserHandler) acceptCookies(page playwright.Page) {
	for _, sel := range h.cfg.CookieSelectors {
		loc := page.Locator(sel).First()
		visible, err := loc.IsVisible()
		if err != nil || !visible {
			continue
		}
		if err := loc.Click(playwright.LocatorClickOptions{
			Timeout: playwright.Float(3000),
		}); err == nil {
			page.WaitForTimeout(1500)
			return
		}
	}
}

func (h *BrowserHandler) extractPrice(page playwright.Page) string {
	for _, sel := range h.cfg.PriceSelectors {
		text, err := page.Locator(sel).First().TextContent(playwright.LocatorTextContentOptions{
			Timeout: playwright.Float(5000),
		})
		if err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (h *BrowserHandler) extractOffer(page playwright.Page) string {
	if h.cfg.OfferSelector == "" {
		return ""
	}
	html, err := page.Locator(h.cfg.OfferSelector).First().InnerHTML(playwright.LocatorInnerHTMLOptions{
		Timeout: playwright.Float(5000),
	})
	if err != nil {
		return ""
	}
	return html
}

// Close shuts the shared browser down. Safe to call when the browser was
// never started.
func (h *BrowserHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	if h.browser != nil {
		if err := h.browser.Close(); err != nil {
			firstErr = err
		}
		h.browser = nil
	}
	if h.pw != nil {
		if err := h.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		h.pw = nil
	}
	return firstErr
}
