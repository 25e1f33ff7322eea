package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bikininjas/newbuild-scraper/cache"
	"github.com/bikininjas/newbuild-scraper/config"
	"github.com/bikininjas/newbuild-scraper/httputil"
	"github.com/bikininjas/newbuild-scraper/models"
	"github.com/bikininjas/newbuild-scraper/pricing"
	"github.com/bikininjas/newbuild-scraper/resolver"
	"github.com/bikininjas/newbuild-scraper/storage"
)

// Orchestrator drives scrape runs: decides which URLs are due, fans fetches
// out over a bounded worker pool, and records every result in the ledger
// and cache. One fetch per URL at a time; results from completed fetches
// are durable even when the run is cancelled midway.
type Orchestrator struct {
	cfg        *config.Config
	store      storage.Store
	cache      *cache.Engine
	normalizer *pricing.Normalizer
	resolver   *resolver.Resolver
	clients    *httputil.Clients
	fetchers   map[string]Fetcher
	fallback   Fetcher

	mu     sync.Mutex
	paused bool
}

func NewOrchestrator(cfg *config.Config, store storage.Store) *Orchestrator {
	clients := httputil.NewClients()

	fetchers := make(map[string]Fetcher)
	for id, siteCfg := range cfg.Sites {
		fetchers[id] = NewFetcher(siteCfg, clients)
	}

	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		cache:      cache.New(store, cache.Options{
			FreshnessWindow: cfg.Cache.FreshnessWindow,
			BackoffBase:     cfg.Cache.BackoffBase,
			BackoffCeiling:  cfg.Cache.BackoffCeiling,
		}),
		normalizer: pricing.NewNormalizer(cfg.Pricing.SanityCeiling),
		resolver:   resolver.New(),
		clients:    clients,
		fetchers:   fetchers,
		fallback:   NewHTTPHandler(&config.SiteConfig{ID: "generic", Name: "Generic", PriceSelectors: genericPriceSelectors}, clients),
	}
}

// Selectors tried on sites without a dedicated config.
var genericPriceSelectors = []string{
	"[itemprop='price']",
	".price",
	".product-price",
	"#price",
}

type target struct {
	product models.Product
	url     models.SourceURL
}

// RunAll scrapes every due URL across the catalog. With selective set,
// only URLs whose last success is older than the configured threshold are
// considered, on top of the normal freshness rules.
func (o *Orchestrator) RunAll(ctx context.Context, selective bool) error {
	if o.IsPaused() {
		log.Println("Scraper is paused, skipping run")
		return nil
	}

	run := &models.ScrapeRun{
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusRunning,
		Selective: selective,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return err
	}

	products, err := o.store.GetProducts(ctx)
	if err != nil {
		o.finishRun(ctx, run, models.RunStatusFailed)
		return err
	}

	var targets []target
	for _, p := range products {
		urls, err := o.store.GetProductURLs(ctx, p.ID)
		if err != nil {
			o.finishRun(ctx, run, models.RunStatusFailed)
			return err
		}
		for _, u := range urls {
			targets = append(targets, target{product: p, url: u})
		}
	}

	return o.runTargets(ctx, run, targets, selective)
}

// RunProduct scrapes one product's URLs regardless of pause state, still
// honoring per-URL freshness.
func (o *Orchestrator) RunProduct(ctx context.Context, name string, selective bool) error {
	product, err := o.store.GetProductByName(ctx, name)
	if err != nil {
		return err
	}

	urls, err := o.store.GetProductURLs(ctx, product.ID)
	if err != nil {
		return err
	}

	run := &models.ScrapeRun{
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusRunning,
		Selective: selective,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return err
	}

	targets := make([]target, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, target{product: *product, url: u})
	}
	return o.runTargets(ctx, run, targets, selective)
}

func (o *Orchestrator) runTargets(ctx context.Context, run *models.ScrapeRun, targets []target, selective bool) error {
	threshold := time.Duration(0)
	if selective {
		threshold = o.cfg.Cache.SelectiveThreshold
	}

	now := time.Now().UTC()
	var due []target
	for _, t := range targets {
		isDue, err := o.cache.IsDue(ctx, t.url.URL, now, threshold)
		if err != nil {
			o.logRun(ctx, run, models.LogLevelError,
				fmt.Sprintf("cache check failed for %s: %v", t.url.URL, err), t.url.SiteName)
			continue
		}
		if isDue {
			due = append(due, t)
		} else {
			run.URLsSkipped++
		}
	}
	run.URLsDue = len(due)

	o.logRun(ctx, run, models.LogLevelInfo,
		fmt.Sprintf("Run starting: %d due, %d skipped", len(due), run.URLsSkipped), "")

	var statsMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Scraper.Workers)

	for _, t := range due {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := o.scrapeOne(gctx, run, t)
			statsMu.Lock()
			if res.fetched {
				run.URLsFetched++
			}
			if res.appended {
				run.Observations++
			}
			if res.failed {
				run.ErrorsCount++
			}
			statsMu.Unlock()

			if o.cfg.Scraper.DelayMS > 0 {
				select {
				case <-time.After(time.Duration(o.cfg.Scraper.DelayMS) * time.Millisecond):
				case <-gctx.Done():
				}
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		// Workers tolerate cancellation mid-fetch, so surface it here.
		err = ctx.Err()
	}
	status := models.RunStatusCompleted
	if err != nil {
		if errors.Is(err, context.Canceled) {
			status = models.RunStatusCancelled
		} else {
			status = models.RunStatusFailed
		}
	}
	// Close out the run even when it was cancelled; the row must not be
	// left in running status.
	rctx := context.WithoutCancel(ctx)
	o.finishRun(rctx, run, status)

	o.logRun(rctx, run, models.LogLevelInfo,
		fmt.Sprintf("Run %s: %d fetched, %d observations, %d errors",
			status, run.URLsFetched, run.Observations, run.ErrorsCount), "")
	return err
}

// scrapeResult reports what scrapeOne did for one URL. fetched means the
// fetch ran to completion (success or site failure), appended means a new
// ledger row was written, failed means the attempt counts as an error.
type scrapeResult struct {
	fetched  bool
	appended bool
	failed   bool
}

// scrapeOne performs the full pipeline for one URL: acquire the per-URL
// lock, fetch, resolve the vendor, normalize the price, append to history
// and update cache state.
func (o *Orchestrator) scrapeOne(ctx context.Context, run *models.ScrapeRun, t target) scrapeResult {
	if !o.cache.TryAcquire(t.url.URL) {
		return scrapeResult{}
	}
	defer o.cache.Release(t.url.URL)

	// Once the fetch has run, its outcome is recorded on a detached
	// context so cancelling the run never loses a completed result.
	rctx := context.WithoutCancel(ctx)

	fetcher := o.fetcherFor(t.url.URL)
	raw, err := fetcher.Fetch(ctx, t.url.URL)
	if err != nil {
		if ctx.Err() != nil {
			// The run was aborted, not the site misbehaving. Leave the
			// cache entry alone so the abort does not inflate backoff.
			o.logRun(rctx, run, models.LogLevelInfo,
				fmt.Sprintf("Fetch aborted for %s", t.url.URL), t.url.SiteName)
			return scrapeResult{}
		}
		backoff, recErr := o.cache.RecordFailure(rctx, t.url.URL, time.Now().UTC())
		if recErr != nil {
			o.logRun(rctx, run, models.LogLevelError,
				fmt.Sprintf("record failure for %s: %v", t.url.URL, recErr), t.url.SiteName)
		}
		var fetchErr *models.FetchError
		kind := "error"
		if errors.As(err, &fetchErr) {
			kind = string(fetchErr.Kind)
		}
		o.logRun(rctx, run, models.LogLevelWarn,
			fmt.Sprintf("Fetch failed (%s) for %s, retry in %s", kind, t.url.URL, backoff), t.url.SiteName)
		return scrapeResult{fetched: true, failed: true}
	}

	price, err := o.normalizer.Normalize(raw.PriceText)
	if err != nil {
		// Unparseable price counts as a fetch failure for backoff purposes.
		backoff, recErr := o.cache.RecordFailure(rctx, t.url.URL, time.Now().UTC())
		if recErr != nil {
			o.logRun(rctx, run, models.LogLevelError,
				fmt.Sprintf("record failure for %s: %v", t.url.URL, recErr), t.url.SiteName)
		}
		o.logRun(rctx, run, models.LogLevelWarn,
			fmt.Sprintf("Unparseable price %q for %s, retry in %s", raw.PriceText, t.url.URL, backoff), t.url.SiteName)
		return scrapeResult{fetched: true, failed: true}
	}

	obs := &models.PriceObservation{
		ProductID: t.product.ID,
		URL:       t.url.URL,
		SiteName:  t.url.SiteName,
		Price:     price,
		ScrapedAt: raw.FetchedAt,
	}

	if raw.Signals != nil {
		vendor := o.resolver.Resolve(raw.Signals)
		obs.VendorName = vendor.Name
		obs.VendorURL = vendor.URL
		obs.IsMarketplace = vendor.IsMarketplace
		obs.IsPrimeEligible = vendor.IsPrimeEligible
		obs.LowConfidence = vendor.LowConfidence
		if vendor.LowConfidence {
			o.logRun(rctx, run, models.LogLevelWarn,
				fmt.Sprintf("Vendor resolution fell back to aggregator for %s", t.url.URL), t.url.SiteName)
		}
	}

	appended := true
	if err := o.store.AppendObservation(rctx, obs); err != nil {
		if errors.Is(err, storage.ErrDuplicateObservation) {
			appended = false
			o.logRun(rctx, run, models.LogLevelInfo,
				fmt.Sprintf("Duplicate observation for %s at %s", t.url.URL, obs.ScrapedAt), t.url.SiteName)
		} else {
			o.logRun(rctx, run, models.LogLevelError,
				fmt.Sprintf("Append failed for %s: %v", t.url.URL, err), t.url.SiteName)
			return scrapeResult{fetched: true, failed: true}
		}
	}

	if err := o.cache.RecordSuccess(rctx, t.url.URL, price, raw.FetchedAt); err != nil {
		o.logRun(rctx, run, models.LogLevelError,
			fmt.Sprintf("record success for %s: %v", t.url.URL, err), t.url.SiteName)
	}

	o.logRun(rctx, run, models.LogLevelInfo,
		fmt.Sprintf("%s: %.2f", t.product.Name, price), t.url.SiteName)
	return scrapeResult{fetched: true, appended: appended}
}

func (o *Orchestrator) fetcherFor(url string) Fetcher {
	if site := o.cfg.SiteFor(url); site != nil {
		if f, ok := o.fetchers[site.ID]; ok {
			return f
		}
	}
	return o.fallback
}

func (o *Orchestrator) finishRun(ctx context.Context, run *models.ScrapeRun, status models.RunStatus) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = status
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		log.Printf("update run %s: %v", run.ID, err)
	}
}

// HandleCommand executes one queued operator command.
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	var params models.CommandParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return fmt.Errorf("parse command params: %w", err)
		}
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		return o.RunAll(ctx, params.Selective)
	case models.CmdScrapeProduct:
		if params.Product != "" {
			return o.RunProduct(ctx, params.Product, params.Selective)
		}
		return o.RunAll(ctx, params.Selective)
	case models.CmdPause:
		o.setPaused(true)
		log.Println("Scraper paused")
	case models.CmdResume:
		o.setPaused(false)
		log.Println("Scraper resumed")
	}

	return nil
}

func (o *Orchestrator) setPaused(v bool) {
	o.mu.Lock()
	o.paused = v
	o.mu.Unlock()
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// Close releases any browser handlers that were started.
func (o *Orchestrator) Close() {
	for _, f := range o.fetchers {
		if bh, ok := f.(*BrowserHandler); ok {
			if err := bh.Close(); err != nil {
				log.Printf("close browser for %s: %v", bh.ID(), err)
			}
		}
	}
}

func (o *Orchestrator) logRun(ctx context.Context, run *models.ScrapeRun, level models.LogLevel, message, siteName string) {
	if siteName != "" {
		log.Printf("[%s] %s: %s", level, siteName, message)
	} else {
		log.Printf("[%s] %s", level, message)
	}
	if err := o.store.Log(ctx, &run.ID, level, message, siteName); err != nil {
		log.Printf("persist log: %v", err)
	}
}
