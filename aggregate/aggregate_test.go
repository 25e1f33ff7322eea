package aggregate

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bikininjas/newbuild-scraper/models"
	"github.com/bikininjas/newbuild-scraper/storage"
)

// fakeStore implements storage.Store over in-memory slices. Only the read
// paths the aggregation engine touches do real work.
type fakeStore struct {
	products     []models.Product
	urls         map[int64][]models.SourceURL
	observations map[int64][]models.PriceObservation
}

var _ storage.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		urls:         make(map[int64][]models.SourceURL),
		observations: make(map[int64][]models.PriceObservation),
	}
}

func (f *fakeStore) addProduct(name, category string, urls ...string) int64 {
	id := int64(len(f.products) + 1)
	f.products = append(f.products, models.Product{ID: id, Name: name, Category: category})
	for i, u := range urls {
		f.urls[id] = append(f.urls[id], models.SourceURL{
			ID: id*100 + int64(i), ProductID: id, URL: u, SiteName: models.SiteLabel(u), Active: true,
		})
	}
	return id
}

func (f *fakeStore) addObs(productID int64, url string, price float64, ts time.Time) {
	f.observations[productID] = append(f.observations[productID], models.PriceObservation{
		ProductID: productID, URL: url, Price: price, ScrapedAt: ts,
	})
}

func (f *fakeStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	return f.products, nil
}

func (f *fakeStore) LatestObservations(ctx context.Context, productID int64) ([]models.PriceObservation, error) {
	latest := map[string]models.PriceObservation{}
	for _, o := range f.observations[productID] {
		if cur, ok := latest[o.URL]; !ok || o.ScrapedAt.After(cur.ScrapedAt) {
			latest[o.URL] = o
		}
	}
	// Registration order.
	var out []models.PriceObservation
	for _, u := range f.urls[productID] {
		if o, ok := latest[u.URL]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) ObservationsInRange(ctx context.Context, productID int64, from, to time.Time) ([]models.PriceObservation, error) {
	var out []models.PriceObservation
	for _, o := range f.observations[productID] {
		if !o.ScrapedAt.Before(from) && !o.ScrapedAt.After(to) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScrapedAt.Before(out[j].ScrapedAt) })
	return out, nil
}

func (f *fakeStore) UpsertProduct(ctx context.Context, name, category string) (*models.Product, error) {
	return nil, nil
}
func (f *fakeStore) AddSourceURL(ctx context.Context, productID int64, url string) (*models.SourceURL, error) {
	return nil, nil
}
func (f *fakeStore) DeactivateURL(ctx context.Context, url string) error { return nil }
func (f *fakeStore) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	return nil, storage.ErrProductNotFound
}
func (f *fakeStore) GetProductURLs(ctx context.Context, productID int64) ([]models.SourceURL, error) {
	return f.urls[productID], nil
}
func (f *fakeStore) AppendObservation(ctx context.Context, obs *models.PriceObservation) error {
	return nil
}
func (f *fakeStore) GetCacheEntry(ctx context.Context, url string) (*models.CacheEntry, error) {
	return nil, nil
}
func (f *fakeStore) PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error { return nil }
func (f *fakeStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error        { return nil }
func (f *fakeStore) UpdateRun(ctx context.Context, run *models.ScrapeRun) error        { return nil }
func (f *fakeStore) LatestRun(ctx context.Context) (*models.ScrapeRun, error)          { return nil, nil }
func (f *fakeStore) Log(ctx context.Context, runID *uuid.UUID, level models.LogLevel, message, siteName string) error {
	return nil
}
func (f *fakeStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	return nil, nil
}
func (f *fakeStore) MarkCommandProcessed(ctx context.Context, id int64) error { return nil }
func (f *fakeStore) Close() error                                             { return nil }

var base = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func TestBestPrice_TieBreaksByRegistrationOrder(t *testing.T) {
	store := newFakeStore()
	id := store.addProduct("Widget", "CPU", "https://a.example.com", "https://b.example.com")
	store.addObs(id, "https://b.example.com", 579.95, base)
	store.addObs(id, "https://a.example.com", 579.95, base)

	engine := NewEngine(store, nil)
	best, err := engine.BestPrice(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if best == nil {
		t.Fatal("expected a best price")
	}
	if best.URL != "https://a.example.com" {
		t.Fatalf("tie went to %s, want earliest-registered URL", best.URL)
	}
	if best.Price != 579.95 {
		t.Fatalf("best price = %v", best.Price)
	}
}

func TestBestPrice_NoObservations(t *testing.T) {
	store := newFakeStore()
	id := store.addProduct("Widget", "CPU", "https://a.example.com")

	engine := NewEngine(store, nil)
	best, err := engine.BestPrice(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if best != nil {
		t.Fatalf("expected nil best price, got %+v", best)
	}
}

func TestCategories_ExcludedStillReported(t *testing.T) {
	store := newFakeStore()
	cpu := store.addProduct("Ryzen", "CPU", "https://a.example.com")
	kit := store.addProduct("Bundle", "Upgrade Kit", "https://b.example.com")
	store.addObs(cpu, "https://a.example.com", 450, base)
	store.addObs(kit, "https://b.example.com", 199.99, base)

	engine := NewEngine(store, []string{"Upgrade Kit"})
	cats, err := engine.Categories(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(cats))
	}

	var kitCat *CategorySummary
	for i := range cats {
		if cats[i].Category == "Upgrade Kit" {
			kitCat = &cats[i]
		}
	}
	if kitCat == nil {
		t.Fatal("excluded category missing from summary")
	}
	if !kitCat.Excluded {
		t.Fatal("excluded flag not set")
	}
	if kitCat.Cheapest.Best.Price != 199.99 {
		t.Fatalf("cheapest in excluded category = %v", kitCat.Cheapest.Best.Price)
	}
}

func TestTotalSeries_ConsistencyAndExclusion(t *testing.T) {
	store := newFakeStore()
	cpu := store.addProduct("Ryzen", "CPU", "https://a.example.com")
	gpu := store.addProduct("Radeon", "GPU", "https://b.example.com")
	kit := store.addProduct("Bundle", "Upgrade Kit", "https://c.example.com")

	store.addObs(cpu, "https://a.example.com", 450, base)
	store.addObs(cpu, "https://a.example.com", 440, base.Add(12*time.Hour))
	// GPU only appears at the second timestamp.
	store.addObs(gpu, "https://b.example.com", 700, base.Add(12*time.Hour))
	store.addObs(kit, "https://c.example.com", 199.99, base)

	engine := NewEngine(store, []string{"Upgrade Kit"})
	ctx := context.Background()
	totals, err := engine.TotalSeries(ctx, base.Add(-time.Hour), base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 2 {
		t.Fatalf("expected 2 total points, got %d", len(totals))
	}

	// First point: only the CPU has an observation; the GPU contributes
	// nothing, not zero. The kit never contributes.
	if totals[0].Price != 450 {
		t.Fatalf("first total = %v, want 450", totals[0].Price)
	}

	// Latest point must equal the sum of current best prices of included
	// products.
	cpuBest, _ := engine.BestPrice(ctx, cpu)
	gpuBest, _ := engine.BestPrice(ctx, gpu)
	wantLast := cpuBest.Price + gpuBest.Price
	if totals[len(totals)-1].Price != wantLast {
		t.Fatalf("last total = %v, want %v", totals[len(totals)-1].Price, wantLast)
	}
}

func TestPriceDirection(t *testing.T) {
	store := newFakeStore()
	id := store.addProduct("Widget", "CPU", "https://a.example.com")
	store.addObs(id, "https://a.example.com", 600, base)
	store.addObs(id, "https://a.example.com", 580, base.Add(6*time.Hour))

	engine := NewEngine(store, nil)
	dir, err := engine.PriceDirection(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if dir != DirectionDecrease {
		t.Fatalf("direction = %s, want decrease", dir)
	}

	store.addObs(id, "https://a.example.com", 580, base.Add(12*time.Hour))
	dir, _ = engine.PriceDirection(context.Background(), id)
	if dir != DirectionUnchanged {
		t.Fatalf("direction = %s, want unchanged", dir)
	}

	store.addObs(id, "https://a.example.com", 595, base.Add(18*time.Hour))
	dir, _ = engine.PriceDirection(context.Background(), id)
	if dir != DirectionIncrease {
		t.Fatalf("direction = %s, want increase", dir)
	}
}

func TestForwardFill_NonDestructive(t *testing.T) {
	points := []models.SeriesPoint{
		{Timestamp: base, Price: 600},
		{Timestamp: base.Add(12 * time.Hour), Price: 580},
	}
	grid := []time.Time{
		base.Add(-6 * time.Hour),
		base,
		base.Add(6 * time.Hour),
		base.Add(12 * time.Hour),
		base.Add(18 * time.Hour),
	}

	filled := ForwardFill(points, grid)

	// Grid slots before the first observation are omitted, gaps carry the
	// prior value forward.
	want := []models.SeriesPoint{
		{Timestamp: base, Price: 600},
		{Timestamp: base.Add(6 * time.Hour), Price: 600},
		{Timestamp: base.Add(12 * time.Hour), Price: 580},
		{Timestamp: base.Add(18 * time.Hour), Price: 580},
	}
	if len(filled) != len(want) {
		t.Fatalf("filled length = %d, want %d", len(filled), len(want))
	}
	for i := range want {
		if !filled[i].Timestamp.Equal(want[i].Timestamp) || filled[i].Price != want[i].Price {
			t.Fatalf("filled[%d] = %+v, want %+v", i, filled[i], want[i])
		}
	}

	// The input series is untouched.
	if len(points) != 2 || points[0].Price != 600 || points[1].Price != 580 {
		t.Fatalf("forward fill mutated the source series: %+v", points)
	}
}
