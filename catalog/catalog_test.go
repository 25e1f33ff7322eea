package catalog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bikininjas/newbuild-scraper/models"
	"github.com/bikininjas/newbuild-scraper/storage"
)

// recordingStore captures catalog writes.
type recordingStore struct {
	products map[string]*models.Product
	urls     map[int64][]string
	nextID   int64
}

var _ storage.Store = (*recordingStore)(nil)

func newRecordingStore() *recordingStore {
	return &recordingStore{
		products: make(map[string]*models.Product),
		urls:     make(map[int64][]string),
	}
}

func (r *recordingStore) UpsertProduct(ctx context.Context, name, category string) (*models.Product, error) {
	name = models.NormalizeName(name)
	if p, ok := r.products[name]; ok {
		if category != "" {
			p.Category = category
		}
		return p, nil
	}
	r.nextID++
	p := &models.Product{ID: r.nextID, Name: name, Category: category}
	r.products[name] = p
	return p, nil
}

func (r *recordingStore) AddSourceURL(ctx context.Context, productID int64, url string) (*models.SourceURL, error) {
	for _, existing := range r.urls[productID] {
		if existing == url {
			return &models.SourceURL{ProductID: productID, URL: url}, nil
		}
	}
	r.urls[productID] = append(r.urls[productID], url)
	return &models.SourceURL{ProductID: productID, URL: url}, nil
}

func (r *recordingStore) DeactivateURL(ctx context.Context, url string) error { return nil }
func (r *recordingStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	return nil, nil
}
func (r *recordingStore) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	return nil, storage.ErrProductNotFound
}
func (r *recordingStore) GetProductURLs(ctx context.Context, productID int64) ([]models.SourceURL, error) {
	return nil, nil
}
func (r *recordingStore) AppendObservation(ctx context.Context, obs *models.PriceObservation) error {
	return nil
}
func (r *recordingStore) LatestObservations(ctx context.Context, productID int64) ([]models.PriceObservation, error) {
	return nil, nil
}
func (r *recordingStore) ObservationsInRange(ctx context.Context, productID int64, from, to time.Time) ([]models.PriceObservation, error) {
	return nil, nil
}
func (r *recordingStore) GetCacheEntry(ctx context.Context, url string) (*models.CacheEntry, error) {
	return nil, nil
}
func (r *recordingStore) PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	return nil
}
func (r *recordingStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error { return nil }
func (r *recordingStore) UpdateRun(ctx context.Context, run *models.ScrapeRun) error { return nil }
func (r *recordingStore) LatestRun(ctx context.Context) (*models.ScrapeRun, error) {
	return nil, nil
}
func (r *recordingStore) Log(ctx context.Context, runID *uuid.UUID, level models.LogLevel, message, siteName string) error {
	return nil
}
func (r *recordingStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	return nil, nil
}
func (r *recordingStore) MarkCommandProcessed(ctx context.Context, id int64) error { return nil }
func (r *recordingStore) Close() error                                             { return nil }

const sampleCatalog = `{
	"version": 1,
	"products": [
		{
			"name": "AMD Ryzen 7 9800X3D",
			"category": "CPU",
			"urls": [
				"https://www.ldlc.com/ryzen-9800x3d",
				"https://www.amazon.fr/dp/B0000"
			]
		},
		{
			"name": "Samsung 990 EVO 1TB NVMe",
			"urls": ["https://www.topachat.com/990-evo"]
		},
		{
			"name": "",
			"urls": ["https://www.example.com/unnamed"]
		},
		{
			"name": "No URLs",
			"urls": []
		},
		{
			"name": "Bad scheme",
			"urls": ["ftp://files.example.com/thing"]
		}
	]
}`

func TestImport_SkipsBadEntriesAndMerges(t *testing.T) {
	f, err := Load(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	store := newRecordingStore()
	res, err := Import(context.Background(), store, f)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if res.Products != 2 {
		t.Fatalf("imported %d products, want 2", res.Products)
	}
	if res.URLs != 3 {
		t.Fatalf("imported %d URLs, want 3", res.URLs)
	}
	if len(res.Skipped) != 3 {
		t.Fatalf("skipped %d entries, want 3: %v", len(res.Skipped), res.Skipped)
	}

	// Missing category gets inferred from the name.
	ssd := store.products["Samsung 990 EVO 1TB NVMe"]
	if ssd == nil {
		t.Fatal("SSD product not imported")
	}
	if ssd.Category != "SSD" {
		t.Fatalf("inferred category = %s, want SSD", ssd.Category)
	}
}

func TestImport_AdditiveOnReimport(t *testing.T) {
	store := newRecordingStore()
	ctx := context.Background()

	first := &File{Version: 1, Products: []Entry{
		{Name: "Widget", Category: "CPU", URLs: []string{"https://a.example.com"}},
	}}
	if _, err := Import(ctx, store, first); err != nil {
		t.Fatal(err)
	}

	second := &File{Version: 1, Products: []Entry{
		{Name: "Widget", Category: "CPU", URLs: []string{"https://a.example.com", "https://b.example.com"}},
	}}
	if _, err := Import(ctx, store, second); err != nil {
		t.Fatal(err)
	}

	p := store.products["Widget"]
	if p == nil {
		t.Fatal("product missing")
	}
	urls := store.urls[p.ID]
	if len(urls) != 2 {
		t.Fatalf("urls after re-import = %v, want both kept once", urls)
	}
}

func TestLoad_RejectsWrongVersion(t *testing.T) {
	_, err := Load(strings.NewReader(`{"version": 99, "products": []}`))
	if err == nil {
		t.Fatal("expected version rejection")
	}
}

func TestInferCategory(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"AMD Ryzen 7 9800X3D", "CPU"},
		{"Sapphire Pulse Radeon RX 9070 XT", "GPU"},
		{"Corsair Vengeance DDR5 32GB", "RAM"},
		{"Samsung 990 EVO 1TB NVMe", "SSD"},
		{"Thermalright Phantom Spirit 120", "Cooler"},
		{"Upgrade Kit AM5 Deluxe", "Upgrade Kit"},
		{"Mystery Gadget", "Other"},
	}
	for _, tc := range cases {
		if got := InferCategory(tc.name); got != tc.want {
			t.Fatalf("InferCategory(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
