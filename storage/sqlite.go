package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bikininjas/newbuild-scraper/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT 'Other',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS urls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL,
		url TEXT NOT NULL UNIQUE,
		site_name TEXT NOT NULL,
		active BOOLEAN DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (product_id) REFERENCES products(id)
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL,
		url TEXT NOT NULL,
		site_name TEXT NOT NULL,
		price REAL NOT NULL,
		vendor_name TEXT,
		vendor_url TEXT,
		is_marketplace BOOLEAN DEFAULT 0,
		is_prime_eligible BOOLEAN DEFAULT 0,
		low_confidence BOOLEAN DEFAULT 0,
		scraped_at DATETIME NOT NULL,
		FOREIGN KEY (product_id) REFERENCES products(id),
		UNIQUE(product_id, url, scraped_at)
	);

	CREATE TABLE IF NOT EXISTS cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		last_fetched DATETIME,
		last_success DATETIME,
		cached_price REAL,
		attempts INTEGER DEFAULT 0,
		next_retry DATETIME
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		selective BOOLEAN DEFAULT 0,
		urls_due INTEGER DEFAULT 0,
		urls_fetched INTEGER DEFAULT 0,
		urls_skipped INTEGER DEFAULT 0,
		observations INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		site_name TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_urls_product ON urls(product_id);
	CREATE INDEX IF NOT EXISTS idx_history_product ON price_history(product_id, scraped_at);
	CREATE INDEX IF NOT EXISTS idx_history_url ON price_history(url, scraped_at);
	CREATE INDEX IF NOT EXISTS idx_cache_url ON cache(url);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON run_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, name, category string) (*models.Product, error) {
	name = models.NormalizeName(name)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (name, category) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			category = CASE WHEN excluded.category != '' THEN excluded.category ELSE category END,
			updated_at = CURRENT_TIMESTAMP`,
		name, category)
	if err != nil {
		return nil, err
	}
	return s.GetProductByName(ctx, name)
}

func (s *SQLiteStore) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, created_at, updated_at
		FROM products WHERE name = ?`, models.NormalizeName(name))

	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, created_at, updated_at
		FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *SQLiteStore) AddSourceURL(ctx context.Context, productID int64, url string) (*models.SourceURL, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO urls (product_id, url, site_name)
		VALUES (?, ?, ?)`,
		productID, url, models.SiteLabel(url))
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, url, site_name, active, created_at
		FROM urls WHERE url = ?`, url)

	var u models.SourceURL
	if err := row.Scan(&u.ID, &u.ProductID, &u.URL, &u.SiteName, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) DeactivateURL(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE urls SET active = 0 WHERE url = ?`, url)
	return err
}

// GetProductURLs returns the product's active URLs in registration order,
// which is also the tie-break order for best-price selection.
func (s *SQLiteStore) GetProductURLs(ctx context.Context, productID int64) ([]models.SourceURL, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, url, site_name, active, created_at
		FROM urls WHERE product_id = ? AND active = 1 ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []models.SourceURL
	for rows.Next() {
		var u models.SourceURL
		if err := rows.Scan(&u.ID, &u.ProductID, &u.URL, &u.SiteName, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (s *SQLiteStore) AppendObservation(ctx context.Context, obs *models.PriceObservation) error {
	if err := ValidatePrice(obs.Price); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO price_history
			(product_id, url, site_name, price, vendor_name, vendor_url,
			 is_marketplace, is_prime_eligible, low_confidence, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ProductID, obs.URL, obs.SiteName, obs.Price, obs.VendorName, obs.VendorURL,
		obs.IsMarketplace, obs.IsPrimeEligible, obs.LowConfidence, obs.ScrapedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateObservation
		}
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDuplicateObservation
	}

	id, err := result.LastInsertId()
	if err == nil {
		obs.ID = id
	}
	return nil
}

// LatestObservations returns the most recent observation per source URL of
// the product, in URL registration order.
func (s *SQLiteStore) LatestObservations(ctx context.Context, productID int64) ([]models.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ph.id, ph.product_id, ph.url, ph.site_name, ph.price,
			COALESCE(ph.vendor_name, ''), COALESCE(ph.vendor_url, ''),
			ph.is_marketplace, ph.is_prime_eligible, ph.low_confidence, ph.scraped_at
		FROM price_history ph
		LEFT JOIN urls u ON u.url = ph.url
		WHERE ph.product_id = ?
		AND ph.id = (
			SELECT id FROM price_history
			WHERE product_id = ph.product_id AND url = ph.url
			ORDER BY scraped_at DESC, id DESC LIMIT 1
		)
		ORDER BY u.id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservations(rows)
}

func (s *SQLiteStore) ObservationsInRange(ctx context.Context, productID int64, from, to time.Time) ([]models.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, url, site_name, price,
			COALESCE(vendor_name, ''), COALESCE(vendor_url, ''),
			is_marketplace, is_prime_eligible, low_confidence, scraped_at
		FROM price_history
		WHERE product_id = ? AND scraped_at >= ? AND scraped_at <= ?
		ORDER BY scraped_at, id`, productID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservations(rows)
}

func scanObservations(rows *sql.Rows) ([]models.PriceObservation, error) {
	var observations []models.PriceObservation
	for rows.Next() {
		var o models.PriceObservation
		if err := rows.Scan(&o.ID, &o.ProductID, &o.URL, &o.SiteName, &o.Price,
			&o.VendorName, &o.VendorURL, &o.IsMarketplace, &o.IsPrimeEligible,
			&o.LowConfidence, &o.ScrapedAt); err != nil {
			return nil, err
		}
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, url string) (*models.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, last_fetched, last_success, cached_price, attempts, next_retry
		FROM cache WHERE url = ?`, url)

	var e models.CacheEntry
	var lastSuccess, nextRetry sql.NullTime
	var cachedPrice sql.NullFloat64
	err := row.Scan(&e.ID, &e.URL, &e.LastFetched, &lastSuccess, &cachedPrice, &e.Attempts, &nextRetry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastSuccess.Valid {
		e.LastSuccess = &lastSuccess.Time
	}
	if cachedPrice.Valid {
		e.CachedPrice = &cachedPrice.Float64
	}
	if nextRetry.Valid {
		e.NextRetry = &nextRetry.Time
	}
	return &e, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	var lastSuccess, nextRetry interface{}
	if entry.LastSuccess != nil {
		lastSuccess = entry.LastSuccess.UTC()
	}
	if entry.NextRetry != nil {
		nextRetry = entry.NextRetry.UTC()
	}
	var cachedPrice interface{}
	if entry.CachedPrice != nil {
		cachedPrice = *entry.CachedPrice
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache (url, last_fetched, last_success, cached_price, attempts, next_retry)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			last_fetched = excluded.last_fetched,
			last_success = excluded.last_success,
			cached_price = excluded.cached_price,
			attempts = excluded.attempts,
			next_retry = excluded.next_retry`,
		entry.URL, entry.LastFetched.UTC(), lastSuccess, cachedPrice, entry.Attempts, nextRetry)
	return err
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, selective)
		VALUES (?, ?, ?, ?)`,
		run.ID.String(), run.StartedAt.UTC(), run.Status, run.Selective)
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.ScrapeRun) error {
	var finished interface{}
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, urls_due = ?, urls_fetched = ?,
			urls_skipped = ?, observations = ?, errors_count = ?
		WHERE id = ?`,
		finished, run.Status, run.URLsDue, run.URLsFetched,
		run.URLsSkipped, run.Observations, run.ErrorsCount, run.ID.String())
	return err
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*models.ScrapeRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, selective, urls_due,
			urls_fetched, urls_skipped, observations, errors_count
		FROM runs ORDER BY started_at DESC LIMIT 1`)

	var r models.ScrapeRun
	var id string
	var finished sql.NullTime
	err := row.Scan(&id, &r.StartedAt, &finished, &r.Status, &r.Selective,
		&r.URLsDue, &r.URLsFetched, &r.URLsSkipped, &r.Observations, &r.ErrorsCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

func (s *SQLiteStore) Log(ctx context.Context, runID *uuid.UUID, level models.LogLevel, message, siteName string) error {
	var id interface{}
	if runID != nil {
		id = runID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, site_name)
		VALUES (?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), level, message, siteName)
	return err
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		var processed sql.NullTime
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &processed); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = []byte(params.String)
		}
		if processed.Valid {
			cmd.ProcessedAt = &processed.Time
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}
