package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bikininjas/newbuild-scraper/models"
)

// PostgresStore is the hosted-deployment backend. Schema mirrors the SQLite
// store; migrations are managed out of band.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, name, category string) (*models.Product, error) {
	name = models.NormalizeName(name)
	var p models.Product
	err := s.pool.QueryRow(ctx, `
		INSERT INTO products (name, category)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET
			category = CASE WHEN EXCLUDED.category != '' THEN EXCLUDED.category ELSE products.category END,
			updated_at = NOW()
		RETURNING id, name, category, created_at, updated_at`,
		name, category).Scan(&p.ID, &p.Name, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	var p models.Product
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, category, created_at, updated_at
		FROM products WHERE name = $1`, models.NormalizeName(name)).
		Scan(&p.ID, &p.Name, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.pool.Query(ctx, `
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

func (s *PostgresStore) AddSourceURL(ctx context.Context, productID int64, url string) (*models.SourceURL, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO urls (product_id, url, site_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO NOTHING`,
		productID, url, models.SiteLabel(url))
	if err != nil {
		return nil, err
	}

	var u models.SourceURL
	err = s.pool.QueryRow(ctx, `
		SELECT id, product_id, url, site_name, active, created_at
		FROM urls WHERE url = $1`, url).
		Scan(&u.ID, &u.ProductID, &u.URL, &u.SiteName, &u.Active, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) DeactivateURL(ctx context.Context, url string) error {
	_, err := s.pool.Exec(ctx, `UPDATE urls SET active = FALSE WHERE url = $1`, url)
	return err
}

func (s *PostgresStore) GetProductURLs(ctx context.Context, productID int64) ([]models.SourceURL, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, url, site_name, active, created_at
		FROM urls WHERE product_id = $1 AND active ORDER BY id`, productID)
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

func (s *PostgresStore) AppendObservation(ctx context.Context, obs *models.PriceObservation) error {
	if err := ValidatePrice(obs.Price); err != nil {
		return err
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO price_history
			(product_id, url, site_name, price, vendor_name, vendor_url,
			 is_marketplace, is_prime_eligible, low_confidence, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		obs.ProductID, obs.URL, obs.SiteName, obs.Price, obs.VendorName, obs.VendorURL,
		obs.IsMarketplace, obs.IsPrimeEligible, obs.LowConfidence, obs.ScrapedAt.UTC()).
		Scan(&obs.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateObservation
		}
		return err
	}
	return nil
}

func (s *PostgresStore) LatestObservations(ctx context.Context, productID int64) ([]models.PriceObservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (ph.url)
			ph.id, ph.product_id, ph.url, ph.site_name, ph.price,
			COALESCE(ph.vendor_name, ''), COALESCE(ph.vendor_url, ''),
			ph.is_marketplace, ph.is_prime_eligible, ph.low_confidence, ph.scraped_at,
			u.id AS url_order
		FROM price_history ph
		LEFT JOIN urls u ON u.url = ph.url
		WHERE ph.product_id = $1
		ORDER BY ph.url, ph.scraped_at DESC, ph.id DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type ordered struct {
		obs   models.PriceObservation
		order int64
	}
	var all []ordered
	for rows.Next() {
		var o models.PriceObservation
		var urlOrder *int64
		if err := rows.Scan(&o.ID, &o.ProductID, &o.URL, &o.SiteName, &o.Price,
			&o.VendorName, &o.VendorURL, &o.IsMarketplace, &o.IsPrimeEligible,
			&o.LowConfidence, &o.ScrapedAt, &urlOrder); err != nil {
			return nil, err
		}
		order := int64(1<<62 - 1)
		if urlOrder != nil {
			order = *urlOrder
		}
		all = append(all, ordered{o, order})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Registration order, same contract as the SQLite store.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].order < all[j-1].order; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	observations := make([]models.PriceObservation, 0, len(all))
	for _, a := range all {
		observations = append(observations, a.obs)
	}
	return observations, nil
}

func (s *PostgresStore) ObservationsInRange(ctx context.Context, productID int64, from, to time.Time) ([]models.PriceObservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, url, site_name, price,
			COALESCE(vendor_name, ''), COALESCE(vendor_url, ''),
			is_marketplace, is_prime_eligible, low_confidence, scraped_at
		FROM price_history
		WHERE product_id = $1 AND scraped_at >= $2 AND scraped_at <= $3
		ORDER BY scraped_at, id`, productID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (s *PostgresStore) GetCacheEntry(ctx context.Context, url string) (*models.CacheEntry, error) {
	var e models.CacheEntry
	err := s.pool.QueryRow(ctx, `
		SELECT id, url, last_fetched, last_success, cached_price, attempts, next_retry
		FROM cache WHERE url = $1`, url).
		Scan(&e.ID, &e.URL, &e.LastFetched, &e.LastSuccess, &e.CachedPrice, &e.Attempts, &e.NextRetry)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache (url, last_fetched, last_success, cached_price, attempts, next_retry)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url) DO UPDATE SET
			last_fetched = EXCLUDED.last_fetched,
			last_success = EXCLUDED.last_success,
			cached_price = EXCLUDED.cached_price,
			attempts = EXCLUDED.attempts,
			next_retry = EXCLUDED.next_retry`,
		entry.URL, entry.LastFetched.UTC(), entry.LastSuccess, entry.CachedPrice,
		entry.Attempts, entry.NextRetry)
	return err
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, started_at, status, selective)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.StartedAt.UTC(), run.Status, run.Selective)
	return err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs SET finished_at = $1, status = $2, urls_due = $3, urls_fetched = $4,
			urls_skipped = $5, observations = $6, errors_count = $7
		WHERE id = $8`,
		run.FinishedAt, run.Status, run.URLsDue, run.URLsFetched,
		run.URLsSkipped, run.Observations, run.ErrorsCount, run.ID)
	return err
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*models.ScrapeRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, started_at, finished_at, status, selective, urls_due,
			urls_fetched, urls_skipped, observations, errors_count
		FROM runs ORDER BY started_at DESC LIMIT 1`)

	var r models.ScrapeRun
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Selective,
		&r.URLsDue, &r.URLsFetched, &r.URLsSkipped, &r.Observations, &r.ErrorsCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) Log(ctx context.Context, runID *uuid.UUID, level models.LogLevel, message, siteName string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, site_name)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, time.Now().UTC(), level, message, siteName)
	return err
}

func (s *PostgresStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		if err := rows.Scan(&cmd.ID, &cmd.Command, &cmd.Params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *PostgresStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE commands SET processed_at = NOW() WHERE id = $1`, id)
	return err
}
