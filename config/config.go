package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Cache     CacheConfig
	Pricing   PricingConfig
	LogLevel  string
	Sites     map[string]*SiteConfig
}

type DatabaseConfig struct {
	Backend     string // "sqlite" or "postgres"
	Path        string // sqlite file path
	PostgresURL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	Workers int
	DelayMS int
}

type CacheConfig struct {
	FreshnessWindow    time.Duration
	BackoffBase        time.Duration
	BackoffCeiling     time.Duration
	SelectiveThreshold time.Duration
}

type PricingConfig struct {
	SanityCeiling      float64
	ExcludedCategories []string
}

// SiteConfig describes one trackable site: how pages are fetched and which
// selectors yield the price and vendor signals.
type SiteConfig struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Handler         string   `yaml:"handler"` // "http" or "browser"
	HostPatterns    []string `yaml:"host_patterns"`
	RateLimitMS     int      `yaml:"rate_limit_ms"`
	PriceSelectors  []string `yaml:"price_selectors"`
	OfferSelector   string   `yaml:"offer_selector"`
	Aggregator      bool     `yaml:"aggregator"`
	CleanURLParams  []string `yaml:"clean_url_params"`
	PrimeDetection  bool     `yaml:"prime_detection"`
	CookieSelectors []string `yaml:"cookie_selectors"`
	WaitMS          int      `yaml:"wait_ms"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Backend:     getEnv("DB_BACKEND", "sqlite"),
			Path:        getEnv("DB_PATH", "prices.db"),
			PostgresURL: os.Getenv("DATABASE_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			Workers: getEnvInt("SCRAPE_WORKERS", 4),
			DelayMS: getEnvInt("SCRAPE_DELAY_MS", 500),
		},
		Cache: CacheConfig{
			FreshnessWindow:    getEnvDuration("CACHE_FRESHNESS", 6*time.Hour),
			BackoffBase:        getEnvDuration("BACKOFF_BASE", time.Hour),
			BackoffCeiling:     getEnvDuration("BACKOFF_CEILING", 24*time.Hour),
			SelectiveThreshold: getEnvDuration("SELECTIVE_THRESHOLD", 48*time.Hour),
		},
		Pricing: PricingConfig{
			SanityCeiling:      getEnvFloat("PRICE_CEILING", 10000),
			ExcludedCategories: splitList(getEnv("EXCLUDED_CATEGORIES", "Upgrade Kit")),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Sites:    make(map[string]*SiteConfig),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SiteFor matches a URL against the configured host patterns. Returns nil
// when no site matches; the orchestrator falls back to a generic handler.
func (c *Config) SiteFor(url string) *SiteConfig {
	for _, site := range c.Sites {
		for _, pattern := range site.HostPatterns {
			if strings.Contains(url, pattern) {
				return site
			}
		}
	}
	return nil
}

func (c *Config) loadSiteConfigs() error {
	configDir := getEnv("SITES_DIR", "config/sites")
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return err
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
