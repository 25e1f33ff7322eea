package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bikininjas/newbuild-scraper/aggregate"
	"github.com/bikininjas/newbuild-scraper/catalog"
	"github.com/bikininjas/newbuild-scraper/config"
	"github.com/bikininjas/newbuild-scraper/logging"
	"github.com/bikininjas/newbuild-scraper/scheduler"
	"github.com/bikininjas/newbuild-scraper/scraper"
	"github.com/bikininjas/newbuild-scraper/storage"
)

var (
	scrapeNow   = flag.Bool("scrape", false, "Run scrape once and exit")
	selective   = flag.Bool("selective", false, "Only fetch URLs without a recent success")
	importPath  = flag.String("import", "", "Import a catalog JSON file and exit")
	reportPath  = flag.String("report", "", "Write an aggregate report JSON to the given path and exit")
	reportSince = flag.Duration("report-since", 30*24*time.Hour, "Report time range")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("scraper.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting newbuild-scraper...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Loaded %d site configs", len(cfg.Sites))
	for id, site := range cfg.Sites {
		log.Printf("  - %s (%s)", site.Name, id)
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	if *importPath != "" {
		f, err := catalog.LoadFile(*importPath)
		if err != nil {
			log.Fatalf("Failed to load catalog: %v", err)
		}
		res, err := catalog.Import(ctx, store, f)
		if err != nil {
			log.Fatalf("Import failed: %v", err)
		}
		log.Printf("Imported %d products, %d URLs (%d entries skipped)",
			res.Products, res.URLs, len(res.Skipped))
		return
	}

	if *reportPath != "" {
		engine := aggregate.NewEngine(store, cfg.Pricing.ExcludedCategories)
		to := time.Now().UTC()
		report, err := engine.BuildReport(ctx, to.Add(-*reportSince), to)
		if err != nil {
			log.Fatalf("Report failed: %v", err)
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("Encode report: %v", err)
		}
		if err := os.WriteFile(*reportPath, data, 0644); err != nil {
			log.Fatalf("Write report: %v", err)
		}
		log.Printf("Report written to %s", *reportPath)
		return
	}

	orchestrator := scraper.NewOrchestrator(cfg, store)
	defer orchestrator.Close()

	if *scrapeNow {
		log.Println("Running scrape...")
		if err := orchestrator.RunAll(ctx, *selective); err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		log.Println("Scrape complete!")
		return
	}

	sched := scheduler.New(cfg, orchestrator, store)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
	log.Println("Goodbye!")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Database.Backend == "postgres" {
		log.Printf("Connecting to Postgres")
		return storage.NewPostgresStore(ctx, cfg.Database.PostgresURL)
	}
	log.Printf("SQLite database: %s", cfg.Database.Path)
	return storage.NewSQLiteStore(cfg.Database.Path)
}
