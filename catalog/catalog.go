// Package catalog imports the product catalog into the store. Import is
// additive: products and URLs are only ever created or merged, never
// removed, so a bad catalog file cannot destroy accumulated price history.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/bikininjas/newbuild-scraper/storage"
)

// SupportedVersion is the catalog schema version this build understands.
const SupportedVersion = 1

// File is the on-disk catalog document.
type File struct {
	Version  int     `json:"version"`
	Products []Entry `json:"products"`
}

// Entry is one catalog product with its tracked URLs.
type Entry struct {
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	URLs     []string `json:"urls"`
}

// Result reports what an import did.
type Result struct {
	Products int
	URLs     int
	Skipped  []string
}

// Load parses and validates a catalog document.
func Load(r io.Reader) (*File, error) {
	var f File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if f.Version != SupportedVersion {
		return nil, fmt.Errorf("unsupported catalog version %d (want %d)", f.Version, SupportedVersion)
	}
	return &f, nil
}

// LoadFile reads a catalog document from disk.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Load(fh)
}

// Import merges a catalog into the store. Each malformed entry is skipped
// and recorded in the result; a single bad entry never aborts the import.
// Products with the same name merge their URL sets. Entries without a
// category get one inferred from the product name.
func Import(ctx context.Context, store storage.Store, f *File) (*Result, error) {
	res := &Result{}
	for _, entry := range f.Products {
		if err := validateEntry(entry); err != nil {
			log.Printf("catalog: skipping entry %q: %v", entry.Name, err)
			res.Skipped = append(res.Skipped, entry.Name)
			continue
		}

		category := entry.Category
		if category == "" {
			category = InferCategory(entry.Name)
		}

		product, err := store.UpsertProduct(ctx, entry.Name, category)
		if err != nil {
			return res, fmt.Errorf("upsert product %q: %w", entry.Name, err)
		}
		res.Products++

		for _, u := range entry.URLs {
			if _, err := store.AddSourceURL(ctx, product.ID, u); err != nil {
				return res, fmt.Errorf("add url %q: %w", u, err)
			}
			res.URLs++
		}
	}
	return res, nil
}

func validateEntry(entry Entry) error {
	if strings.TrimSpace(entry.Name) == "" {
		return fmt.Errorf("empty product name")
	}
	if len(entry.URLs) == 0 {
		return fmt.Errorf("empty URL list")
	}
	for _, raw := range entry.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid URL %q: %w", raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("non-http(s) URL %q", raw)
		}
		if u.Host == "" {
			return fmt.Errorf("URL without host %q", raw)
		}
	}
	return nil
}
