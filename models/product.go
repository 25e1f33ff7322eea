package models

import (
	"strings"
	"time"
)

// Product is a catalogued item tracked across multiple storefronts.
// Identity is the case-normalized name.
type Product struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Category  string    `json:"category" db:"category"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeName canonicalizes a product name for identity comparison.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(name)), " ")
}

// SourceURL is one storefront page belonging to a product. URLs are never
// deleted automatically; operators deactivate them explicitly.
type SourceURL struct {
	ID        int64     `json:"id" db:"id"`
	ProductID int64     `json:"product_id" db:"product_id"`
	URL       string    `json:"url" db:"url"`
	SiteName  string    `json:"site_name" db:"site_name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// knownSites maps URL host fragments to human site labels.
var knownSites = []struct {
	fragment string
	label    string
}{
	{"amazon.", "Amazon"},
	{"ldlc.", "LDLC"},
	{"idealo.", "Idealo"},
	{"grosbill.", "Grosbill"},
	{"materiel.net", "Materiel.net"},
	{"topachat.", "TopAchat"},
	{"alternate.", "Alternate"},
	{"bpm-power.", "BPM Power"},
	{"pccomponentes.", "PCComponentes"},
	{"caseking.", "Caseking"},
}

// SiteLabel derives a human site name from a URL. Unknown hosts fall back to
// the bare host.
func SiteLabel(url string) string {
	for _, s := range knownSites {
		if strings.Contains(url, s.fragment) {
			return s.label
		}
	}
	host := url
	if idx := strings.Index(host, "//"); idx >= 0 {
		host = host[idx+2:]
	}
	if idx := strings.IndexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	return host
}
