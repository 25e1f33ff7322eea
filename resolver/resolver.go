// Package resolver determines the true seller behind an aggregator offer.
// Aggregator pages (Idealo and similar comparison sites) list offers from
// many underlying shops; reporting the aggregator's own name as the vendor
// would make price history useless, so the resolver works through a series
// of page signals until one yields a usable vendor identity.
package resolver

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bikininjas/newbuild-scraper/models"
)

// MaxRedirectHops caps how far down a redirect chain the resolver will walk.
// Chains longer than this are treated as a resolution failure for the
// redirect tier rather than followed indefinitely.
const MaxRedirectHops = 5

// Attributes checked for a structured vendor name, in order.
var vendorAttrs = []string{"data-shop-name", "data-merchant-name", "data-vendor"}

// Selectors for free-text vendor labels adjacent to an offer.
var labelSelectors = []string{
	".offer-shop-name",
	".shop-name",
	"[class*='merchantName']",
	"a[data-shop-link]",
}

// knownVendorDomains maps second-level domains found in logo URLs and
// redirect targets to display names. Domains not listed here still resolve,
// they just get a title-cased label derived from the domain itself.
var knownVendorDomains = map[string]string{
	"amazon":        "Amazon",
	"ldlc":          "LDLC",
	"grosbill":      "Grosbill",
	"materiel":      "Materiel.net",
	"topachat":      "TopAchat",
	"alternate":     "Alternate",
	"bpm-power":     "BPM Power",
	"pccomponentes": "PCComponentes",
	"caseking":      "Caseking",
	"cdiscount":     "Cdiscount",
	"fnac":          "Fnac",
	"darty":         "Darty",
	"rueducommerce": "Rue du Commerce",
	"cybertek":      "Cybertek",
}

var (
	// "Vendu et expédié par X" marks a third-party marketplace listing.
	marketplaceRe = regexp.MustCompile(`(?i)vendu\s+et\s+exp[eé]di[eé]\s+par\s+(.+)`)
	// "Vendu par X, expédié par Y" is the platform's own listing when X == Y.
	directSaleRe = regexp.MustCompile(`(?i)vendu\s+par\s+([^,]+),\s*exp[eé]di[eé]\s+par\s+(.+)`)

	ratingCountRe = regexp.MustCompile(`\(\s*[\d\s,.]+\s*(avis|évaluations?|reviews?)?\s*\)`)
	currencyRe    = regexp.MustCompile(`[\d\s,.]*[€$£]`)
)

// Boilerplate stripped from the edges of free-text vendor labels.
var labelNoise = []string{
	"vendu par", "vendu et expédié par", "chez", "voir l'offre", "voir offre",
	"aller au magasin", "offre de", "livraison gratuite", "meilleur prix",
}

// Resolver derives vendor identity from aggregator page signals. It never
// fetches anything itself; the fetch adapter hands it the offer fragment and
// any redirect chain it recorded.
type Resolver struct{}

func New() *Resolver {
	return &Resolver{}
}

// Resolve determines the vendor behind an aggregator offer. It tries, in
// order: a structured vendor attribute on the offer element, a vendor logo
// whose image URL encodes a known domain, a cleaned free-text label, and
// finally the terminal domain of the redirect chain. When every signal
// fails it falls back to the aggregator's own name with the low-confidence
// flag set so downstream consumers know the provenance is weak.
func (r *Resolver) Resolve(signals *models.VendorSignals) models.VendorInfo {
	if signals == nil {
		return models.VendorInfo{LowConfidence: true}
	}

	var doc *goquery.Document
	if signals.OfferHTML != "" {
		if d, err := goquery.NewDocumentFromReader(strings.NewReader(signals.OfferHTML)); err == nil {
			doc = d
		}
	}

	info := models.VendorInfo{}
	if doc != nil {
		info.Name = r.fromStructuredAttr(doc)
		if info.Name == "" {
			info.Name = r.fromLogoURL(doc)
		}
		if info.Name == "" {
			info.Name = r.fromFreeText(doc)
		}
	}

	terminal := TerminalURL(signals.RedirectChain)
	if info.Name == "" && terminal != "" {
		info.Name = vendorLabelFromURL(terminal)
	}

	if info.Name == "" {
		info.Name = signals.Aggregator
		info.URL = signals.AggregatorURL
		info.LowConfidence = true
	} else if terminal != "" {
		info.URL = terminal
	}

	if doc != nil {
		offerText := strings.TrimSpace(doc.Text())
		info.IsMarketplace = IsMarketplace(offerText)
		info.IsPrimeEligible = isAmazon(info.Name) && hasPrimeMarker(doc)
	}

	return info
}

func (r *Resolver) fromStructuredAttr(doc *goquery.Document) string {
	for _, attr := range vendorAttrs {
		sel := doc.Find("[" + attr + "]").First()
		if v, ok := sel.Attr(attr); ok {
			if name := strings.TrimSpace(v); name != "" {
				return name
			}
		}
	}
	return ""
}

func (r *Resolver) fromLogoURL(doc *goquery.Document) string {
	var name string
	doc.Find("img").EachWithBreak(func(i int, s *goquery.Selection) bool {
		src, ok := s.Attr("src")
		if !ok {
			src, ok = s.Attr("data-src")
		}
		if !ok || src == "" {
			return true
		}
		lower := strings.ToLower(src)
		for domain, label := range knownVendorDomains {
			if strings.Contains(lower, domain) {
				name = label
				return false
			}
		}
		return true
	})
	return name
}

func (r *Resolver) fromFreeText(doc *goquery.Document) string {
	for _, sel := range labelSelectors {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text == "" {
			continue
		}
		if cleaned := CleanVendorLabel(text); cleaned != "" {
			return cleaned
		}
	}
	return ""
}

// CleanVendorLabel strips boilerplate phrases, currency amounts and rating
// counts from a free-text vendor label. Returns "" when nothing usable
// remains.
func CleanVendorLabel(text string) string {
	text = ratingCountRe.ReplaceAllString(text, "")
	text = currencyRe.ReplaceAllString(text, "")

	lower := strings.ToLower(text)
	for _, noise := range labelNoise {
		if idx := strings.Index(lower, noise); idx >= 0 {
			text = text[:idx] + text[idx+len(noise):]
			lower = strings.ToLower(text)
		}
	}

	text = strings.Trim(strings.TrimSpace(text), ".,:;-|")
	text = strings.TrimSpace(text)
	if len(text) < 2 {
		return ""
	}
	return text
}

// TerminalURL returns the final URL of a redirect chain, or "" when the
// chain is empty or exceeds the hop ceiling.
func TerminalURL(chain []string) string {
	if len(chain) == 0 || len(chain) > MaxRedirectHops {
		return ""
	}
	return chain[len(chain)-1]
}

// vendorLabelFromURL reduces a URL to a human vendor label. Known domains
// get their canonical display name; anything else gets a title-cased
// second-level domain.
func vendorLabelFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "m.", "shop.", "store."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return ""
	}
	sld := parts[0]
	// amazon.co.uk style hosts keep the actual name one label deeper.
	if len(parts) >= 3 && (parts[len(parts)-2] == "co" || parts[len(parts)-2] == "com") {
		sld = parts[len(parts)-3]
	}

	if label, ok := knownVendorDomains[sld]; ok {
		return label
	}
	if sld == "" {
		return ""
	}
	return strings.ToUpper(sld[:1]) + sld[1:]
}

// IsMarketplace reports whether offer text indicates a third-party seller.
// "Vendu et expédié par X" is a marketplace listing. "Vendu par X, expédié
// par X" with the same party on both sides is the platform selling its own
// inventory.
func IsMarketplace(text string) bool {
	if m := directSaleRe.FindStringSubmatch(text); m != nil {
		seller := strings.TrimSpace(strings.ToLower(m[1]))
		shipper := strings.TrimSpace(strings.ToLower(m[2]))
		shipper = strings.Trim(shipper, ".")
		return seller != shipper
	}
	return marketplaceRe.MatchString(text)
}

func isAmazon(vendorName string) bool {
	return strings.HasPrefix(strings.ToLower(vendorName), "amazon")
}

func hasPrimeMarker(doc *goquery.Document) bool {
	if doc.Find("[class*='prime'], [aria-label*='Prime'], i.a-icon-prime").Length() > 0 {
		return true
	}
	return false
}
