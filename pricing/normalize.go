package pricing

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrNotAPrice is returned when input text cannot be interpreted as a price.
var ErrNotAPrice = errors.New("not a price")

// DefaultCeiling rejects values that are almost certainly misparsed page
// numbers rather than component prices.
const DefaultCeiling = 10000

// splitCentsRe matches the flattened superscript-cents markup some French
// storefronts use: "579€95" reads 579.95.
var splitCentsRe = regexp.MustCompile(`(\d)\s*[€$£]\s*(\d{2})(\D*$)`)

var currencyRe = regexp.MustCompile(`(?i)[€$£]|eur`)

// Normalizer turns raw storefront price text into a canonical decimal value
// with two fractional digits.
type Normalizer struct {
	Ceiling float64
}

func NewNormalizer(ceiling float64) *Normalizer {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Normalizer{Ceiling: ceiling}
}

// Normalize parses raw price text in either French ("1 234,56 €", "579€95")
// or US/UK ("$1,234.56") style and returns the value rounded half-up to two
// decimals. It fails for text with no digits, separators that cannot be
// disambiguated, negative values, and values above the sanity ceiling.
func (n *Normalizer) Normalize(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty input", ErrNotAPrice)
	}

	negative := strings.HasPrefix(s, "-")

	// Split-price markup first, while the currency marker is still present.
	s = splitCentsRe.ReplaceAllString(s, "$1.$2")

	s = currencyRe.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', ' ', ' ':
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(s, "-")

	if !strings.ContainsAny(s, "0123456789") {
		return 0, fmt.Errorf("%w: no digits in %q", ErrNotAPrice, raw)
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return 0, fmt.Errorf("%w: unexpected character %q in %q", ErrNotAPrice, r, raw)
		}
	}

	cleaned, err := resolveSeparators(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v in %q", ErrNotAPrice, err, raw)
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNotAPrice, raw)
	}
	if negative {
		return 0, fmt.Errorf("%w: negative value in %q", ErrNotAPrice, raw)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("%w: non-finite value in %q", ErrNotAPrice, raw)
	}
	if value > n.Ceiling {
		return 0, fmt.Errorf("%w: %.2f exceeds sanity ceiling %.2f", ErrNotAPrice, value, n.Ceiling)
	}

	return math.Floor(value*100+0.5) / 100, nil
}

// resolveSeparators reduces a digit string with ',' and '.' separators to
// plain decimal form. A separator followed by one or two trailing digits is a
// decimal point; groups of exactly three digits are thousands grouping.
func resolveSeparators(s string) (string, error) {
	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")

	if commas == 0 && dots == 0 {
		return s, nil
	}

	if commas > 0 && dots > 0 {
		// Mixed separators: the later one is the decimal candidate, the
		// other must be valid thousands grouping.
		dec, grp := byte('.'), byte(',')
		if strings.LastIndexByte(s, ',') > strings.LastIndexByte(s, '.') {
			dec, grp = ',', '.'
		}
		if strings.Count(s, string(dec)) != 1 {
			return "", errors.New("multiple decimal separator candidates")
		}
		idx := strings.LastIndexByte(s, dec)
		frac := s[idx+1:]
		if len(frac) < 1 || len(frac) > 2 || strings.ContainsRune(frac, rune(grp)) {
			return "", errors.New("ambiguous separators")
		}
		intPart, err := stripGrouping(s[:idx], grp)
		if err != nil {
			return "", err
		}
		return intPart + "." + frac, nil
	}

	// Single separator type.
	sep := byte(',')
	count := commas
	if dots > 0 {
		sep = '.'
		count = dots
	}

	idx := strings.LastIndexByte(s, sep)
	trailing := s[idx+1:]

	if count == 1 && len(trailing) >= 1 && len(trailing) <= 2 {
		return s[:idx] + "." + trailing, nil
	}
	return stripGrouping(s, sep)
}

// stripGrouping removes sep from s, requiring every group after the first to
// be exactly three digits.
func stripGrouping(s string, sep byte) (string, error) {
	if s == "" {
		return "", errors.New("empty integer part")
	}
	groups := strings.Split(s, string(sep))
	for i, g := range groups {
		if i == 0 {
			if g == "" || len(g) > 3 {
				return "", errors.New("invalid thousands grouping")
			}
			continue
		}
		if len(g) != 3 {
			return "", errors.New("invalid thousands grouping")
		}
	}
	return strings.Join(groups, ""), nil
}
