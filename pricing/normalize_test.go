package pricing

import (
	"errors"
	"fmt"
	"testing"
)

func TestNormalize_LocaleStyles(t *testing.T) {
	n := NewNormalizer(0)

	cases := []struct {
		in   string
		want float64
	}{
		{"579,95 €", 579.95},
		{"579.95", 579.95},
		{"1 234,56 €", 1234.56},
		{"1.234,56", 1234.56},
		{"1,234.56", 1234.56},
		{"$1,234.56", 1234.56},
		{"579€95", 579.95},
		{"579 € 95", 579.95},
		{"1 299,00 €", 1299.00},
		{"899", 899},
		{"1,345", 1345}, // thousands grouping, not a decimal
		{"0,99", 0.99},
		{"49.9", 49.9},
		{"2.999", 2999}, // French thousands grouping
	}

	for _, tc := range cases {
		got, err := n.Normalize(tc.in)
		if err != nil {
			t.Fatalf("Normalize(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_Rejects(t *testing.T) {
	n := NewNormalizer(0)

	cases := []string{
		"",
		"   ",
		"prix indisponible",
		"N/A",
		"-49.99",
		"12,34,56",  // invalid grouping
		"1,2345",    // four-digit group
		"1.23.45",   // two decimal candidates
		"12345.678", // three trailing digits with one separator is grouping; group of 5 invalid
		"99999",     // above the sanity ceiling
	}

	for _, in := range cases {
		if _, err := n.Normalize(in); err == nil {
			t.Fatalf("Normalize(%q) should have failed", in)
		} else if !errors.Is(err, ErrNotAPrice) {
			t.Fatalf("Normalize(%q) error = %v, want ErrNotAPrice", in, err)
		}
	}
}

func TestNormalize_RoundTrip(t *testing.T) {
	n := NewNormalizer(0)

	values := []float64{0.01, 0.99, 1.00, 42.50, 579.95, 1234.56, 9999.99}
	for _, v := range values {
		euros := int(v)
		cents := int(v*100+0.5) % 100

		styles := []string{
			fmt.Sprintf("%.2f", v),
			fmt.Sprintf("%d,%02d €", euros, cents),
			fmt.Sprintf("%d€%02d", euros, cents),
		}
		for _, s := range styles {
			got, err := n.Normalize(s)
			if err != nil {
				t.Fatalf("Normalize(%q) failed: %v", s, err)
			}
			if got != v {
				t.Fatalf("Normalize(%q) = %v, want %v", s, got, v)
			}
		}
	}
}

func TestNormalize_HalfUpRounding(t *testing.T) {
	n := NewNormalizer(0)

	got, err := n.Normalize("12.345")
	if err == nil {
		t.Fatalf("expected grouping rejection for 12.345, got %v", got)
	}

	got, err = n.Normalize("12.35")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != 12.35 {
		t.Fatalf("got %v, want 12.35", got)
	}
}

func TestNormalize_Ceiling(t *testing.T) {
	n := NewNormalizer(500)

	if _, err := n.Normalize("501"); err == nil {
		t.Fatal("expected ceiling rejection")
	}
	if v, err := n.Normalize("499,99"); err != nil || v != 499.99 {
		t.Fatalf("got %v, %v", v, err)
	}
}
