package stages

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
)

const maxTextRunes = 255

var (
	whitespace = regexp.MustCompile(`\s+`)
	skuJunk    = regexp.MustCompile(`[^A-Z0-9_-]`)
	priceJunk  = regexp.MustCompile(`[^\d.,-]`)
	scientific = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)[eE][+-]?\d+$`)
)

// cleanText trims, collapses inner whitespace and caps the length.
func cleanText(s string) string {
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
	if utf8.RuneCountInString(s) > maxTextRunes {
		s = string([]rune(s)[:maxTextRunes])
	}
	return s
}

func cleanSKU(s string) string {
	s = skuJunk.ReplaceAllString(strings.ToUpper(strings.TrimSpace(s)), "")
	if len(s) < 2 {
		return ""
	}
	return s
}

var sizes = map[string]string{
	"XS":          "XS",
	"EXTRA SMALL": "XS",
	"S":           "S",
	"SMALL":       "S",
	"M":           "M",
	"MEDIUM":      "M",
	"MED":         "M",
	"L":           "L",
	"LARGE":       "L",
	"XL":          "XL",
	"EXTRA LARGE": "XL",
	"XXL":         "XXL",
	"2XL":         "XXL",
	"XXXL":        "XXXL",
	"3XL":         "XXXL",
}

// normalizeSize maps known size spellings to their short label; anything
// else is kept upper-cased.
func normalizeSize(s string) string {
	s = whitespace.ReplaceAllString(strings.ToUpper(strings.TrimSpace(s)), " ")
	if s == "" {
		return ""
	}
	if norm, ok := sizes[s]; ok {
		return norm
	}
	return s
}

// priceValue parses a decoded field value whose trimmed text form is text.
// Numbers from JSON sources are exact already and skip the separator
// heuristics.
func priceValue(v any, text string) (*domain.Price, bool) {
	switch t := v.(type) {
	case json.Number:
		p, err := domain.ParsePrice(t.String())
		return p, err == nil
	case float64:
		p, err := domain.ParsePrice(strconv.FormatFloat(t, 'f', -1, 64))
		return p, err == nil
	default:
		return parsePrice(text)
	}
}

// parsePrice accepts both 1,234.56 and 1.234,56. A lone comma followed by
// at most two digits is a decimal separator, otherwise a thousands one.
func parsePrice(s string) (*domain.Price, bool) {
	if t := strings.TrimSpace(s); scientific.MatchString(t) {
		p, err := domain.ParsePrice(t)
		return p, err == nil
	}
	s = priceJunk.ReplaceAllString(s, "")
	if s == "" {
		return nil, false
	}

	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-comma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	p, err := domain.ParsePrice(s)
	if err != nil {
		return nil, false
	}
	return p, true
}

// parseInteger truncates decimal input, so "12.0" and "12.9" give 12.
func parseInteger(s string) (int, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(math.Trunc(f)), true
}
