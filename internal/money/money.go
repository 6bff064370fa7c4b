package money

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is the formatted zero amount used as the default total.
const Zero = "0.00"

var reAmount = regexp.MustCompile(`^(-)?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?(-)?$`)

// Parse converts a price token such as "£1,234.50", "-0.40" or "2.00-" into a decimal.
// Currency symbols, ISO codes and surrounding whitespace are ignored. A trailing minus
// (common for discounts on till receipts) negates the value.
func Parse(token string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(token)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', '£', '€', '¥', '₹', ' ', '\t':
			return -1
		}
		return r
	}, s)
	s = strings.TrimSuffix(strings.TrimPrefix(strings.ToUpper(s), "USD"), "USD")
	for _, code := range []string{"GBP", "EUR", "CAD", "AUD", "JPY", "INR"} {
		s = strings.TrimSuffix(strings.TrimPrefix(s, code), code)
	}
	if s == "" {
		return decimal.Zero, false
	}
	m := reAmount.FindStringSubmatch(s)
	if m == nil {
		return decimal.Zero, false
	}
	num := strings.ReplaceAll(m[2], ",", "")
	if m[3] != "" {
		num += "." + m[3]
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, false
	}
	if m[1] != "" || m[4] != "" {
		d = d.Neg()
	}
	return d, true
}

// Format renders an amount with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// Normalize parses and re-formats a token, returning Zero for anything unparseable.
func Normalize(token string) string {
	d, ok := Parse(token)
	if !ok {
		return Zero
	}
	return Format(d)
}
