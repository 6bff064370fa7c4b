package parser

import (
	"regexp"
)

// DefaultPaymentMethod is used when nothing on the receipt names the tender.
const DefaultPaymentMethod = "Unknown"

var (
	reGiftCard   = regexp.MustCompile(`(?i)\bgift\s*card\b`)
	reCardDebit  = regexp.MustCompile(`(?i)\b(?:card\s*\(?\s*debit\s*\)?|debit\s*card|debit)\b`)
	reCardCredit = regexp.MustCompile(`(?i)\b(?:card\s*\(?\s*credit\s*\)?|credit\s*card)\b`)
	reCash       = regexp.MustCompile(`(?i)\bcash\b`)
	reChange     = regexp.MustCompile(`(?i)\bchange(?:\s+due)?\b`)

	cardBrands = []struct {
		name string
		re   *regexp.Regexp
	}{
		{"Amex", regexp.MustCompile(`(?i)\b(?:amex|american\s+express)\b`)},
		{"Mastercard", regexp.MustCompile(`(?i)\b(?:master\s*card|mastercard)\b`)},
		{"Maestro", regexp.MustCompile(`(?i)\bmaestro\b`)},
		{"Visa", regexp.MustCompile(`(?i)\bvisa\b`)},
	}
)

// ExtractPaymentMethod names how the receipt was paid. Card numbers are reduced to their
// brand and never returned.
func ExtractPaymentMethod(lines []string) Candidate {
	for i, line := range lines {
		if reGiftCard.MatchString(line) {
			return Candidate{Value: "Gift Card", Score: 100, Index: i}
		}
	}

	for i, line := range lines {
		if !reMaskedCard.MatchString(line) {
			continue
		}
		for _, j := range []int{i, i - 1, i + 1} {
			if j < 0 || j >= len(lines) {
				continue
			}
			if brand, ok := cardBrand(lines[j]); ok {
				return Candidate{Value: brand, Score: 90, Index: i}
			}
		}
		return Candidate{Value: "Card", Score: 80, Index: i}
	}

	literals := []struct {
		name string
		re   *regexp.Regexp
	}{
		{"Card (Debit)", reCardDebit},
		{"Card (Credit)", reCardCredit},
		{"Cash", reCash},
	}
	for _, lit := range literals {
		for i, line := range lines {
			if lit.re.MatchString(line) {
				return Candidate{Value: lit.name, Score: 70, Index: i}
			}
		}
	}

	for i, line := range lines {
		if !reChange.MatchString(line) {
			continue
		}
		toks := priceTokens(line)
		if len(toks) == 0 && i+1 < len(lines) {
			toks = priceTokens(lines[i+1])
		}
		for _, t := range toks {
			if t.Value.IsPositive() {
				return Candidate{Value: "Cash", Score: 60, Index: i}
			}
		}
	}

	for i, line := range lines {
		if brand, ok := cardBrand(line); ok {
			return Candidate{Value: brand, Score: 50, Index: i}
		}
	}
	return Candidate{Value: DefaultPaymentMethod, Index: -1}
}

func cardBrand(line string) (string, bool) {
	for _, b := range cardBrands {
		if b.re.MatchString(line) {
			return b.name, true
		}
	}
	return "", false
}
