package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scanner/internal/money"
)

var (
	reTotalLabelled = regexp.MustCompile(`(?i)(sub\s*-?\s*)?\b(grand\s+total|total\s+due|total\s+to\s+pay|total\s+amount|amount\s+due|balance\s+due|balance\s+to\s+pay|total|balance)\b[ \t]*(?:\([^)\n]*\))?[ \t]*(?:gbp|usd|eur)?[ \t]*[:=\-]?\s*(-?[$£€]?\s?\d{1,6}(?:,\d{3})*\.\d{2})\b`)

	reTotalBlacklist = regexp.MustCompile(`(?i)\b(?:points?|pts|saving|savings|saved|save|change|voucher|vouchers|discount|discounts|loyalty|clubcard|nectar|rewards?|cashback|cash\s*back|tendered|cash)\b`)

	reTaxLabel     = regexp.MustCompile(`(?i)\b(?:vat|tax|gst|hst|sales\s+tax)\b`)
	reTaxNumber    = regexp.MustCompile(`(?i)\b(?:vat|tax|gst)\s*(?:no|reg|registration|number|id|#)\b`)
	reTaxTotal     = regexp.MustCompile(`(?i)\b(?:total\s+(?:tax|vat)|(?:tax|vat)\s+total)\b`)
	reReceiptLabel = regexp.MustCompile(`(?i)\b(?:receipt|transaction|trans|invoice|order|ref|reference)\s*(?:no\.?|number|num|#|id)?\s*[:#.]?\s*([A-Z0-9][A-Z0-9\-/]{3,})\b`)
)

// totalRank orders label variants, lower is stronger.
func totalRank(label string) int {
	l := strings.Join(strings.Fields(strings.ToLower(label)), " ")
	switch l {
	case "grand total":
		return 0
	case "total due", "total to pay", "total amount", "amount due", "balance due", "balance to pay":
		return 1
	case "total":
		return 2
	default:
		return 3
	}
}

// ExtractTotal returns the amount paid, formatted with two decimals. It tries labelled
// amounts across the whole text, then a line-by-line label scan, then the largest amount
// outside blacklisted contexts. The second return is false when nothing was found.
func ExtractTotal(lines []string) (string, bool) {
	if d, ok := labelledTotal(lines); ok {
		return money.Format(d), true
	}
	if d, ok := scannedTotal(lines); ok {
		return money.Format(d), true
	}
	if d, ok := largestAmount(lines); ok {
		return money.Format(d), true
	}
	return money.Zero, false
}

func labelledTotal(lines []string) (decimal.Decimal, bool) {
	text := strings.Join(lines, "\n")
	lineStarts := make([]int, len(lines))
	off := 0
	for i, l := range lines {
		lineStarts[i] = off
		off += len(l) + 1
	}
	lineAt := func(pos int) string {
		idx := 0
		for i, s := range lineStarts {
			if s <= pos {
				idx = i
			}
		}
		return lines[idx]
	}

	type hit struct {
		value decimal.Decimal
		rank  int
	}
	var hits []hit
	for _, m := range reTotalLabelled.FindAllStringSubmatchIndex(text, -1) {
		if m[2] >= 0 {
			continue
		}
		if line := lineAt(m[4]); reTotalBlacklist.MatchString(line) || reTaxTotal.MatchString(line) {
			continue
		}
		v, ok := money.Parse(text[m[6]:m[7]])
		if !ok || v.IsNegative() {
			continue
		}
		hits = append(hits, hit{value: v, rank: totalRank(text[m[4]:m[5]])})
	}
	return pickTotal(len(hits), func(i int) (decimal.Decimal, int) { return hits[i].value, hits[i].rank })
}

func scannedTotal(lines []string) (decimal.Decimal, bool) {
	type hit struct {
		value decimal.Decimal
		rank  int
	}
	var hits []hit
	for i, line := range lines {
		loc := reTotalWord.FindStringIndex(line)
		if loc == nil || reSubtotal.MatchString(line) || reTotalBlacklist.MatchString(line) || reTaxTotal.MatchString(line) {
			continue
		}
		var toks []priceToken
		for _, t := range priceTokens(line) {
			if t.Start >= loc[1] {
				toks = append(toks, t)
			}
		}
		if len(toks) > 0 {
			toks = toks[len(toks)-1:]
		} else if i+1 < len(lines) && !reTotalBlacklist.MatchString(lines[i+1]) {
			toks = priceTokens(lines[i+1])
		}
		if len(toks) == 0 || toks[0].Value.IsNegative() {
			continue
		}
		hits = append(hits, hit{value: toks[0].Value, rank: totalRank(line[loc[0]:loc[1]])})
	}
	return pickTotal(len(hits), func(i int) (decimal.Decimal, int) { return hits[i].value, hits[i].rank })
}

// pickTotal chooses the strongest label, earliest first, preferring non-zero amounts.
func pickTotal(n int, at func(int) (decimal.Decimal, int)) (decimal.Decimal, bool) {
	bestIdx, bestRank := -1, 0
	for i := 0; i < n; i++ {
		v, rank := at(i)
		if v.IsZero() {
			continue
		}
		if bestIdx < 0 || rank < bestRank {
			bestIdx, bestRank = i, rank
		}
	}
	if bestIdx >= 0 {
		v, _ := at(bestIdx)
		return v, true
	}
	if n > 0 {
		v, _ := at(0)
		return v, true
	}
	return decimal.Zero, false
}

func largestAmount(lines []string) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, line := range lines {
		if reTotalBlacklist.MatchString(line) {
			continue
		}
		for _, t := range priceTokens(line) {
			if t.Value.IsNegative() {
				continue
			}
			if !found || t.Value.GreaterThan(best) {
				best, found = t.Value, true
			}
		}
	}
	return best, found
}

// ExtractSubtotal reads the amount printed on a subtotal line.
func ExtractSubtotal(lines []string) (string, bool) {
	for _, line := range lines {
		loc := reSubtotal.FindStringIndex(line)
		if loc == nil {
			continue
		}
		if t, ok := lastTokenAfter(line, loc[1]); ok {
			return money.Format(t.Value), true
		}
	}
	return "", false
}

// ExtractTax reads the amount printed on a VAT or tax line. Registration numbers and
// tax-inclusive total lines are ignored.
func ExtractTax(lines []string) (string, bool) {
	for _, line := range lines {
		loc := reTaxLabel.FindStringIndex(line)
		if loc == nil || reTaxNumber.MatchString(line) {
			continue
		}
		if reTotalWord.MatchString(line) && !reTaxTotal.MatchString(line) {
			continue
		}
		for _, t := range priceTokens(line) {
			if t.Start >= loc[1] && !t.Value.IsNegative() {
				return money.Format(t.Value), true
			}
		}
	}
	return "", false
}

// ExtractReceiptNumber reads a receipt, transaction or invoice reference.
func ExtractReceiptNumber(lines []string) (string, bool) {
	for _, line := range lines {
		for _, m := range reReceiptLabel.FindAllStringSubmatch(line, -1) {
			ref := m[1]
			if digitCount(ref) == 0 {
				continue
			}
			if _, ok := money.Parse(ref); ok && strings.Contains(ref, ".") {
				continue
			}
			return ref, true
		}
	}
	return "", false
}

func lastTokenAfter(line string, pos int) (priceToken, bool) {
	toks := priceTokens(line)
	for i := len(toks) - 1; i >= 0; i-- {
		if toks[i].Start >= pos {
			return toks[i], true
		}
	}
	return priceToken{}, false
}
