package parser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/zombor/receipt-scanner/internal/money"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reBoxNoise   = regexp.MustCompile(`^[_\-=~.*]{3,}$`)

	rePriceToken = regexp.MustCompile(`(-\s?)?([$£€]\s?)?(-?\d{1,6}(?:,\d{3})*\.\d{2})(-)?`)

	reTotalWord = regexp.MustCompile(`(?i)\b(?:grand\s+total|total|amount\s+due|balance(?:\s+due)?|to\s+pay)\b`)
	reSubtotal  = regexp.MustCompile(`(?i)\bsub\s*-?\s*total\b`)

	reNoise = regexp.MustCompile(`(?i)\b(?:sub\s*total|total|balance|amount\s+due|change|cash|tendered|card|visa|mastercard|master\s*card|amex|american\s+express|maestro|debit|credit|contactless|chip|pin|auth(?:orisation|orization|code)?|approved|vat|tax|gst|hst|points|pts|clubcard|nectar|loyalty|rewards?|savings?|saved|voucher|coupon|thank|thanks|receipt|invoice|tel|phone|fax|www|http|https|email|cashier|operator|served|till|terminal|merchant|store\s*(?:no|#)|reg(?:ister)?|trans(?:action)?|ref|aid|pan|seq|signature|refund|returns?|items?\s+sold|no\.?\s+of\s+items|qty\s+sold|please|retain|copy)\b`)

	rePromo = regexp.MustCompile(`(?i)\b(?:offers?|save|saving|savings|points|rewards?|club|clubcard|nectar|welcome|thank|thanks|visit|survey|win|prize|feedback|download|app|online|deals?|free|discount|voucher|coupon|loyalty|member|open|hours|receipt|customer|copy|vat\s*(?:no|reg|number)|tel|phone|www|http)\b`)

	reDiscount = regexp.MustCompile(`(?i)\b(?:discount|offer|saving|savings|promo|promotion|coupon|voucher|off|reduction|reduced|multibuy|meal\s+deal|deal|price\s+cut|markdown|clubcard\s+price)\b`)

	reStreet      = regexp.MustCompile(`(?i)\b(?:street|st|road|rd|avenue|ave|lane|ln|drive|dr|way|boulevard|blvd|place|pl|square|sq|court|ct|close|crescent|parade|highway|hwy|parkway|pkwy|terrace|suite|ste|unit|high\s+street|retail\s+park|shopping\s+cent(?:re|er))\b\.?`)
	rePostcodeUK  = regexp.MustCompile(`(?i)\b[a-z]{1,2}\d[a-z\d]?\s*\d[a-z]{2}\b`)
	rePostcodeUS  = regexp.MustCompile(`(?i)\b[a-z]{2},?\s+\d{5}(?:-\d{4})?\b`)
	rePhone       = regexp.MustCompile(`(?i)\b(?:tel|phone|ph)\b|\+?\d[\d \-().]{8,}\d`)
	reURL         = regexp.MustCompile(`(?i)(?:https?://|www\.|\.(?:com|co\.uk|org|net|uk|io)\b|@)`)
	reBarcode     = regexp.MustCompile(`^\d{8,14}$`)
	reMaskedCard  = regexp.MustCompile(`(?:[*Xx#•]{2,}[\s-]?){1,4}\d{4}\b`)
	reTaxFlags    = regexp.MustCompile(`^[A-Za-z*#]{0,2}$`)
	reLeadingCode = regexp.MustCompile(`^\d{6,14}\s+`)
)

// NormalizeText collapses noisy whitespace and compatibility characters in OCR output
// while keeping line breaks.
func NormalizeText(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFKC.String(s)
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SplitLines returns the trimmed, non-empty lines of text, dropping ruler lines.
func SplitLines(text string) []string {
	raw := strings.Split(NormalizeText(text), "\n")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		t := strings.TrimSpace(r)
		if t == "" || reBoxNoise.MatchString(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

type priceToken struct {
	Raw       string
	Value     decimal.Decimal
	Start     int
	End       int
	HasSymbol bool
}

// priceTokens finds every currency-formatted amount in line. Tokens embedded in longer
// numbers or in dotted dates such as 12.05.23 are ignored.
func priceTokens(line string) []priceToken {
	var out []priceToken
	for _, m := range rePriceToken.FindAllStringSubmatchIndex(line, -1) {
		start, end := m[0], m[1]
		numEnd := m[7]
		if start > 0 {
			prev := line[start-1]
			if isDigit(prev) || prev == '.' || prev == ',' {
				continue
			}
		}
		if numEnd < len(line) {
			next := line[numEnd]
			if isDigit(next) || next == '%' {
				continue
			}
			if (next == '.' || next == ',' || next == '/') && numEnd+1 < len(line) && isDigit(line[numEnd+1]) {
				continue
			}
		}
		raw := line[start:end]
		v, ok := money.Parse(raw)
		if !ok {
			continue
		}
		out = append(out, priceToken{
			Raw:       raw,
			Value:     v,
			Start:     start,
			End:       end,
			HasSymbol: m[4] >= 0,
		})
	}
	return out
}

func hasPrice(line string) bool {
	return len(priceTokens(line)) > 0
}

// isPriceOnly reports whether line holds a single amount and at most a tax flag.
func isPriceOnly(line string) (priceToken, bool) {
	toks := priceTokens(line)
	if len(toks) != 1 {
		return priceToken{}, false
	}
	rest := strings.TrimSpace(line[:toks[0].Start] + " " + line[toks[0].End:])
	if !reTaxFlags.MatchString(rest) {
		return priceToken{}, false
	}
	return toks[0], true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func alphaCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// alphaRatio is the share of letters among the non-space characters of s.
func alphaRatio(s string) float64 {
	total := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(alphaCount(s)) / float64(total)
}

func longestWord(s string) int {
	best := 0
	for _, w := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if n := len([]rune(w)); n > best {
			best = n
		}
	}
	return best
}

// isLogoArtifact flags lines OCR produces from printed logos: mostly symbols, or mostly
// single-letter tokens.
func isLogoArtifact(line string) bool {
	nonSpace, special := 0, 0
	for _, r := range line {
		if unicode.IsSpace(r) {
			continue
		}
		nonSpace++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("$£€.,&'-", r) {
			special++
		}
	}
	if nonSpace == 0 {
		return true
	}
	if float64(special)/float64(nonSpace) > 0.4 {
		return true
	}
	tokens := strings.Fields(line)
	singles := 0
	for _, t := range tokens {
		if len([]rune(t)) == 1 && unicode.IsLetter([]rune(t)[0]) {
			singles++
		}
	}
	return len(tokens) >= 3 && singles*2 > len(tokens)
}

func looksLikeAddress(line string) bool {
	return rePostcodeUK.MatchString(line) || rePostcodeUS.MatchString(line) ||
		(reStreet.MatchString(line) && digitCount(line) > 0)
}

func looksLikeDiscount(name string) bool {
	return reDiscount.MatchString(name)
}

func cleanName(s string) string {
	s = strings.Trim(s, " *-=_.:|#~")
	return strings.Join(strings.Fields(s), " ")
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func isTitleCase(s string) bool {
	words := strings.Fields(s)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		r := []rune(w)
		if unicode.IsLetter(r[0]) && !unicode.IsUpper(r[0]) {
			return false
		}
	}
	return true
}
