package parser

import (
	"regexp"
	"strings"

	"github.com/zombor/receipt-scanner/internal/vocab"
)

const (
	// DefaultMerchant is used when no merchant line can be identified.
	DefaultMerchant = "Store Receipt"

	merchantWindow   = 10
	merchantMinScore = 20
)

// Candidate is a value picked by one of the field extractors. Index is the line it came
// from, or -1 when the value is a default.
type Candidate struct {
	Value string
	Score int
	Index int
}

var (
	rePossessive     = regexp.MustCompile(`(?i)^[\p{L}][\p{L}&.\-]*['’]s\b`)
	reBusinessSuffix = regexp.MustCompile(`(?i)\b(?:ltd|limited|inc|llc|plc|& co|company|corp|cafe|café|coffee|restaurant|bakery|pharmacy|supermarket|stores?|market|deli|diner|grill|bistro|kitchen|pizzeria|brasserie)\.?$`)
)

// ExtractMerchant picks the merchant name from the top of the receipt.
func ExtractMerchant(lines []string, v *vocab.Vocabulary) Candidate {
	top := lines[:min(len(lines), merchantWindow)]

	for i, line := range top {
		if isLogoArtifact(line) {
			continue
		}
		if m, ok := v.MatchMerchant(line); ok {
			return Candidate{Value: m.Name, Score: 100, Index: i}
		}
	}
	for i, line := range top {
		if isLogoArtifact(line) || hasPrice(line) || rePromo.MatchString(line) || looksLikeAddress(line) {
			continue
		}
		if rePossessive.MatchString(line) || reBusinessSuffix.MatchString(line) {
			return Candidate{Value: cleanName(line), Score: 80, Index: i}
		}
	}

	best := Candidate{Index: -1}
	for i, line := range top {
		if isLogoArtifact(line) {
			continue
		}
		if s := scoreMerchantLine(line, i, v); s > best.Score {
			best = Candidate{Value: cleanName(line), Score: s, Index: i}
		}
	}
	if best.Index >= 0 && best.Score >= merchantMinScore {
		return best
	}

	for i, line := range top {
		if isLogoArtifact(line) || hasPrice(line) {
			continue
		}
		name := cleanName(line)
		if n := len([]rune(name)); n >= 3 && n <= 40 && alphaRatio(name) >= 0.6 {
			return Candidate{Value: name, Score: 10, Index: i}
		}
	}
	return Candidate{Value: DefaultMerchant, Index: -1}
}

func scoreMerchantLine(line string, idx int, v *vocab.Vocabulary) int {
	if hasPrice(line) || alphaCount(line) < 3 {
		return 0
	}
	score := 0
	if rePromo.MatchString(line) {
		score -= 30
	}
	if looksLikeAddress(line) || rePhone.MatchString(line) || reURL.MatchString(line) {
		score -= 25
	}
	if n := len([]rune(line)); n > 0 && float64(digitCount(line))/float64(n) > 0.3 {
		score -= 20
	}

	words := strings.Fields(line)
	switch {
	case isUpper(line) && len(words) <= 4:
		score += 20
	case isTitleCase(line) && len(words) <= 5:
		score += 15
	}
	if n := len([]rune(line)); n >= 3 && n <= 30 && alphaRatio(line) >= 0.8 {
		score += 15
	}
	if v.HasStoreKeyword(line) {
		score += 10
	}
	score += max(0, 5-idx)
	return score
}
