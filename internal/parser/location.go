package parser

import (
	"strings"

	"github.com/zombor/receipt-scanner/internal/vocab"
)

// DefaultLocation is used when no address-like line is found.
const DefaultLocation = "Unknown Location"

const (
	locationAdjacent = 3
	locationTop      = 8
	locationBottom   = 6
)

type addressParts struct {
	postcode bool
	street   bool
	city     bool
}

func (a addressParts) score() int {
	s := 0
	if a.postcode {
		s += 3
	}
	if a.street {
		s += 2
	}
	if a.city {
		s += 2
	}
	return s
}

func (a addressParts) complements(b addressParts) bool {
	return (b.postcode && !a.postcode) || (b.street && !a.street) || (b.city && !a.city)
}

// ExtractLocation finds the store address, searching next to the merchant line first,
// then the top of the receipt, then the bottom.
func ExtractLocation(lines []string, merchantIdx int, v *vocab.Vocabulary) Candidate {
	n := len(lines)
	var windows [][2]int
	if merchantIdx >= 0 {
		windows = append(windows, [2]int{merchantIdx + 1, min(n, merchantIdx+1+locationAdjacent)})
	}
	windows = append(windows,
		[2]int{0, min(n, locationTop)},
		[2]int{max(0, n-locationBottom), n},
	)

	for _, w := range windows {
		best, bestIdx := addressParts{}, -1
		for i := w[0]; i < w[1]; i++ {
			if i == merchantIdx || !addressCandidate(lines[i]) {
				continue
			}
			if parts := parseAddress(lines[i], v); parts.score() > 0 {
				best, bestIdx = parts, i
				break
			}
		}
		if bestIdx < 0 {
			continue
		}
		value := cleanName(lines[bestIdx])
		if next := bestIdx + 1; next < n && next != merchantIdx && addressCandidate(lines[next]) {
			if best.complements(parseAddress(lines[next], v)) {
				value += ", " + cleanName(lines[next])
			}
		}
		return Candidate{Value: value, Score: best.score(), Index: bestIdx}
	}
	return Candidate{Value: DefaultLocation, Index: -1}
}

func addressCandidate(line string) bool {
	if hasPrice(line) || isLogoArtifact(line) || reURL.MatchString(line) || reMaskedCard.MatchString(line) {
		return false
	}
	if rePromo.MatchString(line) || reTotalWord.MatchString(line) {
		return false
	}
	// Bare phone numbers look like postcodes to the looser patterns.
	if rePhone.MatchString(line) && alphaCount(line) < 4 {
		return false
	}
	return alphaCount(line) >= 2
}

func parseAddress(line string, v *vocab.Vocabulary) addressParts {
	parts := addressParts{
		postcode: rePostcodeUK.MatchString(line) || rePostcodeUS.MatchString(strings.TrimSpace(line)),
		city:     v.HasCity(line),
	}
	// A street word alone is too common in product names.
	parts.street = reStreet.MatchString(line) && (digitCount(line) > 0 || parts.postcode || parts.city)
	return parts
}
