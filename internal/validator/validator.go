// Package validator decides whether recognized text looks like a purchase receipt before
// any field extraction is attempted.
package validator

import (
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zombor/receipt-scanner/internal/vocab"
)

// ErrNotAReceipt is returned for text that fails every receipt heuristic. Callers should
// discard the input rather than retry.
var ErrNotAReceipt = errors.New("not a receipt")

// Tier names the heuristic that accepted the text.
type Tier string

const (
	TierNone   Tier = ""
	TierStrong Tier = "strong"
	TierMedium Tier = "medium"
	TierWeak   Tier = "weak"
)

const (
	weakMinLines = 4
	weakMinChars = 40
)

var (
	rePrice    = regexp.MustCompile(`[$£€]?\d+\.\d{2}\b`)
	reCurrency = regexp.MustCompile(`[$£€]`)
	reLabel    = regexp.MustCompile(`(?i)\b(?:total|sub\s*-?\s*total|vat|tax|balance|amount\s+due|change\s+due)\b`)
	reDateTime = regexp.MustCompile(`\b\d{1,4}[/\-.]\d{1,2}[/\-.]\d{2,4}\b|\b\d{1,2}:\d{2}\b|(?i)\b\d{1,2}\s*(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\b`)
)

// Signals are the raw measurements behind a decision.
type Signals struct {
	Prices          int  `json:"prices"`
	CurrencySymbol  bool `json:"currencySymbol"`
	TotalLabel      bool `json:"totalLabel"`
	DateOrTime      bool `json:"dateOrTime"`
	MerchantKeyword bool `json:"merchantKeyword"`
	Lines           int  `json:"lines"`
	Chars           int  `json:"chars"`
}

// Result is the validator's verdict with a diagnostic score.
type Result struct {
	IsReceipt bool    `json:"isReceipt"`
	Score     int     `json:"score"`
	Tier      Tier    `json:"tier"`
	Signals   Signals `json:"signals"`
}

// Validator scores OCR text against receipt heuristics.
type Validator struct {
	vocab  *vocab.Vocabulary
	logger zerolog.Logger
}

// New creates a Validator. A nil vocabulary uses the embedded defaults.
func New(v *vocab.Vocabulary, logger zerolog.Logger) *Validator {
	if v == nil {
		v = vocab.Default()
	}
	return &Validator{vocab: v, logger: logger}
}

// Evaluate measures text and applies the strong, medium and weak tiers in turn.
func (v *Validator) Evaluate(text string) Result {
	s := v.measure(text)
	r := Result{Signals: s, Score: score(s)}

	switch {
	case s.TotalLabel && s.Prices >= 1:
		r.Tier = TierStrong
	case s.Prices >= 2 && s.MerchantKeyword:
		r.Tier = TierMedium
	case s.CurrencySymbol && s.Prices >= 1 && s.Lines >= weakMinLines && s.Chars >= weakMinChars:
		r.Tier = TierWeak
	}
	r.IsReceipt = r.Tier != TierNone

	v.logger.Debug().
		Bool("is_receipt", r.IsReceipt).
		Str("tier", string(r.Tier)).
		Int("score", r.Score).
		Int("prices", s.Prices).
		Msg("validated text")
	return r
}

// Validate returns ErrNotAReceipt when text fails every tier.
func (v *Validator) Validate(text string) (Result, error) {
	r := v.Evaluate(text)
	if !r.IsReceipt {
		return r, ErrNotAReceipt
	}
	return r, nil
}

func (v *Validator) measure(text string) Signals {
	lines := 0
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines++
		}
	}
	return Signals{
		Prices:          len(rePrice.FindAllString(text, -1)),
		CurrencySymbol:  reCurrency.MatchString(text),
		TotalLabel:      reLabel.MatchString(text),
		DateOrTime:      reDateTime.MatchString(text),
		MerchantKeyword: v.vocab.HasStoreKeyword(text) || v.merchantMentioned(text),
		Lines:           lines,
		Chars:           len(strings.TrimSpace(text)),
	}
}

func (v *Validator) merchantMentioned(text string) bool {
	_, ok := v.vocab.MatchMerchant(text)
	return ok
}

// score is a diagnostic weighting of the signals. It does not affect the verdict.
func score(s Signals) int {
	n := min(s.Prices, 5) * 10
	if s.CurrencySymbol {
		n += 10
	}
	if s.TotalLabel {
		n += 30
	}
	if s.DateOrTime {
		n += 10
	}
	if s.MerchantKeyword {
		n += 15
	}
	if s.Lines >= weakMinLines {
		n += 5
	}
	return n
}
