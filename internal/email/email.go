// Package email extracts purchase details from forwarded receipt emails.
package email

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/zombor/receipt-scanner/internal/money"
	"github.com/zombor/receipt-scanner/internal/parser"
	"github.com/zombor/receipt-scanner/internal/vocab"
)

// DefaultMerchant is used when no source names the sender business.
const DefaultMerchant = "Unknown Merchant"

// Attachment is a file referenced by the email.
type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Payload is a forwarded email.
type Payload struct {
	Subject     string       `json:"subject"`
	Sender      string       `json:"sender"`
	HTML        string       `json:"htmlBody"`
	Text        string       `json:"textBody"`
	Attachments []Attachment `json:"attachments"`
}

// LineItem is a purchased line read from an email table.
type LineItem struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

// ParseResult is the structured result of parsing an email.
type ParseResult struct {
	Merchant    string       `json:"merchant"`
	Amount      string       `json:"amount"`
	Currency    string       `json:"currency"`
	Date        *time.Time   `json:"date,omitempty"`
	LineItems   []LineItem   `json:"lineItems"`
	Confidence  float64      `json:"confidence"`
	Attachments []Attachment `json:"attachments"`
}

// Config tunes email parsing.
type Config struct {
	// DefaultCurrency is used when no symbol or code sits next to the amount.
	DefaultCurrency string
	MonthFirst      bool
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{DefaultCurrency: "USD"}
}

// Parser extracts a ParseResult from email payloads.
type Parser struct {
	vocab  *vocab.Vocabulary
	cfg    Config
	logger zerolog.Logger
}

// New creates a Parser. A nil vocabulary uses the embedded defaults.
func New(v *vocab.Vocabulary, cfg Config, logger zerolog.Logger) *Parser {
	if v == nil {
		v = vocab.Default()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = DefaultConfig().DefaultCurrency
	}
	return &Parser{vocab: v, cfg: cfg, logger: logger}
}

// Parse extracts merchant, amount, currency, items and a confidence score from payload.
// Missing fields keep their defaults; only an unreadable body is an error.
func (p *Parser) Parse(payload Payload) (*ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(payload.HTML))
	if err != nil {
		return nil, fmt.Errorf("parsing email html: %w", err)
	}
	body := renderText(doc)
	combined := strings.TrimSpace(body + "\n" + payload.Text)

	merchant, known := p.merchant(doc, payload, combined)
	items := lineItems(doc)
	amt, explicit := p.total(doc, combined)

	result := &ParseResult{
		Merchant:    merchant,
		Amount:      money.Zero,
		Currency:    p.cfg.DefaultCurrency,
		Date:        parser.ExtractDate(parser.SplitLines(combined), p.cfg.MonthFirst),
		LineItems:   items,
		Attachments: payload.Attachments,
	}
	if result.Attachments == nil {
		result.Attachments = []Attachment{}
	}
	if amt.found {
		result.Amount = money.Format(amt.value)
		if amt.currency != "" {
			result.Currency = amt.currency
		}
	}
	result.Confidence = confidence(amt, explicit, len(items) > 0, known)

	p.logger.Debug().
		Str("merchant", result.Merchant).
		Str("amount", result.Amount).
		Str("currency", result.Currency).
		Float64("confidence", result.Confidence).
		Msg("parsed email")
	return result, nil
}

func confidence(amt amount, explicit, hasItems, knownMerchant bool) float64 {
	c := 0.3
	switch {
	case amt.found && explicit:
		c += 0.4
	case amt.found:
		c += 0.2
	}
	if hasItems {
		c += 0.1
	}
	if knownMerchant {
		c += 0.15
	}
	if amt.found && amt.value.LessThan(smallAmount) {
		c -= 0.2
	}
	c = math.Max(0, math.Min(1, c))
	return math.Round(c*100) / 100
}
