// Package parser turns recognized receipt text into structured fields. Each field has
// its own extractor working over the receipt's lines; Parser runs them in order and fills
// safe defaults for anything that cannot be found.
package parser

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/zombor/receipt-scanner/internal/money"
	"github.com/zombor/receipt-scanner/internal/vocab"
)

// ExtractedReceiptData is the structured result of parsing a receipt image.
type ExtractedReceiptData struct {
	MerchantName  string     `json:"merchantName"`
	Location      string     `json:"location"`
	Total         string     `json:"total"`
	Subtotal      *string    `json:"subtotal,omitempty"`
	Tax           *string    `json:"tax,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	ReceiptNumber *string    `json:"receiptNumber,omitempty"`
	PaymentMethod string     `json:"paymentMethod"`
	Category      *string    `json:"category,omitempty"`
	Items         []Item     `json:"items"`
}

// DefaultReceiptData is the record returned when no text could be recognized.
func DefaultReceiptData() *ExtractedReceiptData {
	return &ExtractedReceiptData{
		MerchantName:  DefaultMerchant,
		Location:      DefaultLocation,
		Total:         money.Zero,
		PaymentMethod: DefaultPaymentMethod,
		Items:         []Item{},
	}
}

// Config tunes parsing.
type Config struct {
	// MonthFirst reads ambiguous numeric dates as MM/DD.
	MonthFirst bool
}

// Parser extracts receipt fields from OCR text.
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
	return &Parser{vocab: v, cfg: cfg, logger: logger}
}

// Parse extracts every field from text. It never fails; missing fields keep their
// defaults.
func (p *Parser) Parse(text string) *ExtractedReceiptData {
	data := DefaultReceiptData()
	lines := SplitLines(text)
	if len(lines) == 0 {
		return data
	}

	merchant := ExtractMerchant(lines, p.vocab)
	data.MerchantName = merchant.Value
	if m, ok := p.vocab.MatchMerchant(merchant.Value); ok && m.Category != "" {
		category := m.Category
		data.Category = &category
	}

	location := ExtractLocation(lines, merchant.Index, p.vocab)
	data.Location = location.Value

	data.PaymentMethod = ExtractPaymentMethod(lines).Value
	data.Date = ExtractDate(lines, p.cfg.MonthFirst)

	total, hasTotal := ExtractTotal(lines)
	data.Total = total
	if v, ok := ExtractSubtotal(lines); ok {
		data.Subtotal = &v
	}
	if v, ok := ExtractTax(lines); ok {
		data.Tax = &v
	}
	if v, ok := ExtractReceiptNumber(lines); ok {
		data.ReceiptNumber = &v
	}

	// Items start below the header. Only an address printed under the merchant moves it.
	start := merchant.Index + 1
	if location.Index > merchant.Index && location.Index <= merchant.Index+locationAdjacent {
		start = location.Index + 1
	}
	opts := ItemOptions{
		Start:   start,
		Exclude: []string{merchant.Value, location.Value},
	}
	if hasTotal {
		opts.Total = total
	}
	data.Items = ExtractItems(lines, opts)

	p.logger.Debug().
		Str("merchant", data.MerchantName).
		Int("merchant_score", merchant.Score).
		Str("location", data.Location).
		Str("total", data.Total).
		Int("items", len(data.Items)).
		Msg("parsed receipt text")
	return data
}
