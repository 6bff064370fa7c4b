// Package pipeline dispatches a receipt image or email through the extraction stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zombor/receipt-scanner/internal/email"
	"github.com/zombor/receipt-scanner/internal/metrics"
	"github.com/zombor/receipt-scanner/internal/ocr"
	"github.com/zombor/receipt-scanner/internal/parser"
	"github.com/zombor/receipt-scanner/internal/validator"
)

// Preprocessor turns raw image bytes into an OCR-ready image.
type Preprocessor interface {
	Process(ctx context.Context, data []byte) ([]byte, error)
}

// Recognizer extracts text from a preprocessed image.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) (ocr.Result, error)
}

// Extraction is the outcome of the image path.
type Extraction struct {
	Data       *parser.ExtractedReceiptData `json:"data"`
	Text       string                       `json:"text"`
	Engine     string                       `json:"engine,omitempty"`
	Confidence float64                      `json:"confidence"`
	FellBack   bool                         `json:"fellBack"`
	Validation *validator.Result            `json:"validation,omitempty"`
}

// Extractor composes the stages.
type Extractor struct {
	pre       Preprocessor
	rec       Recognizer
	validator *validator.Validator
	parser    *parser.Parser
	email     *email.Parser
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New creates an Extractor.
func New(pre Preprocessor, rec Recognizer, v *validator.Validator, p *parser.Parser, e *email.Parser, m *metrics.Metrics, logger zerolog.Logger) *Extractor {
	return &Extractor{
		pre:       pre,
		rec:       rec,
		validator: v,
		parser:    p,
		email:     e,
		metrics:   m,
		logger:    logger,
	}
}

// ExtractImage runs preprocess, OCR, validation and parsing. It returns
// validator.ErrNotAReceipt when the text does not look like a receipt, and the default
// record when no text was recognized.
func (e *Extractor) ExtractImage(ctx context.Context, data []byte) (*Extraction, error) {
	img, err := e.pre.Process(ctx, data)
	if err != nil {
		e.metrics.Extraction("image", "error")
		return nil, err
	}

	res, err := e.rec.Recognize(ctx, img)
	if err != nil {
		e.metrics.Extraction("image", "error")
		return nil, fmt.Errorf("recognizing text: %w", err)
	}

	out := &Extraction{
		Text:       res.Text,
		Engine:     res.Engine,
		Confidence: res.Confidence,
		FellBack:   res.FellBack,
	}
	if res.Text == "" {
		e.logger.Info().Msg("no text recognized, returning defaults")
		e.metrics.Extraction("image", "empty")
		out.Data = parser.DefaultReceiptData()
		return out, nil
	}

	validation, err := e.validator.Validate(res.Text)
	out.Validation = &validation
	if errors.Is(err, validator.ErrNotAReceipt) {
		e.logger.Info().Int("score", validation.Score).Msg("rejected non-receipt image")
		e.metrics.Extraction("image", "not_receipt")
		return nil, err
	}

	out.Data = e.parser.Parse(res.Text)
	e.logger.Info().
		Str("merchant", out.Data.MerchantName).
		Str("total", out.Data.Total).
		Str("engine", out.Engine).
		Bool("fell_back", out.FellBack).
		Msg("extracted receipt")
	e.metrics.Extraction("image", "ok")
	return out, nil
}

// ExtractEmail parses a forwarded email.
func (e *Extractor) ExtractEmail(_ context.Context, payload email.Payload) (*email.ParseResult, error) {
	res, err := e.email.Parse(payload)
	if err != nil {
		e.metrics.Extraction("email", "error")
		return nil, err
	}
	e.metrics.Extraction("email", "ok")
	return res, nil
}
