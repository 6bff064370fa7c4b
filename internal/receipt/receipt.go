// Package receipt stores extracted receipts and serves them over HTTP.
package receipt

import (
	"errors"
	"time"

	"github.com/zombor/receipt-scanner/internal/email"
	"github.com/zombor/receipt-scanner/internal/parser"
)

// ErrNotFound is returned when no receipt has the requested ID.
var ErrNotFound = errors.New("receipt not found")

// Source records which path produced a receipt.
type Source string

const (
	SourceImage Source = "image"
	SourceEmail Source = "email"
)

// Receipt is a stored extraction result
type Receipt struct {
	ID          string                       `json:"id"`
	Source      Source                       `json:"source"`
	Filename    string                       `json:"filename,omitempty"`
	ContentType string                       `json:"content_type,omitempty"`
	Data        *parser.ExtractedReceiptData `json:"data,omitempty"`
	Email       *email.ParseResult           `json:"email,omitempty"`
	OCR         *OCRInfo                     `json:"ocr,omitempty"`
	CreatedAt   time.Time                    `json:"created_at"`
	UpdatedAt   time.Time                    `json:"updated_at"`
}

// OCRInfo describes how the text of an image receipt was recognized.
type OCRInfo struct {
	Engine     string  `json:"engine"`
	Confidence float64 `json:"confidence"`
	FellBack   bool    `json:"fell_back"`
	Text       string  `json:"text"`
}
