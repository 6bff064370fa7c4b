package receipt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zombor/receipt-scanner/internal/email"
	"github.com/zombor/receipt-scanner/internal/pipeline"
	"github.com/zombor/receipt-scanner/internal/validator"
)

// Extractor runs the extraction pipeline.
type Extractor interface {
	ExtractImage(ctx context.Context, data []byte) (*pipeline.Extraction, error)
	ExtractEmail(ctx context.Context, payload email.Payload) (*email.ParseResult, error)
}

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Service stores uploads and their extraction results.
type Service struct {
	db          DB
	extractor   Extractor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	logger      zerolog.Logger
}

// NewService creates a Service with UUID IDs and the system clock.
func NewService(db DB, extractor Extractor, storage Storage, logger zerolog.Logger) *Service {
	return NewServiceWithDeps(db, extractor, storage, uuidGenerator{}, systemClock{}, logger)
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource, logger zerolog.Logger) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		logger:      logger,
	}
}

var (
	reFilenameJunk   = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reFilenameSpaces = regexp.MustCompile(`\s+`)
)

// sanitizeFilename shortens phone-generated names and strips characters unsafe on disk.
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 6 || reFilenameJunk.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = reFilenameJunk.ReplaceAllString(base, "")
	base = strings.TrimSpace(reFilenameSpaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// ProcessImage saves the upload, runs the image pipeline and stores the result. The upload
// is removed again when the image is not a receipt or extraction fails.
func (s *Service) ProcessImage(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()
	log := s.logger.With().Str("receipt_id", id).Str("filename", filename).Logger()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	extraction, err := s.extractor.ExtractImage(ctx, data)
	if err != nil {
		if errors.Is(err, validator.ErrNotAReceipt) {
			log.Info().Msg("discarding upload that is not a receipt")
		} else {
			log.Error().Err(err).Str("content_type", contentType).Int("file_size", len(data)).Msg("failed to extract receipt")
		}
		s.discard(savedPath)
		return nil, fmt.Errorf("extracting receipt: %w", err)
	}

	receipt := &Receipt{
		ID:          id,
		Source:      SourceImage,
		Filename:    savedPath,
		ContentType: contentType,
		Data:        extraction.Data,
		OCR: &OCRInfo{
			Engine:     extraction.Engine,
			Confidence: extraction.Confidence,
			FellBack:   extraction.FellBack,
			Text:       extraction.Text,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.db.SaveReceipt(receipt); err != nil {
		s.discard(savedPath)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return receipt, nil
}

// ProcessEmail parses a forwarded email and stores the result.
func (s *Service) ProcessEmail(ctx context.Context, payload email.Payload) (*Receipt, error) {
	result, err := s.extractor.ExtractEmail(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("extracting email: %w", err)
	}

	now := s.timeSource.Now()
	receipt := &Receipt{
		ID:        s.idGenerator.Generate(),
		Source:    SourceEmail,
		Email:     result,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return receipt, nil
}

func (s *Service) discard(path string) {
	if err := s.storage.Delete(path); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to remove upload")
	}
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.Filename != "" {
		// a missing file should not keep the record alive
		s.discard(receipt.Filename)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile returns the uploaded file and its content type. Email receipts have no
// file and return ErrNotFound.
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.Filename == "" {
		return nil, "", fmt.Errorf("%w: receipt %s has no file", ErrNotFound, id)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, receipt.ContentType, nil
}
