package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-scanner/internal/email"
	"github.com/zombor/receipt-scanner/internal/ocr"
	"github.com/zombor/receipt-scanner/internal/preprocess"
	"github.com/zombor/receipt-scanner/internal/validator"
)

const (
	maxUploadSize = 50 << 20 // high-resolution phone photos
	maxEmailSize  = 10 << 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// extractionStatus maps pipeline errors to HTTP status codes.
func extractionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, validator.ErrNotAReceipt):
		return http.StatusUnprocessableEntity, "The image does not look like a receipt."
	case errors.Is(err, preprocess.ErrPreprocessing):
		return http.StatusBadRequest, "The image could not be read. Please upload a JPEG, PNG, HEIC or PDF."
	case errors.Is(err, ocr.ErrRecognitionUnavailable):
		return http.StatusBadGateway, "Text recognition is unavailable. Please try again later."
	}
	return http.StatusInternalServerError, "Error processing receipt"
}

// detectContentType prefers the declared type, then the extension, then the content.
func detectContentType(declared, filename string, data []byte) string {
	if ct, _, err := mime.ParseMediaType(declared); err == nil && ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		ct, _, _ = mime.ParseMediaType(ct)
		return ct
	}
	ct, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return ct
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		s.logger.Error().Err(err).Msg("error listing receipts")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleUploadReceipt handles receipt upload
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.logger.Warn().Err(err).Msg("error parsing multipart form")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.logger.Error().Err(err).Str("filename", header.Filename).Msg("error reading file data")
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "The uploaded file is empty.")
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename, data)
	receipt, err := s.service.ProcessImage(r.Context(), header.Filename, data, contentType)
	if err != nil {
		status, message := extractionStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("filename", header.Filename).Msg("error processing receipt")
		}
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleEmail parses a forwarded email payload
func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	var payload email.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEmailSize)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(payload.HTML) == "" && strings.TrimSpace(payload.Text) == "" {
		writeError(w, http.StatusBadRequest, "htmlBody or textBody is required")
		return
	}

	receipt, err := s.service.ProcessEmail(r.Context(), payload)
	if err != nil {
		s.logger.Error().Err(err).Str("subject", payload.Subject).Msg("error processing email")
		writeError(w, http.StatusInternalServerError, "Error processing email")
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the file for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		s.writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Receipt not found")
		return
	}
	s.logger.Error().Err(err).Msg("error looking up receipt")
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
