package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/return-pocket/internal/location"
	"github.com/zombor/return-pocket/internal/scanning"
)

// maxUploadSize fits high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// corsError writes a plain text error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// errorStatus maps domain errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrScanInProgress), errors.Is(err, ErrNoDraft):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownRetailer), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidFileName):
		return http.StatusBadRequest
	case errors.Is(err, ErrExtraction):
		return http.StatusUnprocessableEntity
	case IsNotFound(err), errors.Is(err, scanning.ErrNoBarcode):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func receiptID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "Receipt ID must be a positive integer")
		return 0, false
	}
	return id, true
}

// handleStartScan accepts a captured receipt and returns the extracted draft
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeJSONError(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeJSONError(w, http.StatusBadRequest, errorMsg)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	ctx := r.Context()
	lat, lon := r.FormValue("lat"), r.FormValue("lon")
	if lat != "" || lon != "" {
		coords, err := parseCoordinates(lat, lon)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		ctx = location.WithCoordinates(ctx, coords)
	}

	draft, err := s.service.StartScan(ctx, header.Filename, data, r.FormValue("barcode"))
	if err != nil {
		writeJSONError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, draft)
}

func parseCoordinates(lat, lon string) (location.Coordinates, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil || la < -90 || la > 90 {
		return location.Coordinates{}, fmt.Errorf("invalid latitude %q", lat)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil || lo < -180 || lo > 180 {
		return location.Coordinates{}, fmt.Errorf("invalid longitude %q", lon)
	}
	return location.Coordinates{Latitude: la, Longitude: lo}, nil
}

type scanResponse struct {
	State State    `json:"state"`
	Draft *Receipt `json:"draft,omitempty"`
}

// handleCurrentScan reports the scan flow state and any draft
func (s *Server) handleCurrentScan(w http.ResponseWriter, r *http.Request) {
	state, draft := s.service.CurrentScan()
	writeJSON(w, http.StatusOK, scanResponse{State: state, Draft: draft})
}

// handleUpdateScan applies store and amount corrections to the draft
func (s *Server) handleUpdateScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreName   *string         `json:"store_name"`
		TotalAmount json.RawMessage `json:"total_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	update := DraftUpdate{StoreName: req.StoreName}
	if amount, ok := rawAmount(req.TotalAmount); ok {
		update.TotalAmount = &amount
	}

	draft, err := s.service.UpdateDraft(update)
	if err != nil {
		writeJSONError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// rawAmount accepts the amount as a JSON number or a string such as "€2.30"
func rawAmount(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return strings.TrimSpace(string(raw)), true
}

// handleConfirmScan persists the draft
func (s *Server) handleConfirmScan(w http.ResponseWriter, r *http.Request) {
	saved, err := s.service.ConfirmScan(r.Context())
	if err != nil {
		slog.Error("Error confirming receipt", "error", err)
		status := errorStatus(err)
		body := map[string]any{"error": err.Error()}
		if draft, ok := s.service.orchestrator.Draft(); ok {
			body["draft"] = draft
		}
		setCORSHeaders(w)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// handleCancelScan discards the draft
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelScan(); err != nil {
		writeJSONError(w, errorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts(r.Context())
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}
	receipt, err := s.service.GetReceipt(r.Context(), id)
	if err != nil {
		writeJSONError(w, errorStatus(err), "Receipt not found")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteReceipt(r.Context(), id); err != nil {
		slog.Error("Error deleting receipt", "id", id, "error", err)
		writeJSONError(w, errorStatus(err), "Error deleting receipt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMarkUsed marks a receipt's voucher as redeemed
func (s *Server) handleMarkUsed(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}
	receipt, err := s.service.MarkUsed(r.Context(), id)
	if err != nil {
		writeJSONError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the stored capture for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}
	data, contentType, err := s.service.GetReceiptFile(r.Context(), id)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleGetBarcode renders the receipt's barcode as a PNG
func (s *Server) handleGetBarcode(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}
	data, err := s.service.BarcodeImage(r.Context(), id)
	if err != nil {
		writeJSONError(w, errorStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// handleExportReceipts streams the receipt history as an XLSX workbook
func (s *Server) handleExportReceipts(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.ExportXLSX(r.Context(), &buf); err != nil {
		slog.Error("Error exporting receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, s.service.ExportFilename()))
	w.Write(buf.Bytes())
}

// handleStats returns the history summary
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		slog.Error("Error computing stats", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleSync runs one sync with the remote backend
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Sync is not configured")
		return
	}
	result, err := s.syncer.Sync(r.Context())
	if err != nil {
		slog.Error("Error syncing receipts", "error", err)
		writeJSONError(w, http.StatusBadGateway, "Sync failed, receipts will be retried later")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
