package receipt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/zombor/return-pocket/internal/scanning"
)

const (
	barcodeWidth  = 400
	barcodeHeight = 120
)

// IDGenerator generates unique names for stored captures
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service ties the scan flow to capture storage and the receipt history
type Service struct {
	store        Store
	orchestrator *Orchestrator
	storage      Storage
	idGenerator  IDGenerator
	timeSource   TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(store Store, orchestrator *Orchestrator, storage Storage) *Service {
	return NewServiceWithDeps(store, orchestrator, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, orchestrator *Orchestrator, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:        store,
		orchestrator: orchestrator,
		storage:      storage,
		idGenerator:  idGen,
		timeSource:   timeSrc,
	}
}

var (
	filenameNoise = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	// Keep only alphanumeric, spaces, hyphens, and underscores
	base = filenameNoise.ReplaceAllString(base, "")
	base = whitespace.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Truncate to reasonable length (50 chars for base, plus extension)
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}
	// extensions come from the client too
	ext = filenameNoise.ReplaceAllString(strings.TrimPrefix(ext, "."), "")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// StartScan stores an uploaded capture and runs it through the scan flow. The
// capture is removed again if the scan fails.
func (s *Service) StartScan(ctx context.Context, filename string, data []byte, barcode string) (*Receipt, error) {
	name := fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename))

	saved, err := s.storage.Save(name, data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	path, err := s.storage.Path(saved)
	if err != nil {
		s.discardCapture(saved)
		return nil, fmt.Errorf("resolving file: %w", err)
	}

	draft, err := s.orchestrator.Scan(ctx, ScanRequest{
		ImagePath: path,
		ImageRef:  saved,
		Barcode:   strings.TrimSpace(barcode),
	})
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"file_size", len(data),
			"error", err,
		)
		s.discardCapture(saved)
		return nil, err
	}
	return draft, nil
}

func (s *Service) discardCapture(name string) {
	if name == "" {
		return
	}
	if err := s.storage.Delete(name); err != nil {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}

// CurrentScan returns the state of the scan flow and its draft, if any
func (s *Service) CurrentScan() (State, *Receipt) {
	draft, _ := s.orchestrator.Draft()
	return s.orchestrator.State(), draft
}

// DraftUpdate holds user corrections to a draft. Nil fields are left unchanged.
type DraftUpdate struct {
	StoreName   *string
	TotalAmount *string
}

// UpdateDraft applies user corrections to the draft awaiting confirmation
func (s *Service) UpdateDraft(update DraftUpdate) (*Receipt, error) {
	// validate everything first so a bad field leaves the draft untouched
	if update.StoreName != nil {
		if _, ok := scanning.ParseRetailer(*update.StoreName); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRetailer, *update.StoreName)
		}
	}
	if update.TotalAmount != nil {
		if _, err := parseAmount(*update.TotalAmount); err != nil {
			return nil, err
		}
	}

	var (
		draft *Receipt
		err   error
	)
	if update.StoreName != nil {
		if draft, err = s.orchestrator.SelectStore(*update.StoreName); err != nil {
			return nil, err
		}
	}
	if update.TotalAmount != nil {
		if draft, err = s.orchestrator.EditAmount(*update.TotalAmount); err != nil {
			return nil, err
		}
	}
	if draft == nil {
		d, ok := s.orchestrator.Draft()
		if !ok {
			return nil, ErrNoDraft
		}
		draft = d
	}
	return draft, nil
}

// ConfirmScan persists the draft
func (s *Service) ConfirmScan(ctx context.Context) (*Receipt, error) {
	return s.orchestrator.Confirm(ctx)
}

// CancelScan discards the draft and its stored capture
func (s *Service) CancelScan() error {
	draft, err := s.orchestrator.Cancel()
	if err != nil {
		return err
	}
	s.discardCapture(draft.ImagePath)
	return nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(ctx context.Context, id int64) (*Receipt, error) {
	receipt, err := s.store.GetReceiptByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts(ctx context.Context) ([]*Receipt, error) {
	receipts, err := s.store.ListReceipts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its capture
func (s *Service) DeleteReceipt(ctx context.Context, id int64) error {
	receipt, err := s.store.GetReceiptByID(ctx, id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	// a missing file should not keep the record around
	s.discardCapture(receipt.ImagePath)

	if err := s.store.DeleteReceipt(ctx, id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// MarkUsed records that the receipt's voucher has been redeemed
func (s *Service) MarkUsed(ctx context.Context, id int64) (*Receipt, error) {
	if err := s.store.UpdateBarcodeData(ctx, id, AlreadyUsed); err != nil {
		return nil, fmt.Errorf("marking receipt used: %w", err)
	}
	return s.GetReceipt(ctx, id)
}

// GetReceiptFile retrieves the stored capture of a receipt
func (s *Service) GetReceiptFile(ctx context.Context, id int64) ([]byte, string, error) {
	receipt, err := s.store.GetReceiptByID(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.ImagePath == "" {
		return nil, "", fmt.Errorf("receipt %d has no stored file: %w", id, os.ErrNotExist)
	}

	data, err := s.storage.Get(receipt.ImagePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, http.DetectContentType(data), nil
}

// BarcodeImage renders the receipt's barcode payload as a CODE128 PNG
func (s *Service) BarcodeImage(ctx context.Context, id int64) ([]byte, error) {
	receipt, err := s.store.GetReceiptByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	img, err := scanning.RenderCode128(receipt.BarcodeData, barcodeWidth, barcodeHeight)
	if err != nil {
		return nil, fmt.Errorf("rendering barcode: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding barcode: %w", err)
	}
	return buf.Bytes(), nil
}

// Stats summarizes the receipt history
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	receipts, err := s.ListReceipts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(receipts), nil
}

// ExportXLSX writes the receipt history as an XLSX workbook
func (s *Service) ExportXLSX(ctx context.Context, w io.Writer) error {
	receipts, err := s.ListReceipts(ctx)
	if err != nil {
		return err
	}
	if err := WriteXLSX(w, receipts); err != nil {
		return fmt.Errorf("exporting receipts: %w", err)
	}
	return nil
}

// ExportFilename names an export workbook after the current date
func (s *Service) ExportFilename() string {
	return fmt.Sprintf("return-pocket-%s.xlsx", s.timeSource.Now().Format("2006-01-02"))
}

// IsNotFound reports whether err means the requested receipt or file does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrReceiptNotFound) || errors.Is(err, os.ErrNotExist)
}
