package receipt

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/return-pocket/internal/scanning"
)

// AlreadyUsed replaces the barcode payload of a receipt that has been redeemed
const AlreadyUsed = "ALREADY USED"

var (
	// ErrExtraction is returned when a capture could not be turned into receipt fields
	ErrExtraction = errors.New("receipt extraction failed")
	// ErrInvalidAmount is returned for negative or non-numeric amounts
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrPersistence is returned when a confirmed draft could not be stored
	ErrPersistence = errors.New("receipt could not be saved")
	// ErrReceiptNotFound is returned when no receipt has the requested id
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrScanInProgress is returned when a scan is started while another flow is active
	ErrScanInProgress = errors.New("a scan is already in progress")
	// ErrNoDraft is returned when a draft operation is attempted outside confirmation
	ErrNoDraft = errors.New("no receipt awaiting confirmation")
	// ErrUnknownRetailer is returned when a store name is not one of the selectable retailers
	ErrUnknownRetailer = errors.New("unknown retailer")
)

// Receipt represents a scanned deposit return receipt
type Receipt struct {
	ID          int64             `json:"id,omitempty"`
	StoreName   scanning.Retailer `json:"store_name"`
	Location    string            `json:"location"`
	Points      int64             `json:"points"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	ImagePath   string            `json:"img_path,omitempty"`
	BarcodeData string            `json:"barcode_data"`
	Timestamp   time.Time         `json:"timestamp"`
	Synced      bool              `json:"synced"`
}

// Used reports whether the receipt has been redeemed
func (r *Receipt) Used() bool {
	return r.BarcodeData == AlreadyUsed
}
