package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/return-pocket/internal/location"
	"github.com/zombor/return-pocket/internal/scanning"
)

// State is a step of the scan flow
type State int

const (
	Idle State = iota
	BarcodeScanning
	LocationResolving
	ImageProcessing
	TextRecognizing
	FieldExtracting
	AwaitingConfirmation
	Persisting
	Completed
	Canceled
)

var stateNames = [...]string{
	Idle:                 "idle",
	BarcodeScanning:      "barcode_scanning",
	LocationResolving:    "location_resolving",
	ImageProcessing:      "image_processing",
	TextRecognizing:      "text_recognizing",
	FieldExtracting:      "field_extracting",
	AwaitingConfirmation: "awaiting_confirmation",
	Persisting:           "persisting",
	Completed:            "completed",
	Canceled:             "canceled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// terminal reports whether a new scan may start from this state
func (s State) terminal() bool {
	return s == Idle || s == Completed || s == Canceled
}

// Event reports a state transition of the scan flow
type Event struct {
	State State     `json:"state"`
	Time  time.Time `json:"time"`
}

// BarcodeScanned reports whether the barcode step has finished and the heavy
// processing is about to start
func (e Event) BarcodeScanned() bool {
	return e.State == LocationResolving
}

// ScanRequest describes a captured receipt to scan
type ScanRequest struct {
	// ImagePath is where the capture can be read from
	ImagePath string
	// ImageRef is recorded on the receipt as its img_path
	ImageRef string
	// Barcode is a payload already scanned by the client; the barcode reader is skipped when set
	Barcode string
}

// Orchestrator drives a single receipt from capture to persistence. Only one flow
// runs at a time.
type Orchestrator struct {
	store        Store
	preprocessor scanning.ImageProcessor
	recognizer   scanning.Recognizer
	barcodes     scanning.BarcodeReader
	resolver     location.Resolver
	events       chan<- Event
	timeSource   TimeSource

	mu    sync.Mutex
	state State
	draft *Receipt
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithBarcodeReader sets the reader used when the client sends no barcode
func WithBarcodeReader(r scanning.BarcodeReader) OrchestratorOption {
	return func(o *Orchestrator) { o.barcodes = r }
}

// WithLocationResolver sets the resolver for the capture location
func WithLocationResolver(r location.Resolver) OrchestratorOption {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithEvents sets a channel receiving every state transition. Events are dropped
// when the channel is not ready.
func WithEvents(ch chan<- Event) OrchestratorOption {
	return func(o *Orchestrator) { o.events = ch }
}

// WithTimeSource overrides the clock used for draft timestamps and events
func WithTimeSource(t TimeSource) OrchestratorOption {
	return func(o *Orchestrator) { o.timeSource = t }
}

// NewOrchestrator creates an Orchestrator in the Idle state
func NewOrchestrator(store Store, preprocessor scanning.ImageProcessor, recognizer scanning.Recognizer, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		preprocessor: preprocessor,
		recognizer:   recognizer,
		timeSource:   &defaultTimeSource{},
		state:        Idle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Draft returns a copy of the receipt awaiting confirmation
func (o *Orchestrator) Draft() (*Receipt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draft == nil {
		return nil, false
	}
	d := *o.draft
	return &d, true
}

// setState must be called with mu held
func (o *Orchestrator) setState(s State) {
	o.state = s
	if o.events == nil {
		return
	}
	select {
	case o.events <- Event{State: s, Time: o.timeSource.Now()}:
	default:
	}
}

func (o *Orchestrator) transition(s State) {
	o.mu.Lock()
	o.setState(s)
	o.mu.Unlock()
}

// Scan runs barcode capture, location lookup, preprocessing, OCR and field extraction,
// and leaves the resulting draft awaiting confirmation. Barcode and location failures
// degrade to empty values; image and OCR failures return ErrExtraction.
func (o *Orchestrator) Scan(ctx context.Context, req ScanRequest) (*Receipt, error) {
	o.mu.Lock()
	if !o.state.terminal() {
		o.mu.Unlock()
		return nil, ErrScanInProgress
	}
	o.draft = nil
	o.setState(BarcodeScanning)
	o.mu.Unlock()

	barcode := o.readBarcode(ctx, req)

	o.transition(LocationResolving)
	loc := o.resolveLocation(ctx)

	o.transition(ImageProcessing)
	img, err := o.preprocessor.Process(req.ImagePath)
	if err != nil {
		return nil, o.fail("preprocessing image", err)
	}

	o.transition(TextRecognizing)
	text, err := o.recognizer.Recognize(ctx, img)
	if err != nil {
		return nil, o.fail("recognizing text", err)
	}

	o.transition(FieldExtracting)
	fields := scanning.ExtractFields(text)
	points, err := CalculatePoints(fields.Amount)
	if err != nil {
		return nil, o.fail("calculating points", err)
	}
	amount := decimal.Zero
	if fields.Amount.Valid {
		amount = fields.Amount.Decimal.Round(2)
	}

	draft := &Receipt{
		StoreName:   fields.Store.OrUnknown(),
		Location:    loc,
		Points:      points,
		TotalAmount: amount,
		ImagePath:   req.ImageRef,
		BarcodeData: barcode,
		Timestamp:   o.timeSource.Now(),
	}

	o.mu.Lock()
	o.draft = draft
	o.setState(AwaitingConfirmation)
	o.mu.Unlock()

	slog.Info("Receipt scanned", "store", draft.StoreName, "amount", draft.TotalAmount.StringFixed(2), "points", draft.Points)
	d := *draft
	return &d, nil
}

func (o *Orchestrator) readBarcode(ctx context.Context, req ScanRequest) string {
	if req.Barcode != "" {
		return req.Barcode
	}
	if o.barcodes == nil {
		return ""
	}
	data, err := o.barcodes.ReadBarcode(ctx, req.ImagePath)
	if err != nil {
		slog.Warn("Barcode scan failed, continuing without barcode", "error", err)
		return ""
	}
	return data
}

func (o *Orchestrator) resolveLocation(ctx context.Context) string {
	if o.resolver == nil {
		return location.Unknown
	}
	loc, err := o.resolver.Resolve(ctx)
	if err != nil {
		slog.Warn("Location lookup failed, continuing with unknown location", "error", err)
		return location.Unknown
	}
	if loc == "" {
		return location.Unknown
	}
	return loc
}

func (o *Orchestrator) fail(step string, err error) error {
	slog.Error("Receipt scan failed", "step", step, "error", err)
	o.transition(Idle)
	return fmt.Errorf("%w: %s: %w", ErrExtraction, step, err)
}

// editDraft applies fn to the draft while it awaits confirmation
func (o *Orchestrator) editDraft(fn func(*Receipt) error) (*Receipt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != AwaitingConfirmation || o.draft == nil {
		return nil, ErrNoDraft
	}
	if err := fn(o.draft); err != nil {
		return nil, err
	}
	d := *o.draft
	return &d, nil
}

// SelectStore sets the draft's store to one of the selectable retailers
func (o *Orchestrator) SelectStore(name string) (*Receipt, error) {
	retailer, ok := scanning.ParseRetailer(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRetailer, name)
	}
	return o.editDraft(func(r *Receipt) error {
		r.StoreName = retailer
		return nil
	})
}

// EditAmount replaces the draft's total with a user-entered value. Manually edited
// amounts earn no points.
func (o *Orchestrator) EditAmount(text string) (*Receipt, error) {
	amount, err := parseAmount(text)
	if err != nil {
		return nil, err
	}
	return o.editDraft(func(r *Receipt) error {
		r.TotalAmount = amount
		r.Points = 0
		return nil
	})
}

func parseAmount(text string) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimSpace(strings.TrimPrefix(s, "€"))
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	return amount.Round(2), nil
}

// Confirm persists the draft. On a store failure the flow returns to
// AwaitingConfirmation with the draft intact so it can be retried.
func (o *Orchestrator) Confirm(ctx context.Context) (*Receipt, error) {
	o.mu.Lock()
	if o.state != AwaitingConfirmation || o.draft == nil {
		o.mu.Unlock()
		return nil, ErrNoDraft
	}
	draft := *o.draft
	o.setState(Persisting)
	o.mu.Unlock()

	id, err := o.store.AddReceipt(ctx, &draft)
	if err != nil {
		slog.Error("Failed to save receipt", "error", err)
		o.transition(AwaitingConfirmation)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	saved, err := o.store.GetReceiptByID(ctx, id)
	if err != nil {
		slog.Warn("Failed to read back saved receipt", "id", id, "error", err)
		draft.ID = id
		saved = &draft
	}

	o.mu.Lock()
	o.draft = nil
	o.setState(Completed)
	o.mu.Unlock()

	slog.Info("Receipt saved", "id", id, "store", saved.StoreName, "points", saved.Points)
	return saved, nil
}

// Cancel discards the draft without writing anything and returns it
func (o *Orchestrator) Cancel() (*Receipt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != AwaitingConfirmation || o.draft == nil {
		return nil, ErrNoDraft
	}
	d := o.draft
	o.draft = nil
	o.setState(Canceled)
	return d, nil
}
