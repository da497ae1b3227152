package cloudsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Ledger is the local record store as seen by sync
type Ledger interface {
	// UnsyncedBatch reads every unsynced receipt in one consistent snapshot
	UnsyncedBatch(ctx context.Context) (Batch, error)
	MarkSynced(ctx context.Context, ids []int64) error
}

// Batch is the unsynced set as of a single read. Total and ByStore cover exactly IDs.
type Batch struct {
	IDs     []int64
	Total   int64
	ByStore map[string]int64
}

// Add counts one unsynced receipt into the batch
func (b *Batch) Add(id int64, store string, points int64) {
	if b.ByStore == nil {
		b.ByStore = make(map[string]int64)
	}
	b.IDs = append(b.IDs, id)
	b.Total += points
	b.ByStore[store] += points
}

// Identity resolves the user the device is signed in as
type Identity interface {
	// CurrentUser returns false when no user is signed in
	CurrentUser(ctx context.Context) (uuid.UUID, bool, error)
}

// Remote is the backend holding per-user point totals. Both operations add to the
// stored values rather than replacing them.
type Remote interface {
	IncrementTotalPoints(ctx context.Context, user uuid.UUID, amount int64) error
	MergeStorePoints(ctx context.Context, user uuid.UUID, storePoints map[string]int64) error
}

// Result describes the outcome of one sync
type Result struct {
	Skipped  bool             `json:"skipped"`
	Reason   string           `json:"reason,omitempty"`
	User     string           `json:"user,omitempty"`
	Points   int64            `json:"points"`
	Stores   map[string]int64 `json:"stores,omitempty"`
	Receipts int              `json:"receipts"`
}

func skipped(reason string) Result {
	return Result{Skipped: true, Reason: reason}
}

// Aggregator pushes unsynced point totals to the remote and marks the contributing
// receipts synced once the remote has accepted them
type Aggregator struct {
	ledger   Ledger
	identity Identity
	remote   Remote

	mu sync.Mutex
}

// NewAggregator creates a new Aggregator
func NewAggregator(ledger Ledger, identity Identity, remote Remote) *Aggregator {
	return &Aggregator{
		ledger:   ledger,
		identity: identity,
		remote:   remote,
	}
}

// Sync runs one sync. Without a signed-in user, or with nothing to send, it does
// nothing. Only the receipts of the batch that was sent are marked synced, and only
// after both remote updates succeed. On any failure they stay unsynced and the whole
// batch is sent again next time, so an update the remote already applied before the
// other one failed is applied twice.
func (a *Aggregator) Sync(ctx context.Context) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, ok, err := a.identity.CurrentUser(ctx)
	if err != nil {
		slog.Warn("Could not resolve user, skipping sync", "error", err)
		return skipped("user unavailable"), nil
	}
	if !ok {
		return skipped("not signed in"), nil
	}

	batch, err := a.ledger.UnsyncedBatch(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reading unsynced receipts: %w", err)
	}
	total, ids, stores := batch.Total, batch.IDs, batch.ByStore
	if total == 0 || len(ids) == 0 {
		return skipped("nothing to sync"), nil
	}

	// neither call cancels the other; a canceled request may still land remotely
	var g errgroup.Group
	g.Go(func() error {
		if err := a.remote.IncrementTotalPoints(ctx, user, total); err != nil {
			return fmt.Errorf("incrementing total points: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.remote.MergeStorePoints(ctx, user, stores); err != nil {
			return fmt.Errorf("merging store points: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if err := a.ledger.MarkSynced(ctx, ids); err != nil {
		return Result{}, fmt.Errorf("marking receipts synced: %w", err)
	}

	slog.Info("Synced points", "user", user, "points", total, "receipts", len(ids))
	return Result{
		User:     user.String(),
		Points:   total,
		Stores:   stores,
		Receipts: len(ids),
	}, nil
}

// Run syncs immediately and then every interval until ctx is done. Failures are
// logged and retried on the next tick.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.Sync(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Sync failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
