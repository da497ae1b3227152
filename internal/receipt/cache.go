package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// CachedStore keeps an in-memory snapshot of every receipt and reloads it after each
// mutation. Reads of the full list are served from the snapshot.
type CachedStore struct {
	Store

	mu       sync.RWMutex
	receipts []*Receipt
}

// NewCachedStore wraps store and loads the initial snapshot
func NewCachedStore(ctx context.Context, store Store) (*CachedStore, error) {
	c := &CachedStore{Store: store}
	if err := c.reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CachedStore) reload(ctx context.Context) error {
	receipts, err := c.Store.ListReceipts(ctx)
	if err != nil {
		return fmt.Errorf("loading receipts: %w", err)
	}
	c.mu.Lock()
	c.receipts = receipts
	c.mu.Unlock()
	return nil
}

// refresh reloads after a mutation. A failed reload leaves the previous snapshot in place.
func (c *CachedStore) refresh(ctx context.Context) {
	if err := c.reload(ctx); err != nil {
		slog.Warn("Failed to refresh receipt cache", "error", err)
	}
}

// ListReceipts returns copies of the cached receipts
func (c *CachedStore) ListReceipts(ctx context.Context) ([]*Receipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Receipt, len(c.receipts))
	for i, r := range c.receipts {
		rec := *r
		out[i] = &rec
	}
	return out, nil
}

// AddReceipt implements Store
func (c *CachedStore) AddReceipt(ctx context.Context, receipt *Receipt) (int64, error) {
	id, err := c.Store.AddReceipt(ctx, receipt)
	if err != nil {
		return 0, err
	}
	c.refresh(ctx)
	return id, nil
}

// DeleteReceipt implements Store
func (c *CachedStore) DeleteReceipt(ctx context.Context, id int64) error {
	if err := c.Store.DeleteReceipt(ctx, id); err != nil {
		return err
	}
	c.refresh(ctx)
	return nil
}

// UpdateBarcodeData implements Store
func (c *CachedStore) UpdateBarcodeData(ctx context.Context, id int64, data string) error {
	if err := c.Store.UpdateBarcodeData(ctx, id, data); err != nil {
		return err
	}
	c.refresh(ctx)
	return nil
}

// MarkSynced implements Store
func (c *CachedStore) MarkSynced(ctx context.Context, ids []int64) error {
	if err := c.Store.MarkSynced(ctx, ids); err != nil {
		return err
	}
	c.refresh(ctx)
	return nil
}
