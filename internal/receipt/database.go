package receipt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/return-pocket/internal/cloudsync"
)

const bucketName = "receipts"

// Store defines the interface for receipt persistence
type Store interface {
	// AddReceipt inserts a receipt and returns its new id. The store assigns the id,
	// the timestamp and synced=false; the caller's struct is left untouched.
	AddReceipt(ctx context.Context, receipt *Receipt) (int64, error)

	// DeleteReceipt removes a receipt
	DeleteReceipt(ctx context.Context, id int64) error

	// GetReceiptByID retrieves a receipt by id
	GetReceiptByID(ctx context.Context, id int64) (*Receipt, error)

	// ListReceipts returns all receipts ordered by id
	ListReceipts(ctx context.Context) ([]*Receipt, error)

	// UpdateBarcodeData replaces the barcode payload of a receipt
	UpdateBarcodeData(ctx context.Context, id int64, data string) error

	// SumUnsyncedPoints totals the points of every receipt not yet synced
	SumUnsyncedPoints(ctx context.Context) (int64, error)

	// UnsyncedIDs returns the ids of receipts not yet synced
	UnsyncedIDs(ctx context.Context) ([]int64, error)

	// UnsyncedPointsByStore totals unsynced points per store name
	UnsyncedPointsByStore(ctx context.Context) (map[string]int64, error)

	// UnsyncedBatch reads the ids of every receipt not yet synced together with their
	// point totals, overall and per store name, from a single snapshot
	UnsyncedBatch(ctx context.Context) (cloudsync.Batch, error)

	// MarkSynced flags the given receipts as synced. Ids that no longer exist are skipped.
	MarkSynced(ctx context.Context, ids []int64) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the Store interface using BoltDB
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// AddReceipt saves a new receipt under the next bucket sequence
func (b *BoltDB) AddReceipt(ctx context.Context, receipt *Receipt) (int64, error) {
	var id int64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating id: %w", err)
		}

		rec := *receipt
		rec.ID = int64(seq)
		rec.Timestamp = b.now().UTC()
		rec.Synced = false

		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := bucket.Put(itob(rec.ID), data); err != nil {
			return err
		}
		id = rec.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetReceiptByID retrieves a receipt by id
func (b *BoltDB) GetReceiptByID(ctx context.Context, id int64) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get(itob(id))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrReceiptNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts in id order
func (b *BoltDB) ListReceipts(ctx context.Context) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.forEach(func(r *Receipt) error {
		receipts = append(receipts, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(ctx context.Context, id int64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get(itob(id)) == nil {
			return fmt.Errorf("%w: %d", ErrReceiptNotFound, id)
		}
		return bucket.Delete(itob(id))
	})
}

// UpdateBarcodeData replaces the stored barcode payload
func (b *BoltDB) UpdateBarcodeData(ctx context.Context, id int64, data string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return updateReceipt(bucket, id, func(r *Receipt) {
			r.BarcodeData = data
		})
	})
}

// UnsyncedBatch collects the unsynced receipts in one read transaction
func (b *BoltDB) UnsyncedBatch(ctx context.Context) (cloudsync.Batch, error) {
	var batch cloudsync.Batch
	err := b.forEach(func(r *Receipt) error {
		if !r.Synced {
			batch.Add(r.ID, string(r.StoreName), r.Points)
		}
		return nil
	})
	if err != nil {
		return cloudsync.Batch{}, err
	}
	return batch, nil
}

// SumUnsyncedPoints totals the points of unsynced receipts
func (b *BoltDB) SumUnsyncedPoints(ctx context.Context) (int64, error) {
	batch, err := b.UnsyncedBatch(ctx)
	return batch.Total, err
}

// UnsyncedIDs returns the ids of unsynced receipts
func (b *BoltDB) UnsyncedIDs(ctx context.Context) ([]int64, error) {
	batch, err := b.UnsyncedBatch(ctx)
	return unsyncedIDs(batch), err
}

// UnsyncedPointsByStore totals unsynced points per store
func (b *BoltDB) UnsyncedPointsByStore(ctx context.Context) (map[string]int64, error) {
	batch, err := b.UnsyncedBatch(ctx)
	return unsyncedByStore(batch), err
}

// MarkSynced flags receipts as synced in a single transaction
func (b *BoltDB) MarkSynced(ctx context.Context, ids []int64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		for _, id := range ids {
			err := updateReceipt(bucket, id, func(r *Receipt) {
				r.Synced = true
			})
			if err != nil && !errors.Is(err, ErrReceiptNotFound) {
				return err
			}
		}
		return nil
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) forEach(fn func(*Receipt) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			return fn(&receipt)
		})
	})
}

func unsyncedIDs(batch cloudsync.Batch) []int64 {
	if batch.IDs == nil {
		return []int64{}
	}
	return batch.IDs
}

func unsyncedByStore(batch cloudsync.Batch) map[string]int64 {
	if batch.ByStore == nil {
		return map[string]int64{}
	}
	return batch.ByStore
}

func updateReceipt(bucket *bbolt.Bucket, id int64, fn func(*Receipt)) error {
	data := bucket.Get(itob(id))
	if data == nil {
		return fmt.Errorf("%w: %d", ErrReceiptNotFound, id)
	}
	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return fmt.Errorf("unmarshaling receipt: %w", err)
	}
	fn(&receipt)
	updated, err := json.Marshal(&receipt)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	return bucket.Put(itob(id), updated)
}
