package receipt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/zombor/return-pocket/internal/cloudsync"
	"github.com/zombor/return-pocket/internal/scanning"
)

const createReceiptsTable = `
CREATE TABLE IF NOT EXISTS receipts_table(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store_name TEXT NOT NULL,
	location TEXT NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	total_amount REAL NOT NULL DEFAULT 0,
	img_path TEXT NOT NULL DEFAULT '',
	barcode_data TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0
)`

const receiptColumns = `id, store_name, location, points, total_amount, img_path, barcode_data, timestamp, synced`

// SQLiteDB implements the Store interface on a local SQLite file
type SQLiteDB struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteDB opens (creating if needed) the SQLite database at path
func NewSQLiteDB(ctx context.Context, path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createReceiptsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating receipts_table: %w", err)
	}

	return &SQLiteDB{db: db, now: time.Now}, nil
}

// AddReceipt inserts a receipt row and returns the autoincrement id
func (s *SQLiteDB) AddReceipt(ctx context.Context, receipt *Receipt) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts_table (store_name, location, points, total_amount, img_path, barcode_data, timestamp, synced)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		string(receipt.StoreName),
		receipt.Location,
		receipt.Points,
		receipt.TotalAmount.InexactFloat64(),
		receipt.ImagePath,
		receipt.BarcodeData,
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting receipt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	return id, nil
}

// GetReceiptByID retrieves a receipt row by id
func (s *SQLiteDB) GetReceiptByID(ctx context.Context, id int64) (*Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts_table WHERE id = ?`, id)
	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrReceiptNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts ordered by id
func (s *SQLiteDB) ListReceipts(ctx context.Context) ([]*Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+receiptColumns+` FROM receipts_table ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt row
func (s *SQLiteDB) DeleteReceipt(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM receipts_table WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	return requireRow(res, id)
}

// UpdateBarcodeData replaces the stored barcode payload
func (s *SQLiteDB) UpdateBarcodeData(ctx context.Context, id int64, data string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE receipts_table SET barcode_data = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("updating barcode data: %w", err)
	}
	return requireRow(res, id)
}

// UnsyncedBatch collects the unsynced receipts with a single query, so ids and totals
// come from the same snapshot
func (s *SQLiteDB) UnsyncedBatch(ctx context.Context) (cloudsync.Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, store_name, points FROM receipts_table WHERE synced = 0 ORDER BY id`)
	if err != nil {
		return cloudsync.Batch{}, fmt.Errorf("querying unsynced receipts: %w", err)
	}
	defer rows.Close()

	var batch cloudsync.Batch
	for rows.Next() {
		var (
			id     int64
			store  string
			points int64
		)
		if err := rows.Scan(&id, &store, &points); err != nil {
			return cloudsync.Batch{}, fmt.Errorf("scanning unsynced receipt: %w", err)
		}
		batch.Add(id, store, points)
	}
	if err := rows.Err(); err != nil {
		return cloudsync.Batch{}, fmt.Errorf("iterating unsynced receipts: %w", err)
	}
	return batch, nil
}

// SumUnsyncedPoints totals the points of unsynced receipts
func (s *SQLiteDB) SumUnsyncedPoints(ctx context.Context) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(points), 0) FROM receipts_table WHERE synced = 0`).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("summing unsynced points: %w", err)
	}
	return sum, nil
}

// UnsyncedIDs returns the ids of unsynced receipts
func (s *SQLiteDB) UnsyncedIDs(ctx context.Context) ([]int64, error) {
	batch, err := s.UnsyncedBatch(ctx)
	return unsyncedIDs(batch), err
}

// UnsyncedPointsByStore totals unsynced points per store
func (s *SQLiteDB) UnsyncedPointsByStore(ctx context.Context) (map[string]int64, error) {
	batch, err := s.UnsyncedBatch(ctx)
	return unsyncedByStore(batch), err
}

// MarkSynced flags receipts as synced in a single transaction
func (s *SQLiteDB) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE receipts_table SET synced = 1 WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("marking receipts synced: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		r         Receipt
		store     string
		amount    float64
		timestamp string
		synced    int64
	)
	err := row.Scan(&r.ID, &store, &r.Location, &r.Points, &amount, &r.ImagePath, &r.BarcodeData, &timestamp, &synced)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp %q: %w", timestamp, err)
	}

	r.StoreName = scanning.Retailer(store)
	r.TotalAmount = decimal.NewFromFloat(amount).Round(2)
	r.Timestamp = ts
	r.Synced = synced != 0
	return &r, nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrReceiptNotFound, id)
	}
	return nil
}
