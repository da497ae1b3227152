package receipt

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Receipts"

var exportHeaders = []string{
	"ID",
	"Date",
	"Store",
	"Location",
	"Total Amount",
	"Points",
	"Barcode",
	"Used",
	"Synced",
}

// WriteXLSX writes the receipt history as a single-sheet workbook
func WriteXLSX(w io.Writer, receipts []*Receipt) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, r := range receipts {
		row := i + 2
		values := []any{
			r.ID,
			r.Timestamp.UTC().Format(time.DateTime),
			string(r.StoreName),
			r.Location,
			r.TotalAmount.InexactFloat64(),
			r.Points,
			r.BarcodeData,
			r.Used(),
			r.Synced,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return fmt.Errorf("writing row %d: %w", row, err)
			}
		}
	}

	_ = f.SetColWidth(exportSheet, "B", "B", 20) // date
	_ = f.SetColWidth(exportSheet, "C", "C", 14) // store
	_ = f.SetColWidth(exportSheet, "D", "D", 48) // location
	_ = f.SetColWidth(exportSheet, "G", "G", 24) // barcode

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
