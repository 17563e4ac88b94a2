package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"bookstock/pkg/domain"
)

// BulkResult reports the outcome of a batch import. Committed and Errors
// are both populated on partial failure: valid rows are applied even when
// other rows are rejected, and callers must never have to guess.
type BulkResult struct {
	Committed int      `json:"committed"`
	Errors    []string `json:"errors"`
}

type pendingDelta struct {
	book     domain.Book
	quantity int
}

// BulkReconcile ingests an uploaded batch file of {barcode, quantity}
// pairs and converts every valid row into a ledger entry. Row failures are
// collected per row; a malformed container or unsupported extension fails
// the whole batch before any row is processed.
func (a *App) BulkReconcile(filename string, contents []byte) (BulkResult, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))

	var (
		pending []pendingDelta
		rowErrs []string
		err     error
	)
	switch ext {
	case "xlsx":
		pending, rowErrs, err = a.parseSpreadsheet(contents)
	case "txt":
		pending, rowErrs, err = a.parseTextFeed(contents)
	default:
		return BulkResult{}, parseErrorf("Invalid file format. Only Excel (.xlsx) or text (.txt) files are allowed.")
	}
	if err != nil {
		return BulkResult{}, err
	}

	committed := 0
	if len(pending) > 0 {
		entries := make([]domain.StoringEntry, 0, len(pending))
		for _, p := range pending {
			entries = append(entries, domain.StoringEntry{BookID: p.book.ID, Quantity: p.quantity})
		}
		committed, err = a.store.AppendEntries(entries)
		if err != nil {
			return BulkResult{}, fmt.Errorf("append ledger entries: %w", err)
		}
		for _, p := range pending {
			a.publishMovement(p.book, p.quantity, domain.SourceBulk)
		}
	}

	a.archiveBatch(ext, contents)

	if rowErrs == nil {
		rowErrs = []string{}
	}
	return BulkResult{Committed: committed, Errors: rowErrs}, nil
}

// parseSpreadsheet reads the first sheet of an xlsx feed. The header row
// must carry "barcode" and "quantity" columns; data rows are validated
// independently. Row numbers in error messages are spreadsheet rows, so
// 0-based data index + 2 to account for the header.
func (a *App) parseSpreadsheet(contents []byte) ([]pendingDelta, []string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(contents))
	if err != nil {
		return nil, nil, parseErrorf("Unable to read the uploaded spreadsheet.")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, parseErrorf("Unable to read the uploaded spreadsheet.")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil || len(rows) == 0 {
		return nil, nil, parseErrorf("Unable to read the uploaded spreadsheet.")
	}

	barcodeCol, quantityCol := -1, -1
	for i, name := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "barcode":
			barcodeCol = i
		case "quantity":
			quantityCol = i
		}
	}
	if barcodeCol < 0 || quantityCol < 0 {
		return nil, nil, parseErrorf("Spreadsheet must have barcode and quantity columns.")
	}

	var pending []pendingDelta
	var rowErrs []string
	for index, row := range rows[1:] {
		rowNum := index + 2
		barcode := strings.TrimSpace(cellAt(row, barcodeCol))
		if barcode == "" {
			continue
		}
		rawQty := strings.TrimSpace(cellAt(row, quantityCol))
		if rawQty == "" {
			rowErrs = append(rowErrs, fmt.Sprintf("Error at row %d. Quantity cannot be blank.", rowNum))
			continue
		}
		quantity, ok := parseQuantity(rawQty)
		if !ok {
			rowErrs = append(rowErrs, fmt.Sprintf("Invalid quantity at row %d. Quantity must be a number.", rowNum))
			continue
		}
		book, found, err := a.store.GetBookByBarcode(barcode)
		if err != nil {
			return nil, nil, fmt.Errorf("get book by barcode: %w", err)
		}
		if !found {
			rowErrs = append(rowErrs, fmt.Sprintf("Error at row %d. Book with barcode: %s does not exist", rowNum, barcode))
			continue
		}
		pending = append(pending, pendingDelta{book: book, quantity: quantity})
	}
	return pending, rowErrs, nil
}

// parseTextFeed scans a line-structured feed: a line starting with "BRC"
// opens a record and the immediately following line must start with "QNT".
// Line numbers in error messages are 1-based.
func (a *App) parseTextFeed(contents []byte) ([]pendingDelta, []string, error) {
	lines := strings.Split(string(contents), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	var pending []pendingDelta
	var rowErrs []string
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "BRC") {
			continue
		}
		barcode := strings.TrimSpace(line[3:])
		if i+1 >= len(lines) {
			rowErrs = append(rowErrs, fmt.Sprintf("Missing quantity line for barcode at line %d.", i+1))
			continue
		}
		quantityLine := strings.TrimSpace(lines[i+1])
		if !strings.HasPrefix(quantityLine, "QNT") {
			rowErrs = append(rowErrs, fmt.Sprintf("Missing quantity at line %d.", i+2))
			continue
		}
		rawQty := strings.TrimSpace(quantityLine[3:])

		if barcode == "" {
			continue
		}
		book, found, err := a.store.GetBookByBarcode(barcode)
		if err != nil {
			return nil, nil, fmt.Errorf("get book by barcode: %w", err)
		}
		if !found {
			rowErrs = append(rowErrs, fmt.Sprintf("Book with barcode '%s' not found at line %d.", barcode, i+1))
			continue
		}
		quantity, ok := parseQuantity(rawQty)
		if !ok {
			rowErrs = append(rowErrs, fmt.Sprintf("Invalid quantity at line %d. Quantity must be a number.", i+2))
			continue
		}
		pending = append(pending, pendingDelta{book: book, quantity: quantity})
	}
	return pending, rowErrs, nil
}

// archiveBatch keeps the raw upload for audit. Best-effort: a failed
// archive never fails a processed batch.
func (a *App) archiveBatch(ext string, contents []byte) {
	if a.objects == nil {
		return
	}
	key := "batches/" + uuid.NewString() + "." + ext
	contentType := "text/plain"
	if ext == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.objects.Put(ctx, key, bytes.NewReader(contents), int64(len(contents)), contentType); err != nil {
		slog.Warn("archive batch upload failed", "key", key, "err", err)
	}
}

func cellAt(row []string, col int) string {
	if col < len(row) {
		return row[col]
	}
	return ""
}

// parseQuantity accepts plain integers plus spreadsheet-style integral
// floats ("10.0"). Fractional values are rejected.
func parseQuantity(raw string) (int, bool) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int(f), true
}
