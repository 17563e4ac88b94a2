package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"bookstock/pkg/domain"
	"bookstock/pkg/store"
)

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeArchive) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if _, err := io.ReadAll(r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func newBulkApp(t *testing.T) (*App, *store.MemoryStore, *fakeArchive) {
	t.Helper()
	memory := store.NewMemoryStore()
	archive := &fakeArchive{}
	a, err := New(Config{Store: memory, Objects: archive})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	author, err := a.CreateAuthor("Stanisław Lem", date(1921, 9, 12))
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	if _, err := a.CreateBook("Solaris", 1961, author.ID, "123"); err != nil {
		t.Fatalf("create book: %v", err)
	}
	if _, err := a.CreateBook("The Cyberiad", 1965, author.ID, "456"); err != nil {
		t.Fatalf("create book: %v", err)
	}
	return a, memory, archive
}

func buildSpreadsheet(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	header := []any{"barcode", "quantity"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		t.Fatalf("set header row: %v", err)
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			t.Fatalf("set row %d: %v", i, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write spreadsheet: %v", err)
	}
	return buf.Bytes()
}

func ledgerFor(t *testing.T, memory *store.MemoryStore, barcode string) []domain.StoringEntry {
	t.Helper()
	book, ok, err := memory.GetBookByBarcode(barcode)
	if err != nil || !ok {
		t.Fatalf("book %q: ok=%v err=%v", barcode, ok, err)
	}
	entries, err := memory.EntriesByBook(book.ID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	return entries
}

func TestBulkReconcileTextPartialFailure(t *testing.T) {
	a, memory, _ := newBulkApp(t)
	result, err := a.BulkReconcile("feed.txt", []byte("BRC123\nQNT10\nBRC999\nQNT5"))
	if err != nil {
		t.Fatalf("bulk reconcile: %v", err)
	}
	if result.Committed != 1 {
		t.Fatalf("committed = %d, want 1", result.Committed)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "999") {
		t.Fatalf("expected one error referencing 999, got %v", result.Errors)
	}
	entries := ledgerFor(t, memory, "123")
	if len(entries) != 1 || entries[0].Quantity != 10 {
		t.Fatalf("expected single +10 entry for 123, got %+v", entries)
	}
}

func TestBulkReconcileTextLineErrors(t *testing.T) {
	a, _, _ := newBulkApp(t)

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"missing quantity line", "BRC123", "Missing quantity line for barcode at line 1."},
		{"next line not QNT", "BRC123\nhello", "Missing quantity at line 2."},
		{"trailing newline is not a quantity line", "BRC123\n", "Missing quantity line for barcode at line 1."},
		{"quantity not a number", "BRC123\nQNTabc", "Invalid quantity at line 2. Quantity must be a number."},
		{"unknown barcode", "BRC999\nQNT5", "Book with barcode '999' not found at line 1."},
	}
	for _, tc := range cases {
		result, err := a.BulkReconcile("feed.txt", []byte(tc.input))
		if err != nil {
			t.Fatalf("%s: bulk reconcile: %v", tc.name, err)
		}
		if result.Committed != 0 {
			t.Fatalf("%s: committed = %d, want 0", tc.name, result.Committed)
		}
		if len(result.Errors) != 1 || result.Errors[0] != tc.want {
			t.Fatalf("%s: errors = %v, want [%q]", tc.name, result.Errors, tc.want)
		}
	}
}

func TestBulkReconcileTextSkipsBlankBarcode(t *testing.T) {
	a, memory, _ := newBulkApp(t)
	result, err := a.BulkReconcile("feed.txt", []byte("BRC\nQNT7\nBRC456\nQNT2"))
	if err != nil {
		t.Fatalf("bulk reconcile: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", result.Errors)
	}
	if result.Committed != 1 {
		t.Fatalf("committed = %d, want 1", result.Committed)
	}
	entries := ledgerFor(t, memory, "456")
	if len(entries) != 1 || entries[0].Quantity != 2 {
		t.Fatalf("expected single +2 entry for 456, got %+v", entries)
	}
}

func TestBulkReconcileTextNegativeQuantity(t *testing.T) {
	a, memory, _ := newBulkApp(t)
	result, err := a.BulkReconcile("feed.txt", []byte("BRC123\nQNT-4"))
	if err != nil {
		t.Fatalf("bulk reconcile: %v", err)
	}
	if result.Committed != 1 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	entries := ledgerFor(t, memory, "123")
	if entries[0].Quantity != -4 {
		t.Fatalf("quantity = %d, want -4", entries[0].Quantity)
	}
}

func TestBulkReconcileSpreadsheet(t *testing.T) {
	a, memory, _ := newBulkApp(t)
	contents := buildSpreadsheet(t, [][]any{
		{"123", 10},     // valid
		{"", 99},        // blank barcode: silently skipped
		{"456", nil},    // blank quantity
		{"456", "oops"}, // non-numeric quantity
		{"999", 5},      // unknown barcode
		{"456", 3},      // valid
	})

	result, err := a.BulkReconcile("stock.xlsx", contents)
	if err != nil {
		t.Fatalf("bulk reconcile: %v", err)
	}
	if result.Committed != 2 {
		t.Fatalf("committed = %d, want 2", result.Committed)
	}
	want := []string{
		"Error at row 4. Quantity cannot be blank.",
		"Invalid quantity at row 5. Quantity must be a number.",
		"Error at row 6. Book with barcode: 999 does not exist",
	}
	if len(result.Errors) != len(want) {
		t.Fatalf("errors = %v, want %v", result.Errors, want)
	}
	for i := range want {
		if result.Errors[i] != want[i] {
			t.Fatalf("errors[%d] = %q, want %q", i, result.Errors[i], want[i])
		}
	}
	if entries := ledgerFor(t, memory, "123"); len(entries) != 1 || entries[0].Quantity != 10 {
		t.Fatalf("expected +10 for 123, got %+v", entries)
	}
	if entries := ledgerFor(t, memory, "456"); len(entries) != 1 || entries[0].Quantity != 3 {
		t.Fatalf("expected +3 for 456, got %+v", entries)
	}
}

func TestBulkReconcileRejectsUnsupportedExtension(t *testing.T) {
	a, memory, _ := newBulkApp(t)
	_, err := a.BulkReconcile("stock.csv", []byte("barcode,quantity\n123,10"))
	var parse *ParseError
	if !errors.As(err, &parse) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	// Rejected before parsing: no ledger writes at all.
	if entries := ledgerFor(t, memory, "123"); len(entries) != 0 {
		t.Fatalf("expected no ledger writes, got %+v", entries)
	}
}

func TestBulkReconcileRejectsMalformedSpreadsheet(t *testing.T) {
	a, _, _ := newBulkApp(t)
	_, err := a.BulkReconcile("stock.xlsx", []byte("this is not a zip archive"))
	var parse *ParseError
	if !errors.As(err, &parse) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestBulkReconcileRequiresHeaderColumns(t *testing.T) {
	a, _, _ := newBulkApp(t)
	f := excelize.NewFile()
	defer f.Close()
	header := []any{"code", "amount"}
	if err := f.SetSheetRow(f.GetSheetName(0), "A1", &header); err != nil {
		t.Fatalf("set header: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write spreadsheet: %v", err)
	}
	_, err = a.BulkReconcile("stock.xlsx", buf.Bytes())
	var parse *ParseError
	if !errors.As(err, &parse) {
		t.Fatalf("expected ParseError for missing columns, got %v", err)
	}
}

func TestBulkReconcileArchivesUpload(t *testing.T) {
	a, _, archive := newBulkApp(t)
	if _, err := a.BulkReconcile("feed.txt", []byte("BRC123\nQNT10")); err != nil {
		t.Fatalf("bulk reconcile: %v", err)
	}
	archive.mu.Lock()
	defer archive.mu.Unlock()
	if len(archive.keys) != 1 {
		t.Fatalf("expected 1 archived object, got %d", len(archive.keys))
	}
	key := archive.keys[0]
	if !strings.HasPrefix(key, "batches/") || !strings.HasSuffix(key, ".txt") {
		t.Fatalf("unexpected archive key %q", key)
	}
}
