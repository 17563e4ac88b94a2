package store

import (
	"time"

	"bookstock/pkg/domain"
)

// Store defines persistence operations for the catalog, the stock ledger,
// and the leftover cache.
type Store interface {
	// authors
	CreateAuthor(a domain.Author) (domain.Author, error)
	GetAuthor(id uint) (domain.Author, bool, error)
	ListAuthors() ([]domain.Author, error)
	HasAuthor(name string, birthDate time.Time) (bool, error)

	// books
	CreateBook(b domain.Book) (domain.Book, error)
	GetBook(id uint) (domain.Book, bool, error)
	GetBookByBarcode(barcode string) (domain.Book, bool, error)
	FindBooksByBarcode(substr string) ([]domain.Book, error)
	HasBarcode(barcode string) (bool, error)

	// ledger (append-only)
	AppendEntry(bookID uint, quantity int) (domain.StoringEntry, error)
	AppendEntries(entries []domain.StoringEntry) (int, error)
	EntriesByBook(bookID uint) ([]domain.StoringEntry, error)
	HistoryByBook(bookID uint) ([]domain.StoringEntry, error)
	LastEntry(bookID uint) (domain.StoringEntry, bool, error)

	// leftover cache
	GetLeftover(bookID uint) (domain.Leftover, bool, error)
	AdjustLeftover(bookID uint, delta int) (domain.Leftover, domain.StoringEntry, error)
}
