package domain

import "time"

// AdjustDirection selects whether a leftover adjustment increases or
// decreases the cached balance. The transport layer picks the value from
// the route it matched.
type AdjustDirection string

const (
	AdjustAdd    AdjustDirection = "add"
	AdjustRemove AdjustDirection = "remove"
)

// MovementSource records which operation produced a ledger entry.
type MovementSource string

const (
	SourceReceipt    MovementSource = "receipt"
	SourceAdjustment MovementSource = "adjustment"
	SourceBulk       MovementSource = "bulk"
)

type Author struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	BirthDate time.Time `json:"birthDate"`
}

// Book belongs to exactly one author. Barcode is the external lookup key
// used by bulk import; empty means the book has not been barcoded yet.
type Book struct {
	ID          uint   `json:"id"`
	Barcode     string `json:"barcode,omitempty"`
	Title       string `json:"title"`
	PublishYear int    `json:"publishYear"`
	AuthorID    uint   `json:"authorId"`
}

// StoringEntry is one record of the append-only stock ledger. Entries are
// never updated or deleted; the ordered sequence per book is its audit trail.
type StoringEntry struct {
	ID       uint      `json:"id"`
	BookID   uint      `json:"bookId"`
	Quantity int       `json:"quantity"`
	Date     time.Time `json:"date"`
}

// Leftover is the mutable current-balance cache for a book. It is
// overwritten in place; every overwrite also appends a derived StoringEntry
// so the ledger stays the source of truth for history.
type Leftover struct {
	ID        uint      `json:"id"`
	BookID    uint      `json:"bookId"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReconcileDelta converts an overwrite of the leftover cache into the
// signed ledger delta that keeps the ledger consistent with the cache:
// growth is recorded as the positive difference, shrinkage (or no change)
// as the negated absolute difference.
func ReconcileDelta(prev, next int) int {
	if next > prev {
		return next - prev
	}
	diff := prev - next
	if diff < 0 {
		diff = -diff
	}
	return -diff
}
