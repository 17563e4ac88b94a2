package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"bookstock/pkg/domain"
)

// MemoryStore keeps all records in-process. It is used by tests and mirrors
// the ordering and locking guarantees of the Postgres store: ledger IDs are
// monotonically increasing and leftover adjustments run under the store lock.
type MemoryStore struct {
	mu           sync.Mutex
	authors      map[uint]domain.Author
	books        map[uint]domain.Book
	entries      []domain.StoringEntry
	leftovers    map[uint]domain.Leftover // key: book ID
	nextAuthorID uint
	nextBookID   uint
	nextEntryID  uint
	nextLeftID   uint
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		authors:   make(map[uint]domain.Author),
		books:     make(map[uint]domain.Book),
		leftovers: make(map[uint]domain.Leftover),
	}
}

func (m *MemoryStore) CreateAuthor(a domain.Author) (domain.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAuthorID++
	a.ID = m.nextAuthorID
	m.authors[a.ID] = a
	return a, nil
}

func (m *MemoryStore) GetAuthor(id uint) (domain.Author, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.authors[id]
	return a, ok, nil
}

func (m *MemoryStore) ListAuthors() ([]domain.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Author, 0, len(m.authors))
	for _, a := range m.authors {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryStore) HasAuthor(name string, birthDate time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.authors {
		if a.Name == name && a.BirthDate.Equal(birthDate) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) CreateBook(b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBookID++
	b.ID = m.nextBookID
	m.books[b.ID] = b
	return b, nil
}

func (m *MemoryStore) GetBook(id uint) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) GetBookByBarcode(barcode string) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.books {
		if b.Barcode != "" && b.Barcode == barcode {
			return b, true, nil
		}
	}
	return domain.Book{}, false, nil
}

func (m *MemoryStore) FindBooksByBarcode(substr string) ([]domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(substr)
	res := make([]domain.Book, 0)
	for _, b := range m.books {
		if b.Barcode == "" {
			continue
		}
		if strings.Contains(strings.ToLower(b.Barcode), needle) {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Barcode < res[j].Barcode })
	return res, nil
}

func (m *MemoryStore) HasBarcode(barcode string) (bool, error) {
	_, ok, err := m.GetBookByBarcode(barcode)
	return ok, err
}

func (m *MemoryStore) AppendEntry(bookID uint, quantity int) (domain.StoringEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(bookID, quantity, time.Now().UTC()), nil
}

func (m *MemoryStore) AppendEntries(entries []domain.StoringEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, e := range entries {
		date := e.Date
		if date.IsZero() {
			date = now
		}
		m.appendLocked(e.BookID, e.Quantity, date)
	}
	return len(entries), nil
}

func (m *MemoryStore) appendLocked(bookID uint, quantity int, date time.Time) domain.StoringEntry {
	m.nextEntryID++
	entry := domain.StoringEntry{ID: m.nextEntryID, BookID: bookID, Quantity: quantity, Date: date}
	m.entries = append(m.entries, entry)
	return entry
}

func (m *MemoryStore) EntriesByBook(bookID uint) ([]domain.StoringEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.entriesLocked(bookID)
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryStore) HistoryByBook(bookID uint) ([]domain.StoringEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.entriesLocked(bookID)
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Date.Equal(res[j].Date) {
			return res[i].Date.After(res[j].Date)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (m *MemoryStore) entriesLocked(bookID uint) []domain.StoringEntry {
	res := make([]domain.StoringEntry, 0)
	for _, e := range m.entries {
		if e.BookID == bookID {
			res = append(res, e)
		}
	}
	return res
}

func (m *MemoryStore) LastEntry(bookID uint) (domain.StoringEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].BookID == bookID {
			return m.entries[i], true, nil
		}
	}
	return domain.StoringEntry{}, false, nil
}

func (m *MemoryStore) GetLeftover(bookID uint) (domain.Leftover, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leftovers[bookID]
	return l, ok, nil
}

// AdjustLeftover mirrors the Postgres implementation: read-modify-write of
// the cache plus the reconciling ledger append, all under one lock.
func (m *MemoryStore) AdjustLeftover(bookID uint, delta int) (domain.Leftover, domain.StoringEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	left, ok := m.leftovers[bookID]
	if !ok {
		m.nextLeftID++
		left = domain.Leftover{ID: m.nextLeftID, BookID: bookID, Quantity: 0}
	}
	prev := left.Quantity
	next := prev + delta
	entry := m.appendLocked(bookID, domain.ReconcileDelta(prev, next), time.Now().UTC())
	left.Quantity = next
	left.UpdatedAt = time.Now().UTC()
	m.leftovers[bookID] = left
	return left, entry, nil
}
