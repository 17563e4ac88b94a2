package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bookstock/pkg/domain"
	"bookstock/pkg/events"
	"bookstock/pkg/storage"
	"bookstock/pkg/store"
)

// Authors born on or before this date are rejected.
var minBirthDate = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore // optional: batch upload archive
	Events      events.Publisher    // optional: movement events
}

// App is the inventory core: catalog, stock ledger, leftover cache, and
// bulk reconciliation, wired to a persistence backend.
type App struct {
	store   store.Store
	objects storage.ObjectStore
	events  events.Publisher
}

// New constructs the application. When no Store is injected, a Postgres
// store is opened from DatabaseURL.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	return &App{
		store:   dataStore,
		objects: cfg.Objects,
		events:  cfg.Events,
	}, nil
}

// CreateAuthor registers a new author.
func (a *App) CreateAuthor(name string, birthDate time.Time) (domain.Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Author{}, validationf("Name cannot be blank.")
	}
	if !birthDate.After(minBirthDate) {
		return domain.Author{}, validationf("Birth date must be after 1900-01-01.")
	}
	exists, err := a.store.HasAuthor(name, birthDate)
	if err != nil {
		return domain.Author{}, fmt.Errorf("check author: %w", err)
	}
	if exists {
		return domain.Author{}, conflictf("Author %q with birth date %s already exists.", name, birthDate.Format("2006-01-02"))
	}
	author, err := a.store.CreateAuthor(domain.Author{Name: name, BirthDate: birthDate})
	if err != nil {
		return domain.Author{}, fmt.Errorf("create author: %w", err)
	}
	return author, nil
}

// GetAuthor returns one author by ID.
func (a *App) GetAuthor(id uint) (domain.Author, error) {
	author, ok, err := a.store.GetAuthor(id)
	if err != nil {
		return domain.Author{}, fmt.Errorf("get author: %w", err)
	}
	if !ok {
		return domain.Author{}, notFoundf("Author %d not found.", id)
	}
	return author, nil
}

// ListAuthors returns all authors ordered by ID.
func (a *App) ListAuthors() ([]domain.Author, error) {
	return a.store.ListAuthors()
}

// CreateBook registers a new book owned by an existing author.
func (a *App) CreateBook(title string, publishYear int, authorID uint, barcode string) (domain.Book, error) {
	title = strings.TrimSpace(title)
	barcode = strings.TrimSpace(barcode)
	if title == "" {
		return domain.Book{}, validationf("Title cannot be blank.")
	}
	if publishYear <= 1900 {
		return domain.Book{}, validationf("Publish year must be after 1900.")
	}
	if _, ok, err := a.store.GetAuthor(authorID); err != nil {
		return domain.Book{}, fmt.Errorf("get author: %w", err)
	} else if !ok {
		return domain.Book{}, notFoundf("Author %d not found.", authorID)
	}
	if barcode != "" {
		taken, err := a.store.HasBarcode(barcode)
		if err != nil {
			return domain.Book{}, fmt.Errorf("check barcode: %w", err)
		}
		if taken {
			return domain.Book{}, conflictf("Barcode %q is already assigned.", barcode)
		}
	}
	book, err := a.store.CreateBook(domain.Book{
		Title:       title,
		PublishYear: publishYear,
		AuthorID:    authorID,
		Barcode:     barcode,
	})
	if err != nil {
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	return book, nil
}

// AuthorIdentity is the nested author shape in book detail responses.
type AuthorIdentity struct {
	Name      string    `json:"name"`
	BirthDate time.Time `json:"birthDate"`
}

// BookDetails is the full read model for one book. Quantity is the latest
// ledger entry's value, which by this system's convention is the current
// balance; 0 when the ledger is empty.
type BookDetails struct {
	Title       string         `json:"title"`
	PublishYear int            `json:"publishYear"`
	Author      AuthorIdentity `json:"author"`
	Barcode     string         `json:"barcode,omitempty"`
	Quantity    int            `json:"quantity"`
}

// GetBookDetails returns book identity plus the current quantity.
func (a *App) GetBookDetails(id uint) (BookDetails, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return BookDetails{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return BookDetails{}, notFoundf("Book %d not found.", id)
	}
	author, ok, err := a.store.GetAuthor(book.AuthorID)
	if err != nil {
		return BookDetails{}, fmt.Errorf("get author: %w", err)
	}
	if !ok {
		return BookDetails{}, notFoundf("Author %d not found.", book.AuthorID)
	}
	quantity := 0
	if last, ok, err := a.store.LastEntry(book.ID); err != nil {
		return BookDetails{}, fmt.Errorf("last ledger entry: %w", err)
	} else if ok {
		quantity = last.Quantity
	}
	return BookDetails{
		Title:       book.Title,
		PublishYear: book.PublishYear,
		Author:      AuthorIdentity{Name: author.Name, BirthDate: author.BirthDate},
		Barcode:     book.Barcode,
		Quantity:    quantity,
	}, nil
}

// SearchBooksByBarcode matches barcodes case-insensitively on a substring,
// ordered by barcode ascending.
func (a *App) SearchBooksByBarcode(substr string) ([]domain.Book, error) {
	return a.store.FindBooksByBarcode(substr)
}

// RecordDelta appends one signed quantity to the book's ledger. There is no
// balance floor: negative running balances are an accepted business rule.
func (a *App) RecordDelta(bookID uint, quantity int) (domain.StoringEntry, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.StoringEntry{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.StoringEntry{}, notFoundf("Book %d not found.", bookID)
	}
	entry, err := a.store.AppendEntry(book.ID, quantity)
	if err != nil {
		return domain.StoringEntry{}, fmt.Errorf("append ledger entry: %w", err)
	}
	a.publishMovement(book, entry.Quantity, domain.SourceReceipt)
	return entry, nil
}

// LeftoverResult is the response shape for a leftover adjustment.
type LeftoverResult struct {
	Book     domain.Book `json:"book"`
	Quantity int         `json:"quantity"`
}

// AdjustLeftover applies a staff-entered stock adjustment to the book
// matching the barcode. A missing leftover row is created at zero first.
// The reconciling ledger entry and the cache overwrite happen atomically
// in the store.
func (a *App) AdjustLeftover(barcode string, direction domain.AdjustDirection, magnitude int) (LeftoverResult, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return LeftoverResult{}, validationf("Barcode cannot be blank.")
	}
	var delta int
	switch direction {
	case domain.AdjustAdd:
		delta = magnitude
	case domain.AdjustRemove:
		delta = -magnitude
	default:
		return LeftoverResult{}, validationf("Unknown adjustment direction %q.", string(direction))
	}
	book, ok, err := a.store.GetBookByBarcode(barcode)
	if err != nil {
		return LeftoverResult{}, fmt.Errorf("get book by barcode: %w", err)
	}
	if !ok {
		return LeftoverResult{}, notFoundf("Book with barcode %q not found.", barcode)
	}
	left, entry, err := a.store.AdjustLeftover(book.ID, delta)
	if err != nil {
		return LeftoverResult{}, fmt.Errorf("adjust leftover: %w", err)
	}
	a.publishMovement(book, entry.Quantity, domain.SourceAdjustment)
	return LeftoverResult{Book: book, Quantity: left.Quantity}, nil
}

// BookRef identifies a book in history responses.
type BookRef struct {
	Key   uint   `json:"key"`
	Title string `json:"title"`
}

// HistoryEntry is one {date, quantity} pair of a book's balance history.
type HistoryEntry struct {
	Date     time.Time `json:"date"`
	Quantity int       `json:"quantity"`
}

// HistoryResult is the full history view for a book.
type HistoryResult struct {
	Book         BookRef        `json:"book"`
	StartBalance int            `json:"startBalance"`
	EndBalance   int            `json:"endBalance"`
	History      []HistoryEntry `json:"history"`
}

// GetHistory returns the book's ledger newest first, plus the first and
// last recorded quantities. First/last follow insertion order (ledger ID),
// not the date column, so same-instant entries resolve deterministically.
func (a *App) GetHistory(bookID uint) (HistoryResult, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return HistoryResult{}, notFoundf("Book %d not found.", bookID)
	}
	ordered, err := a.store.EntriesByBook(book.ID)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("ledger entries: %w", err)
	}
	byDate, err := a.store.HistoryByBook(book.ID)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("ledger history: %w", err)
	}

	result := HistoryResult{
		Book:    BookRef{Key: book.ID, Title: book.Title},
		History: make([]HistoryEntry, 0, len(byDate)),
	}
	if len(ordered) > 0 {
		result.StartBalance = ordered[0].Quantity
		result.EndBalance = ordered[len(ordered)-1].Quantity
	}
	for _, e := range byDate {
		result.History = append(result.History, HistoryEntry{Date: e.Date, Quantity: e.Quantity})
	}
	return result, nil
}

func (a *App) publishMovement(book domain.Book, quantity int, source domain.MovementSource) {
	if a.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := a.events.PublishMovement(ctx, events.Movement{
		BookID:   book.ID,
		Barcode:  book.Barcode,
		Quantity: quantity,
		Source:   source,
		At:       time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("publish stock movement failed", "book_id", book.ID, "source", string(source), "err", err)
	}
}
