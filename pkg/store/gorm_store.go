package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bookstock/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&AuthorModel{}, &BookModel{}, &StoringModel{}, &LeftoverModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateAuthor inserts an author and returns it with the assigned ID.
func (s *GormStore) CreateAuthor(a domain.Author) (domain.Author, error) {
	model := AuthorModel{Name: a.Name, BirthDate: a.BirthDate}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Author{}, err
	}
	return authorFromModel(model), nil
}

// GetAuthor returns an author by ID.
func (s *GormStore) GetAuthor(id uint) (domain.Author, bool, error) {
	var model AuthorModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Author{}, false, nil
		}
		return domain.Author{}, false, err
	}
	return authorFromModel(model), true, nil
}

// ListAuthors returns all authors ordered by ID.
func (s *GormStore) ListAuthors() ([]domain.Author, error) {
	var models []AuthorModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Author, 0, len(models))
	for _, m := range models {
		res = append(res, authorFromModel(m))
	}
	return res, nil
}

// HasAuthor checks whether the (name, birth date) identity pair is taken.
func (s *GormStore) HasAuthor(name string, birthDate time.Time) (bool, error) {
	var count int64
	err := s.db.Model(&AuthorModel{}).
		Where("name = ? AND birth_date = ?", name, birthDate).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateBook inserts a book and returns it with the assigned ID.
func (s *GormStore) CreateBook(b domain.Book) (domain.Book, error) {
	model := bookToModel(b)
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Book{}, err
	}
	return bookFromModel(model), nil
}

// GetBook retrieves a book by ID.
func (s *GormStore) GetBook(id uint) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// GetBookByBarcode retrieves a book by its exact barcode.
func (s *GormStore) GetBookByBarcode(barcode string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "barcode = ?", barcode).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// FindBooksByBarcode matches barcodes case-insensitively on a substring,
// ordered by barcode ascending.
func (s *GormStore) FindBooksByBarcode(substr string) ([]domain.Book, error) {
	var models []BookModel
	err := s.db.
		Where("barcode ILIKE ?", "%"+substr+"%").
		Order("barcode ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// HasBarcode checks whether a barcode is already assigned.
func (s *GormStore) HasBarcode(barcode string) (bool, error) {
	var count int64
	if err := s.db.Model(&BookModel{}).Where("barcode = ?", barcode).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// AppendEntry appends one ledger entry for the book.
func (s *GormStore) AppendEntry(bookID uint, quantity int) (domain.StoringEntry, error) {
	model := StoringModel{BookID: bookID, Quantity: quantity, Date: time.Now().UTC()}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.StoringEntry{}, err
	}
	return entryFromModel(model), nil
}

// AppendEntries appends a batch of ledger entries as a single write and
// returns the number committed.
func (s *GormStore) AppendEntries(entries []domain.StoringEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	models := make([]StoringModel, 0, len(entries))
	for _, e := range entries {
		date := e.Date
		if date.IsZero() {
			date = now
		}
		models = append(models, StoringModel{BookID: e.BookID, Quantity: e.Quantity, Date: date})
	}
	if err := s.db.Create(&models).Error; err != nil {
		return 0, err
	}
	return len(models), nil
}

// EntriesByBook returns the book's full ledger ordered by insertion (ID ascending).
func (s *GormStore) EntriesByBook(bookID uint) ([]domain.StoringEntry, error) {
	return s.listEntries(bookID, "id ASC")
}

// HistoryByBook returns the book's ledger ordered by date descending.
// Ties in date are broken by ID so the order stays deterministic.
func (s *GormStore) HistoryByBook(bookID uint) ([]domain.StoringEntry, error) {
	return s.listEntries(bookID, "date DESC, id DESC")
}

func (s *GormStore) listEntries(bookID uint, order string) ([]domain.StoringEntry, error) {
	var models []StoringModel
	if err := s.db.Where("book_id = ?", bookID).Order(order).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.StoringEntry, 0, len(models))
	for _, m := range models {
		res = append(res, entryFromModel(m))
	}
	return res, nil
}

// LastEntry returns the most recently inserted ledger entry for the book.
func (s *GormStore) LastEntry(bookID uint) (domain.StoringEntry, bool, error) {
	var model StoringModel
	if err := s.db.Where("book_id = ?", bookID).Order("id DESC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.StoringEntry{}, false, nil
		}
		return domain.StoringEntry{}, false, err
	}
	return entryFromModel(model), true, nil
}

// GetLeftover returns the leftover cache row for the book, if any.
func (s *GormStore) GetLeftover(bookID uint) (domain.Leftover, bool, error) {
	var model LeftoverModel
	if err := s.db.First(&model, "book_id = ?", bookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Leftover{}, false, nil
		}
		return domain.Leftover{}, false, err
	}
	return leftoverFromModel(model), true, nil
}

// AdjustLeftover applies a signed delta to the book's leftover cache and
// appends the reconciling ledger entry in the same transaction. The row is
// locked for the duration so concurrent adjustments of the same book
// serialize instead of losing updates.
func (s *GormStore) AdjustLeftover(bookID uint, delta int) (domain.Leftover, domain.StoringEntry, error) {
	var left LeftoverModel
	var entry StoringModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&left, "book_id = ?", bookID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			left = LeftoverModel{BookID: bookID, Quantity: 0, UpdatedAt: time.Now().UTC()}
			if err := tx.Create(&left).Error; err != nil {
				return fmt.Errorf("create leftover: %w", err)
			}
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&left, "book_id = ?", bookID).Error; err != nil {
				return fmt.Errorf("lock leftover: %w", err)
			}
		case err != nil:
			return err
		}

		prev := left.Quantity
		next := prev + delta
		entry = StoringModel{
			BookID:   bookID,
			Quantity: domain.ReconcileDelta(prev, next),
			Date:     time.Now().UTC(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		left.Quantity = next
		left.UpdatedAt = time.Now().UTC()
		return tx.Save(&left).Error
	})
	if err != nil {
		return domain.Leftover{}, domain.StoringEntry{}, err
	}
	return leftoverFromModel(left), entryFromModel(entry), nil
}

func authorFromModel(m AuthorModel) domain.Author {
	return domain.Author{ID: m.ID, Name: m.Name, BirthDate: m.BirthDate}
}

func bookToModel(b domain.Book) BookModel {
	model := BookModel{
		ID:          b.ID,
		Title:       b.Title,
		PublishYear: b.PublishYear,
		AuthorID:    b.AuthorID,
	}
	if b.Barcode != "" {
		barcode := b.Barcode
		model.Barcode = &barcode
	}
	return model
}

func bookFromModel(m BookModel) domain.Book {
	book := domain.Book{
		ID:          m.ID,
		Title:       m.Title,
		PublishYear: m.PublishYear,
		AuthorID:    m.AuthorID,
	}
	if m.Barcode != nil {
		book.Barcode = *m.Barcode
	}
	return book
}

func entryFromModel(m StoringModel) domain.StoringEntry {
	return domain.StoringEntry{ID: m.ID, BookID: m.BookID, Quantity: m.Quantity, Date: m.Date}
}

func leftoverFromModel(m LeftoverModel) domain.Leftover {
	return domain.Leftover{ID: m.ID, BookID: m.BookID, Quantity: m.Quantity, UpdatedAt: m.UpdatedAt}
}
