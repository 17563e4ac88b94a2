package store

import "time"

// GORM models used for persistence.
type AuthorModel struct {
	ID        uint        `gorm:"primaryKey"`
	Name      string      `gorm:"not null;uniqueIndex:idx_author_name_birth"`
	BirthDate time.Time   `gorm:"not null;uniqueIndex:idx_author_name_birth"`
	Books     []BookModel `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE"`
}

func (AuthorModel) TableName() string { return "authors" }

// Barcode is a pointer so that books without a barcode do not collide on
// the unique index.
type BookModel struct {
	ID          uint    `gorm:"primaryKey"`
	Barcode     *string `gorm:"uniqueIndex"`
	Title       string  `gorm:"not null"`
	PublishYear int     `gorm:"not null"`
	AuthorID    uint    `gorm:"not null;index"`

	Entries  []StoringModel `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
	Leftover *LeftoverModel `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
}

func (BookModel) TableName() string { return "books" }

type StoringModel struct {
	ID       uint      `gorm:"primaryKey"`
	BookID   uint      `gorm:"not null;index"`
	Quantity int       `gorm:"not null"`
	Date     time.Time `gorm:"not null;index"`
}

func (StoringModel) TableName() string { return "storings" }

type LeftoverModel struct {
	ID        uint `gorm:"primaryKey"`
	BookID    uint `gorm:"not null;uniqueIndex"`
	Quantity  int  `gorm:"not null"`
	UpdatedAt time.Time
}

func (LeftoverModel) TableName() string { return "leftovers" }
