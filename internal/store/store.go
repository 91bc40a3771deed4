package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrNotDraft is returned by the draft operations when the message exists
	// but has already been approved.
	ErrNotDraft = errors.New("message is not a draft")
)

// Store is the table store for contacts, messages and prompts.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle for migrations and tooling.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
