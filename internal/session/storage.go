package session

import (
	"errors"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// The session is the only state persisted on the client; conversation and
// message caches live in memory and are refetched on demand.

// Record is the single persisted session row.
type Record struct {
	ID          uint `gorm:"primaryKey"`
	UserID      string
	Name        string
	Email       string
	Photo       string
	AccessToken string
	LoggedIn    bool
	UpdatedAt   time.Time
}

func (Record) TableName() string { return "session" }

type Storage struct {
	db *gorm.DB
}

// OpenStorage opens (creating if needed) the client state database in dir.
func OpenStorage(dir string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "chatlink.db")), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Save(rec Record) error {
	rec.ID = 1
	return s.db.Save(&rec).Error
}

// Load returns the persisted session, or nil when none has been saved.
func (s *Storage) Load() (*Record, error) {
	var rec Record
	err := s.db.First(&rec, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Storage) Clear() error {
	return s.db.Delete(&Record{}, 1).Error
}
