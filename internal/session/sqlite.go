package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sessionRowID is the primary key of the singleton session row
const sessionRowID = 1

// sessionRecord is the singleton row holding the session triple
type sessionRecord struct {
	ID            uint   `gorm:"primaryKey"`
	Authenticated bool   `gorm:"not null;default:false"`
	Role          string `gorm:"type:varchar(32)"`
	Identity      string `gorm:"type:text"`
	UpdatedAt     time.Time
}

func (sessionRecord) TableName() string {
	return "dashgate_session"
}

// SQLStore keeps the session in a SQLite database that several processes can open
type SQLStore struct {
	db      *gorm.DB
	watcher *Watcher
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens (and migrates) the SQLite database at path
func OpenSQLStore(path string, pollInterval time.Duration, zlog zerolog.Logger) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	// WAL lets readers in other processes poll while one writes
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}

	s := &SQLStore{db: db}
	s.watcher = NewWatcher(s.Load, pollInterval, zlog)
	return s, nil
}

// Load reads the singleton row
func (s *SQLStore) Load(ctx context.Context) (Session, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).First(&rec, sessionRowID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LoggedOut(), nil
		}
		return LoggedOut(), fmt.Errorf("failed to load session: %w", err)
	}

	return normalize(Session{
		Authenticated: rec.Authenticated,
		Role:          Role(rec.Role),
		Identity:      rec.Identity,
	}), nil
}

// Save upserts the singleton row in one transaction
func (s *SQLStore) Save(ctx context.Context, role Role, identity string) error {
	sess, err := LoggedIn(role, identity)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := sessionRecord{
			ID:            sessionRowID,
			Authenticated: sess.Authenticated,
			Role:          string(sess.Role),
			Identity:      sess.Identity,
		}
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}

// Clear deletes the singleton row
func (s *SQLStore) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Delete(&sessionRecord{}, sessionRowID).Error; err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Subscribe polls the database for changes made by other processes
func (s *SQLStore) Subscribe(ctx context.Context, onChange func(Session)) (func(), error) {
	return s.watcher.Subscribe(ctx, onChange)
}

// Close releases the database handle
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
