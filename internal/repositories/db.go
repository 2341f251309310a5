package repositories

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"qrhub/internal/config"
	"qrhub/internal/models"
)

// Open connects to the database selected by cfg.Driver ("postgres" or
// "sqlite"). Driver errors are translated so duplicates surface as
// gorm.ErrDuplicatedKey.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == "sqlite" {
		// sqlite allows one writer; a single connection also keeps an
		// in-memory database alive for the lifetime of the pool.
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	return db, nil
}

// Migrate creates or updates the tables. It is idempotent.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Account{}, &models.GeneratedRecord{}, &models.ReadRecord{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Store bundles the repositories for one backend.
type Store struct {
	Accounts AccountRepository
	Records  RecordRepository

	db *gorm.DB
}

// NewStore opens and migrates the configured backend. The "memory" driver
// needs no database and keeps everything in process.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.Driver == "memory" {
		return &Store{
			Accounts: NewMemoryAccountRepository(),
			Records:  NewMemoryRecordRepository(),
		}, nil
	}

	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return NewGORMStore(db), nil
}

// NewGORMStore wraps an already opened and migrated database.
func NewGORMStore(db *gorm.DB) *Store {
	return &Store{
		Accounts: NewGORMAccountRepository(db),
		Records:  NewGORMRecordRepository(db),
		db:       db,
	}
}

// Ping reports whether the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
