// Package datastore opens the relational backend and migrates the voter and
// upload ledger schema.
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

// Store owns the GORM connection for one backend.
type Store struct {
	db      *gorm.DB
	backend string
	target  string
}

// Open connects to the configured backend and migrates the schema.
func Open(settings *conf.DatabaseSettings) (*Store, error) {
	gormLog := logger.NewGormLoggerAdapter(GetLogger(), settings.SlowQueryThreshold)

	var (
		db     *gorm.DB
		target string
		err    error
	)
	switch settings.Backend {
	case conf.BackendSQLite, "":
		db, target, err = openSQLite(settings.SQLite, gormLog)
	case conf.BackendMySQL:
		db, target, err = openMySQL(settings.MySQL, gormLog)
	case conf.BackendPostgres:
		db, target, err = openPostgres(settings.Postgres, gormLog)
	default:
		return nil, errors.Newf("unsupported database backend %q", settings.Backend).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, dbError(err, "open", errors.PriorityCritical, "backend", settings.Backend)
	}

	store := &Store{db: db, backend: settings.Backend, target: target}
	if store.backend == "" {
		store.backend = conf.BackendSQLite
	}

	if err := store.configurePool(settings); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}

	GetLogger().Info("database opened",
		logger.String("backend", store.backend),
		logger.String("target", target))
	return store, nil
}

func (s *Store) configurePool(settings *conf.DatabaseSettings) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "configure_pool", errors.PriorityHigh)
	}
	if s.backend == conf.BackendSQLite {
		// Writers serialize on the file lock anyway, and an in-memory
		// database only exists on its own connection.
		sqlDB.SetMaxOpenConns(1)
		return nil
	}
	if settings.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(settings.MaxOpenConns)
	}
	if settings.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(settings.MaxIdleConns)
	}
	if settings.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(settings.ConnMaxLifetime)
	}
	return nil
}

// Migrate creates or updates all tables.
func (s *Store) Migrate() error {
	start := time.Now()
	if err := s.db.AutoMigrate(entities.All()...); err != nil {
		return dbError(err, "auto_migrate", errors.PriorityCritical, "backend", s.backend)
	}
	GetLogger().Debug("schema migrated",
		logger.String("backend", s.backend),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// DB returns the underlying GORM database.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Backend returns the backend name.
func (s *Store) Backend() string {
	return s.backend
}

// Ping checks that the database is reachable.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
