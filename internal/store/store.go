// Package store is the persistent state store shared by every component.
// Each component owns a disjoint record set; read-then-write sequences on a
// record set run inside an exclusive critical section so two overlapping
// invocations can never both pass a check only one of them should pass.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ctf-range/internal/logging"
	"ctf-range/pkg/models"
)

// RecordSet names one independently locked group of records.
type RecordSet string

const (
	RecordLabs       RecordSet = "labs"
	RecordRateLimits RecordSet = "rate_limits"
	RecordVerified   RecordSet = "verified_users"
	RecordStats      RecordSet = "user_stats"
)

// Store wraps the database with record-set-scoped locking.
type Store struct {
	db    *gorm.DB
	locks map[RecordSet]*sync.Mutex
}

// Open connects to the configured database and migrates the schema.
// Driver is "sqlite" (CGO-free) or "postgres".
func Open(driver, dsn string) (*Store, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite", "":
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver != "postgres" {
		// sqlite serializes writers; a single connection avoids lock errors.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(
		&models.LabInstance{},
		&models.RateLimitEvent{},
		&models.VerifiedUser{},
		&models.SolveRecord{},
		&models.UserStat{},
		&models.AuditEvent{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{
		db: db,
		locks: map[RecordSet]*sync.Mutex{
			RecordLabs:       {},
			RecordRateLimits: {},
			RecordVerified:   {},
			RecordStats:      {},
		},
	}, nil
}

// DB exposes the underlying handle for plain reads. Mutations that depend on
// a prior read must go through WithLock instead.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithLock runs fn inside the record set's exclusive section and a database
// transaction. The lock is held across the whole read-then-write sequence.
func (s *Store) WithLock(set RecordSet, fn func(tx *gorm.DB) error) error {
	mu, ok := s.locks[set]
	if !ok {
		return fmt.Errorf("unknown record set %q", set)
	}
	mu.Lock()
	defer mu.Unlock()
	return s.db.Transaction(fn)
}

// Audit appends an event to the append-only audit log and mirrors it to the
// structured log. Audit failures are logged but never fail the caller's
// operation.
func (s *Store) Audit(eventType, actor, detail string) {
	ev := models.AuditEvent{
		At:        time.Now().UTC(),
		EventType: eventType,
		Actor:     actor,
		Detail:    detail,
	}
	if err := s.db.Create(&ev).Error; err != nil {
		logging.L().Error("audit append failed",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
	logging.L().Info("audit",
		zap.String("event_type", eventType),
		zap.String("actor", actor),
		zap.String("detail", detail))
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks database connectivity.
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
