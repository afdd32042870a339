// Package store persists server observations through gorm, on sqlite or
// postgres.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/postalsys/poping/internal/logging"
	"github.com/postalsys/poping/internal/metrics"
	"github.com/postalsys/poping/internal/server"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds store configuration.
type Config struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string
}

// Observation is the stored form of server.Observation.
type Observation struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ReceivedAt time.Time `gorm:"index" json:"received_at"`
	Source     string    `gorm:"size:45;index" json:"source"`
	Type       uint8     `json:"type"`
	Identifier uint16    `json:"identifier"`
	Sequence   uint16    `json:"sequence"`
	Payload    []byte    `json:"payload"`
	Size       int       `json:"size"`
}

// TableName implements gorm's tabler.
func (Observation) TableName() string {
	return "observations"
}

// Store writes observations to a database. It implements server.Observer.
type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ server.Observer = (*Store)(nil)

// Open connects to the database described by cfg and migrates the schema.
func Open(cfg Config, log *slog.Logger, m *metrics.Metrics) (*Store, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	log = log.With(logging.KeyComponent, "store")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	dbLog := logger.New(
		slog.NewLogLogger(log.Handler(), slog.LevelDebug),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: dbLog})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	log.Info("observation store opened", "driver", dialector.Name())

	return &Store{db: db, logger: log, metrics: m}, nil
}

// migrate creates the schema. The connection pool is closed on failure.
func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Observation{}); err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.Close()
		}
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// Save stores obs under a new id.
func (s *Store) Save(ctx context.Context, obs server.Observation) (*Observation, error) {
	rec := &Observation{
		ID:         uuid.New().String(),
		ReceivedAt: obs.ReceivedAt,
		Source:     obs.Source.String(),
		Type:       uint8(obs.Type),
		Identifier: obs.Identifier,
		Sequence:   obs.Sequence,
		Payload:    append([]byte(nil), obs.Payload...),
		Size:       obs.Size,
	}

	err := s.db.WithContext(ctx).Create(rec).Error
	if s.metrics != nil {
		s.metrics.RecordStoreWrite(err)
	}
	if err != nil {
		return nil, fmt.Errorf("save observation: %w", err)
	}
	return rec, nil
}

// Observe saves obs and logs failures.
func (s *Store) Observe(ctx context.Context, obs server.Observation) {
	if _, err := s.Save(ctx, obs); err != nil {
		s.logger.Warn("store write failed",
			logging.KeySource, obs.Source,
			logging.KeySequence, obs.Sequence,
			logging.KeyError, err)
	}
}

// Recent returns up to limit observations, newest first. A source other than
// "" restricts the result to that address.
func (s *Store) Recent(ctx context.Context, source string, limit int) ([]Observation, error) {
	q := s.db.WithContext(ctx).Order("received_at desc")
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []Observation
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	return recs, nil
}

// Count returns the number of stored observations.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Observation{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
