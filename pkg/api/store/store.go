package store

import (
	"context"
	"fmt"

	"github.com/ethpandaops/flowwatch/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// DefaultListLimit caps ListDispatches when no limit is given.
	DefaultListLimit = 100
	// MaxListLimit is the largest page ListDispatches returns.
	MaxListLimit = 1000
)

// Store persists the dispatch audit log.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	RecordDispatch(ctx context.Context, rec *DispatchRecord) error
	// ListDispatches returns records newest first.
	ListDispatches(ctx context.Context, q DispatchQuery) ([]DispatchRecord, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "audit-store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(&DispatchRecord{}); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Audit database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) RecordDispatch(
	ctx context.Context, rec *DispatchRecord,
) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("recording dispatch: %w", err)
	}

	return nil
}

func (s *store) ListDispatches(
	ctx context.Context, q DispatchQuery,
) ([]DispatchRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	tx := s.db.WithContext(ctx).Model(&DispatchRecord{})

	if q.ProjectID != "" {
		tx = tx.Where("project_id = ?", q.ProjectID)
	}

	if q.Outcome != "" {
		tx = tx.Where("outcome = ?", q.Outcome)
	}

	var records []DispatchRecord
	if err := tx.Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing dispatches: %w", err)
	}

	return records, nil
}
