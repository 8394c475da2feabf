package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Migrator applies embedded goose migrations against the booking database.
type Migrator struct {
	db     *sqlx.DB
	dir    string
	logger *zap.Logger
}

// NewMigrator wires goose to the embedded migration filesystem.
func NewMigrator(db *sqlx.DB, fsys fs.FS, dir string, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetBaseFS(fsys)
	if dir == "" {
		dir = "."
	}
	return &Migrator{db: db, dir: dir, logger: logger}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	m.logger.Info("applying database migrations")
	if err := goose.UpContext(ctx, m.db.DB, m.dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, err := m.Version(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("database migrations applied", zap.Int64("version", version))
	return nil
}

// Version returns the current schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	version, err := goose.GetDBVersionContext(ctx, m.db.DB)
	if err != nil {
		return 0, fmt.Errorf("get migration version: %w", err)
	}
	return version, nil
}
