package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/skosovsky/promptvault"
	"github.com/skosovsky/promptvault/filestore"
	"github.com/skosovsky/promptvault/internal/config"
	"github.com/skosovsky/promptvault/pgstore"
	"github.com/skosovsky/promptvault/sqlitestore"
)

// backing is what every persistence backend provides.
type backing interface {
	promptvault.RecordStore
	promptvault.MigrationLog
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backing, func() error, error) {
	switch cfg.Backend {
	case config.BackendFile:
		s, err := filestore.Open(cfg.DataDir, filestore.WithLogger(logger.Named("filestore")))
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o750); err != nil {
			return nil, nil, &promptvault.StorageError{Op: "mkdir", Path: cfg.SQLitePath, Err: err}
		}
		s, err := sqlitestore.Open(ctx, cfg.SQLitePath, sqlitestore.WithLogger(logger.Named("sqlitestore")))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendPostgres:
		s, err := pgstore.Open(ctx, cfg.PostgresDSN,
			pgstore.WithLogger(logger.Named("pgstore")),
			pgstore.WithSchema(cfg.PostgresSchema),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
