// Package backend opens the store selected by IMPORT_BACKEND.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/lenmed/importer/internal/config"
	"github.com/lenmed/importer/internal/logging"
	"github.com/lenmed/importer/internal/store"
	"github.com/lenmed/importer/internal/store/postgres"
	"github.com/lenmed/importer/internal/store/rest"
	"github.com/lenmed/importer/internal/store/sqlite"
)

// Open returns the configured backend. The caller must Close it.
func Open(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	name := strings.ToLower(cfg.Import.Backend)
	logging.FromContext(ctx).Debug("opening store", "backend", name)

	switch name {
	case config.BackendREST:
		return rest.NewFromConfig(cfg.Remote), nil
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open postgres backend: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Import.Backend)
	}
}
