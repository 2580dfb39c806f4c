package app

import (
	"context"
	"fmt"
	"path/filepath"

	"lockerline/internal/config"
	"lockerline/internal/db"
	"lockerline/internal/engine"
	"lockerline/internal/migrate"
	"lockerline/internal/repo"
	"lockerline/internal/store"
)

// OpenEngine resolves the workspace config, opens the configured store
// backend, and rehydrates the projection from the full log. The returned
// close function releases the backend (a no-op for the file store).
func OpenEngine(ctx context.Context, workspace string, cfg *config.Config) (*engine.Engine, func() error, error) {
	if cfg == nil {
		var err error
		cfg, err = config.Load(workspace)
		if err != nil {
			return nil, nil, err
		}
	}
	st, closeFn, err := OpenStore(workspace, cfg)
	if err != nil {
		return nil, nil, err
	}
	e := engine.New(st)
	if err := e.Rehydrate(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("rehydrate projection: %w", err)
	}
	return e, closeFn, nil
}

// OpenStore opens the event store backend named by the config.
func OpenStore(workspace string, cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, nil, err
		}
		if err := migrate.Migrate(conn); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return repo.Repo{DB: conn}, conn.Close, nil
	case config.BackendFile:
		dir, err := db.EnsureWorkspace(workspace)
		if err != nil {
			return nil, nil, err
		}
		st, err := store.OpenFile(filepath.Join(dir, cfg.Store.Log))
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
