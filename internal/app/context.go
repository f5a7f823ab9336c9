package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"casework/internal/config"
	"casework/internal/db"
	"casework/internal/engine"
	"casework/internal/jsonstore"
	"casework/internal/migrate"
	"casework/internal/repo"
)

const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Workspace is an opened casework workspace: its config, the migrated
// database and the store selected by the driver.
type Workspace struct {
	Dir    string
	Config *config.Config
	DB     *sql.DB
	Store  engine.Store
}

// Open loads casework.yml (defaults when absent), applies a driver
// override, opens and migrates the database and picks the case store.
func Open(ctx context.Context, dir, driverOverride string) (*Workspace, error) {
	cfg, err := config.LoadOrDefault(dir)
	if err != nil {
		return nil, err
	}
	if driverOverride != "" {
		cfg.Store.Driver = driverOverride
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(dir), err)
	}
	store, err := StoreFor(cfg.Store.Driver, dir, cfg, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Workspace{Dir: dir, Config: cfg, DB: conn, Store: store}, nil
}

// StoreFor returns the case store for driver.
func StoreFor(driver, dir string, cfg *config.Config, conn *sql.DB) (engine.Store, error) {
	switch driver {
	case DriverJSON:
		return jsonstore.New(dir, cfg), nil
	case DriverSQLite:
		return repo.Repo{DB: conn}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// Files returns the JSON file store of the workspace whatever the driver.
func (w *Workspace) Files() jsonstore.Store {
	return jsonstore.New(w.Dir, w.Config)
}

func (w *Workspace) Engine(logger *zap.Logger) engine.Engine {
	return engine.New(w.DB, w.Store, w.Config, logger)
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}
