package platform

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gridforge/gridforge/internal/store"
)

// openStore builds the Store named by cfg.StoreDriver along with the URL
// string Session.Open records in its store.url file (§4.7).
func openStore(cfg Config) (store.Store, string, error) {
	registry := store.DefaultRegistry()
	switch cfg.StoreDriver {
	case "fs", "":
		dir := store.JobsDir(cfg.SessionDir)
		st, err := store.NewFilesystemStore(dir, registry)
		if err != nil {
			return nil, "", err
		}
		return st, "file://" + dir, nil

	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{})
		if err != nil {
			return nil, "", fmt.Errorf("platform: open sqlite %s: %w", cfg.SQLitePath, err)
		}
		st, err := store.NewSQLStore(db, registry)
		if err != nil {
			return nil, "", err
		}
		return st, "sqlite:///" + cfg.SQLitePath, nil

	case "postgres":
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresName,
		)
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
		if err != nil {
			return nil, "", fmt.Errorf("platform: connect postgres: %w", err)
		}
		st, err := store.NewSQLStore(db, registry)
		if err != nil {
			return nil, "", err
		}
		return st, fmt.Sprintf("postgres://%s:%s/%s", cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresName), nil

	default:
		return nil, "", fmt.Errorf("platform: unknown store driver %q", cfg.StoreDriver)
	}
}
