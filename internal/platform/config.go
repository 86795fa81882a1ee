package platform

import "github.com/gridforge/gridforge/internal/gridcfg"

// Config is the top-level environment-driven configuration of the
// cmd/gridctl composition root (SPEC_FULL.md §3.5/§4.9).
type Config struct {
	SessionDir  string
	CatalogPath string

	StoreDriver string // "fs", "sqlite", or "postgres"
	SQLitePath  string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresName     string

	RunTemporal bool
	RunHTTP     bool
	HTTPAddr    string

	NotifyAddr    string
	NotifyChannel string

	LogMode string
}

func LoadConfig() Config {
	return Config{
		SessionDir:  gridcfg.EnvString("GRIDFORGE_SESSION_DIR", "./gridforge-session"),
		CatalogPath: gridcfg.EnvString("GRIDFORGE_CATALOG", "./backends.yaml"),

		StoreDriver: gridcfg.EnvString("GRIDFORGE_STORE_DRIVER", "fs"),
		SQLitePath:  gridcfg.EnvString("GRIDFORGE_SQLITE_PATH", "./gridforge.db"),

		PostgresHost:     gridcfg.EnvString("POSTGRES_HOST", "localhost"),
		PostgresPort:     gridcfg.EnvString("POSTGRES_PORT", "5432"),
		PostgresUser:     gridcfg.EnvString("POSTGRES_USER", "postgres"),
		PostgresPassword: gridcfg.EnvString("POSTGRES_PASSWORD", ""),
		PostgresName:     gridcfg.EnvString("POSTGRES_NAME", "gridforge"),

		RunTemporal: gridcfg.EnvBool("RUN_TEMPORAL", false),
		RunHTTP:     gridcfg.EnvBool("RUN_HTTP", true),
		HTTPAddr:    gridcfg.EnvString("HTTP_ADDR", ":8080"),

		NotifyAddr:    gridcfg.EnvString("REDIS_ADDR", ""),
		NotifyChannel: gridcfg.EnvString("REDIS_NOTIFY_CHANNEL", "gridforge:events"),

		LogMode: gridcfg.EnvString("LOG_MODE", "development"),
	}
}
