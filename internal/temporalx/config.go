package temporalx

import "github.com/gridforge/gridforge/internal/gridcfg"

// Config dials and authenticates against a Temporal cluster. Address empty
// means Temporal is not configured at all: NewClient treats that as "the
// host wants the bare poll loop, not the workflow-driven one" rather than
// an error (§4.14).
type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string
}

func LoadConfig() Config {
	return Config{
		Address:   gridcfg.EnvString("TEMPORAL_ADDRESS", ""),
		Namespace: gridcfg.EnvString("TEMPORAL_NAMESPACE", "gridforge"),
		TaskQueue: gridcfg.EnvString("TEMPORAL_TASK_QUEUE", "gridforge"),

		ClientCertPath: gridcfg.EnvString("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  gridcfg.EnvString("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   gridcfg.EnvString("TEMPORAL_CLIENT_CA_PATH", ""),
	}
}
