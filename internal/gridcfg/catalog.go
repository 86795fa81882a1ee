package gridcfg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendSpec describes one configured Backend, independent of which
// adapter package (local/ssh) actually constructs it. Connection fields
// not used by a given Type are simply left zero.
type BackendSpec struct {
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type"` // "local" or "ssh"
	Architecture string   `yaml:"architecture"`
	MaxCores     int      `yaml:"max_cores"`
	MaxMemoryMB  int64    `yaml:"max_memory_mb"`
	MaxWalltime  string   `yaml:"max_walltime"` // parsed with time.ParseDuration
	Tags         []string `yaml:"tags"`

	// ssh-type connection parameters.
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	User                     string `yaml:"user"`
	KeyPath                  string `yaml:"key_path"`
	KnownHostsPath           string `yaml:"known_hosts_path"`
	InsecureSkipHostKeyCheck bool   `yaml:"insecure_skip_host_key_check"`
	RemoteBaseDir            string `yaml:"remote_base_dir"`
}

// MaxWalltimeDuration parses MaxWalltime, defaulting to 0 (unbounded) on an
// empty or unparseable value.
func (b BackendSpec) MaxWalltimeDuration() time.Duration {
	if b.MaxWalltime == "" {
		return 0
	}
	d, err := time.ParseDuration(b.MaxWalltime)
	if err != nil {
		return 0
	}
	return d
}

// EngineTuning mirrors engine.Config's fields so a catalog file can set
// them without internal/gridcfg importing internal/engine.
type EngineTuning struct {
	MaxInFlight  int    `yaml:"max_in_flight"`
	MaxSubmitted int    `yaml:"max_submitted"`
	AutoFree     bool   `yaml:"auto_free"`
	PollInterval string `yaml:"poll_interval"`
	MaxBackoff   string `yaml:"max_backoff"`
}

func (e EngineTuning) PollIntervalDuration() time.Duration { return parseDurationOr(e.PollInterval, 0) }
func (e EngineTuning) MaxBackoffDuration() time.Duration   { return parseDurationOr(e.MaxBackoff, 0) }

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Catalog is the top-level shape of the YAML file cmd/gridctl loads to
// learn which Backends exist and how the Engine should be tuned. Numeric
// engine tunables here are overridable by environment variables using the
// same Env* helpers as everything else in this package (SPEC_FULL.md §4.9).
type Catalog struct {
	Backends []BackendSpec `yaml:"backends"`
	Engine   EngineTuning  `yaml:"engine"`
}

// LoadCatalog reads and parses a backend catalog from path.
func LoadCatalog(path string) (Catalog, error) {
	var cat Catalog
	data, err := os.ReadFile(path)
	if err != nil {
		return cat, fmt.Errorf("gridcfg: read catalog %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return cat, fmt.Errorf("gridcfg: parse catalog %s: %w", path, err)
	}
	for i := range cat.Backends {
		if cat.Backends[i].Name == "" {
			return cat, fmt.Errorf("gridcfg: catalog %s: backend %d missing name", path, i)
		}
	}
	return cat, nil
}

// WithEnvOverrides applies the environment-variable overrides named in
// SPEC_FULL.md §4.9 on top of whatever the catalog file set, env winning.
func (e EngineTuning) WithEnvOverrides() EngineTuning {
	out := e
	out.MaxInFlight = EnvInt("GRIDFORGE_MAX_IN_FLIGHT", out.MaxInFlight)
	out.MaxSubmitted = EnvInt("GRIDFORGE_MAX_SUBMITTED", out.MaxSubmitted)
	out.AutoFree = EnvBool("GRIDFORGE_AUTO_FREE", out.AutoFree)
	if d := EnvDuration("GRIDFORGE_POLL_INTERVAL", out.PollIntervalDuration()); d > 0 {
		out.PollInterval = d.String()
	}
	if d := EnvDuration("GRIDFORGE_MAX_BACKOFF", out.MaxBackoffDuration()); d > 0 {
		out.MaxBackoff = d.String()
	}
	return out
}
