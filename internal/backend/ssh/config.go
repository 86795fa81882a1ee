package ssh

import "github.com/gridforge/gridforge/internal/gridcfg"

// Config dials one SSH-accessible host as a backend.Backend target,
// grounded on the "SGE-over-SSH" backend named in spec.md and
// SPEC_FULL.md §4.13.
type Config struct {
	Host     string
	Port     int
	User     string
	KeyPath  string // private key file; takes precedence over Password
	Password string

	KnownHostsPath           string // empty + InsecureSkipHostKeyCheck both unset makes every dial fail
	InsecureSkipHostKeyCheck bool

	RemoteBaseDir string // per-job work directories are created under this
}

func LoadConfig(prefix string) Config {
	env := func(suffix string, def string) string {
		return gridcfg.EnvString(prefix+suffix, def)
	}
	return Config{
		Host:                     env("_HOST", ""),
		Port:                     gridcfg.EnvInt(prefix+"_PORT", 22),
		User:                     env("_USER", ""),
		KeyPath:                  env("_KEY_PATH", ""),
		Password:                 env("_PASSWORD", ""),
		KnownHostsPath:           env("_KNOWN_HOSTS_PATH", ""),
		InsecureSkipHostKeyCheck: gridcfg.EnvBool(prefix+"_INSECURE_SKIP_HOST_KEY_CHECK", false),
		RemoteBaseDir:            env("_REMOTE_BASE_DIR", "/tmp/gridforge"),
	}
}
