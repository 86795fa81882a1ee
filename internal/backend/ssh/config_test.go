package ssh

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig("GRIDFORGE_TEST_SSH_UNSET")
	if cfg.Port != 22 {
		t.Errorf("Port = %d, want default 22", cfg.Port)
	}
	if cfg.RemoteBaseDir != "/tmp/gridforge" {
		t.Errorf("RemoteBaseDir = %q, want default /tmp/gridforge", cfg.RemoteBaseDir)
	}
	if cfg.InsecureSkipHostKeyCheck {
		t.Error("InsecureSkipHostKeyCheck should default to false")
	}
}

func TestLoadConfigReadsEnvOverrides(t *testing.T) {
	const prefix = "GRIDFORGE_TEST_SSH"
	t.Setenv(prefix+"_HOST", "grid.example.com")
	t.Setenv(prefix+"_PORT", "2222")
	t.Setenv(prefix+"_USER", "runner")
	t.Setenv(prefix+"_KEY_PATH", "/home/runner/.ssh/id_ed25519")
	t.Setenv(prefix+"_INSECURE_SKIP_HOST_KEY_CHECK", "true")
	t.Setenv(prefix+"_REMOTE_BASE_DIR", "/scratch/gridforge")

	cfg := LoadConfig(prefix)
	if cfg.Host != "grid.example.com" {
		t.Errorf("Host = %q, want grid.example.com", cfg.Host)
	}
	if cfg.Port != 2222 {
		t.Errorf("Port = %d, want 2222", cfg.Port)
	}
	if cfg.User != "runner" {
		t.Errorf("User = %q, want runner", cfg.User)
	}
	if cfg.KeyPath != "/home/runner/.ssh/id_ed25519" {
		t.Errorf("KeyPath = %q, want the configured key path", cfg.KeyPath)
	}
	if !cfg.InsecureSkipHostKeyCheck {
		t.Error("InsecureSkipHostKeyCheck should be true")
	}
	if cfg.RemoteBaseDir != "/scratch/gridforge" {
		t.Errorf("RemoteBaseDir = %q, want /scratch/gridforge", cfg.RemoteBaseDir)
	}
}
