package gridcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCatalog(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCatalogParsesBackendsAndEngine(t *testing.T) {
	path := writeCatalog(t, `
backends:
  - name: local-4core
    type: local
    max_cores: 4
    max_walltime: 2h
    tags: [fast]
  - name: cluster
    type: ssh
    host: grid.example.com
    port: 2222
engine:
  max_in_flight: 10
  auto_free: true
  poll_interval: 5s
`)
	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(cat.Backends) != 2 {
		t.Fatalf("len(Backends) = %d, want 2", len(cat.Backends))
	}
	if cat.Backends[0].MaxWalltimeDuration() != 2*time.Hour {
		t.Errorf("MaxWalltimeDuration() = %v, want 2h", cat.Backends[0].MaxWalltimeDuration())
	}
	if cat.Backends[1].Host != "grid.example.com" || cat.Backends[1].Port != 2222 {
		t.Errorf("ssh backend fields = %+v", cat.Backends[1])
	}
	if cat.Engine.MaxInFlight != 10 || !cat.Engine.AutoFree {
		t.Errorf("engine tuning = %+v", cat.Engine)
	}
	if cat.Engine.PollIntervalDuration() != 5*time.Second {
		t.Errorf("PollIntervalDuration() = %v, want 5s", cat.Engine.PollIntervalDuration())
	}
}

func TestLoadCatalogRejectsMissingName(t *testing.T) {
	path := writeCatalog(t, `
backends:
  - type: local
    max_cores: 1
`)
	if _, err := LoadCatalog(path); err == nil {
		t.Fatal("expected an error for a backend missing its name")
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected an error for a missing catalog file")
	}
}

func TestMaxWalltimeDurationDefaultsToZero(t *testing.T) {
	b := BackendSpec{}
	if b.MaxWalltimeDuration() != 0 {
		t.Errorf("empty MaxWalltime should parse to 0, got %v", b.MaxWalltimeDuration())
	}
	b.MaxWalltime = "not-a-duration"
	if b.MaxWalltimeDuration() != 0 {
		t.Errorf("unparseable MaxWalltime should fall back to 0, got %v", b.MaxWalltimeDuration())
	}
}

func TestEngineTuningWithEnvOverrides(t *testing.T) {
	t.Setenv("GRIDFORGE_MAX_IN_FLIGHT", "20")
	t.Setenv("GRIDFORGE_AUTO_FREE", "true")
	t.Setenv("GRIDFORGE_POLL_INTERVAL", "3s")

	base := EngineTuning{MaxInFlight: 1, MaxSubmitted: 5}
	got := base.WithEnvOverrides()
	if got.MaxInFlight != 20 {
		t.Errorf("MaxInFlight = %d, want 20 (env override)", got.MaxInFlight)
	}
	if got.MaxSubmitted != 5 {
		t.Errorf("MaxSubmitted = %d, want 5 (unchanged, no env var set)", got.MaxSubmitted)
	}
	if !got.AutoFree {
		t.Error("AutoFree should be overridden to true")
	}
	if got.PollIntervalDuration() != 3*time.Second {
		t.Errorf("PollIntervalDuration() = %v, want 3s", got.PollIntervalDuration())
	}
}
