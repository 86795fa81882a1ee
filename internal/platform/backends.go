package platform

import (
	"fmt"

	"github.com/gridforge/gridforge/internal/backend"
	"github.com/gridforge/gridforge/internal/backend/local"
	sshbackend "github.com/gridforge/gridforge/internal/backend/ssh"
	"github.com/gridforge/gridforge/internal/gridcfg"
	"github.com/gridforge/gridforge/internal/gridlog"
)

// buildBackends constructs one backend.Backend per entry in specs, in file
// order, failing fast on an unrecognized Type so a typo in the catalog
// never silently drops a backend from rotation.
func buildBackends(specs []gridcfg.BackendSpec, log *gridlog.Logger) ([]backend.Backend, error) {
	out := make([]backend.Backend, 0, len(specs))
	for _, spec := range specs {
		arch := backend.Architecture(spec.Architecture)
		switch spec.Type {
		case "local":
			out = append(out, local.New(spec.Name, spec.MaxCores, spec.MaxMemoryMB*1024*1024, spec.MaxWalltimeDuration(), arch, spec.Tags, log.With("backend", spec.Name)))
		case "ssh":
			cfg := sshbackend.Config{
				Host:                     spec.Host,
				Port:                     spec.Port,
				User:                     spec.User,
				KeyPath:                  spec.KeyPath,
				KnownHostsPath:           spec.KnownHostsPath,
				InsecureSkipHostKeyCheck: spec.InsecureSkipHostKeyCheck,
				RemoteBaseDir:            spec.RemoteBaseDir,
			}
			out = append(out, sshbackend.New(spec.Name, cfg, spec.MaxCores, arch, spec.Tags, log.With("backend", spec.Name)))
		default:
			return nil, fmt.Errorf("platform: backend %q: unknown type %q", spec.Name, spec.Type)
		}
	}
	return out, nil
}
