package local

import (
	"context"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/gridforge/gridforge/internal/backend"
	"github.com/gridforge/gridforge/internal/backend/gcsstage"
)

// stageInputs copies every source into workDir at its declared remote
// relative path. A "gs://" source is downloaded via gcsstage; everything
// else is treated as a local path or file:// URL.
func stageInputs(ctx context.Context, gcs func() (*storage.Client, error), inputs map[string]string, workDir string) error {
	for src, remote := range inputs {
		dst := filepath.Join(workDir, remote)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if gcsstage.IsGCSURL(src) {
			c, err := gcs()
			if err != nil {
				return err
			}
			if err := gcsstage.Download(ctx, c, src, dst); err != nil {
				return err
			}
			continue
		}
		local := localSourcePath(src)
		if local == "" {
			continue // unrecognized remote scheme: left to run externally staged
		}
		if err := copyFile(local, dst, true); err != nil {
			return err
		}
	}
	return nil
}

func localSourcePath(src string) string {
	u, err := url.Parse(src)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		if strings.HasPrefix(src, "file://") {
			return strings.TrimPrefix(src, "file://")
		}
		return src
	}
	return ""
}

func copyFile(src, dst string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func localPathFromURL(destURL, destDir, remote string) string {
	u, err := url.Parse(destURL)
	if err == nil && (u.Scheme == "" || u.Scheme == "file") {
		if u.Path != "" {
			return u.Path
		}
	}
	return filepath.Join(destDir, remote)
}

// publishOutput moves the file materialized at localTmp to its declared
// destination: a plain copy for a local/file:// destURL, an upload through
// gcsstage for a gs:// one.
func publishOutput(ctx context.Context, gcs func() (*storage.Client, error), localTmp, destURL, destDir, remote string, overwrite bool) error {
	if gcsstage.IsGCSURL(destURL) {
		c, err := gcs()
		if err != nil {
			return err
		}
		return gcsstage.Upload(ctx, c, localTmp, destURL)
	}
	return copyFile(localTmp, localPathFromURL(destURL, destDir, remote), overwrite)
}

func envSlice(env map[string]string) []string {
	out := os.Environ()
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func openStreams(workDir string, t backend.Submittable) (stdout, stderr *os.File, err error) {
	stdout, err = os.Create(filepath.Join(workDir, "stdout"))
	if err != nil {
		return nil, nil, err
	}
	if t.Join() {
		return stdout, nil, nil
	}
	stderr, err = os.Create(filepath.Join(workDir, "stderr"))
	if err != nil {
		stdout.Close()
		return nil, nil, err
	}
	return stdout, stderr, nil
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return 127
}
