package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/gridforge/gridforge/internal/backend/gcsstage"
)

// runQuiet executes cmd in its own session and discards output, surfacing
// only a non-zero exit or transport failure.
func (b *Backend) runQuiet(client *ssh.Client, cmd string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()
	var stderr bytes.Buffer
	session.Stderr = &stderr
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("ssh: %s: %w: %s", cmd, err, stderr.String())
	}
	return nil
}

// testFile reports whether path exists on the remote host.
func (b *Backend) testFile(client *ssh.Client, remotePath string) (bool, error) {
	session, err := client.NewSession()
	if err != nil {
		return false, fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()
	cmd := fmt.Sprintf("test -e %s && echo 1 || echo 0", shQuote(remotePath))
	var out bytes.Buffer
	session.Stdout = &out
	if err := session.Run(cmd); err != nil {
		return false, fmt.Errorf("ssh: test -e %s: %w", remotePath, err)
	}
	return strings.TrimSpace(out.String()) == "1", nil
}

func (b *Backend) readExitCode(client *ssh.Client, remoteDir string) (int, error) {
	session, err := client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()
	var out bytes.Buffer
	session.Stdout = &out
	cmd := fmt.Sprintf("cat %s 2>/dev/null || echo 0", shQuote(path.Join(remoteDir, "exitcode")))
	if err := session.Run(cmd); err != nil {
		return 0, fmt.Errorf("ssh: read exitcode: %w", err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(out.String()))
	if err != nil {
		return 127, nil
	}
	return code, nil
}

// pushFile streams a local file's contents into remotePath via a `cat >`
// session, avoiding any SFTP subsystem dependency.
func (b *Backend) pushFile(client *ssh.Client, localPath, remotePath string) error {
	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()

	if err := b.runQuiet(client, fmt.Sprintf("mkdir -p %s", shQuote(path.Dir(remotePath)))); err != nil {
		return err
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("ssh: stdin pipe: %w", err)
	}
	cmd := fmt.Sprintf("cat > %s", shQuote(remotePath))
	if err := session.Start(cmd); err != nil {
		return fmt.Errorf("ssh: start %s: %w", cmd, err)
	}
	if _, err := io.Copy(stdin, in); err != nil {
		stdin.Close()
		return fmt.Errorf("ssh: push %s: %w", remotePath, err)
	}
	stdin.Close()
	return session.Wait()
}

// pullFile streams remotePath's contents (via `cat`) into a local file.
func (b *Backend) pullFile(client *ssh.Client, remotePath, localPath string) error {
	if err := os.MkdirAll(path.Dir(localPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()
	session.Stdout = out
	cmd := fmt.Sprintf("cat %s", shQuote(remotePath))
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("ssh: pull %s: %w", remotePath, err)
	}
	return nil
}

// stageInputs copies every declared input into remoteDir on the target
// host. A "gs://" source is staged through a local temp file via gcsstage
// then pushed over the session; everything else is pushed directly.
func (b *Backend) stageInputs(ctx context.Context, client *ssh.Client, inputs map[string]string, remoteDir string) error {
	for src, remote := range inputs {
		dst := path.Join(remoteDir, remote)
		if gcsstage.IsGCSURL(src) {
			tmp, err := os.CreateTemp("", "gridforge-ssh-stage-*")
			if err != nil {
				return err
			}
			tmpPath := tmp.Name()
			tmp.Close()
			defer os.Remove(tmpPath)

			c, err := b.gcsClient()
			if err != nil {
				return err
			}
			if err := gcsstage.Download(ctx, c, src, tmpPath); err != nil {
				return err
			}
			if err := b.pushFile(client, tmpPath, dst); err != nil {
				return err
			}
			continue
		}
		local := localSourcePath(src)
		if local == "" {
			continue // unrecognized remote scheme: left to run externally staged
		}
		if err := b.pushFile(client, local, dst); err != nil {
			return err
		}
	}
	return nil
}

func localSourcePath(src string) string {
	if strings.HasPrefix(src, "file://") {
		return strings.TrimPrefix(src, "file://")
	}
	if strings.Contains(src, "://") {
		return ""
	}
	return src
}

// fetchOne brings one declared output back from the remote host: straight
// to destDir for a local/file:// destination, or through a local temp file
// and gcsstage.Upload for a gs:// one.
func (b *Backend) fetchOne(ctx context.Context, client *ssh.Client, remoteSrc, destURL, destDir, remote string, overwrite bool) error {
	if gcsstage.IsGCSURL(destURL) {
		tmp, err := os.CreateTemp("", "gridforge-ssh-fetch-*")
		if err != nil {
			return err
		}
		tmpPath := tmp.Name()
		tmp.Close()
		defer os.Remove(tmpPath)

		if err := b.pullFile(client, remoteSrc, tmpPath); err != nil {
			return err
		}
		c, err := b.gcsClient()
		if err != nil {
			return err
		}
		return gcsstage.Upload(ctx, c, tmpPath, destURL)
	}

	dst := localPathFromURL(destURL, destDir, remote)
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
	}
	return b.pullFile(client, remoteSrc, dst)
}

func localPathFromURL(destURL, destDir, remote string) string {
	if strings.HasPrefix(destURL, "file://") {
		if p := strings.TrimPrefix(destURL, "file://"); p != "" {
			return p
		}
	}
	if !strings.Contains(destURL, "://") && destURL != "" {
		return destURL
	}
	return path.Join(destDir, remote)
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shJoin(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = shQuote(a)
	}
	return strings.Join(parts, " ")
}
