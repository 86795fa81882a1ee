// Package ssh implements backend.Backend by launching a Submittable's argv
// over an SSH session on a remote host, staging inputs/outputs by piping
// file contents through `cat` rather than a separate SFTP subsystem
// (SPEC_FULL.md §4.13's "SGE-over-SSH" reference adapter).
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	gfbackend "github.com/gridforge/gridforge/internal/backend"
	"github.com/gridforge/gridforge/internal/backend/gcsstage"
	"github.com/gridforge/gridforge/internal/griderr"
	"github.com/gridforge/gridforge/internal/gridlog"
	"github.com/gridforge/gridforge/internal/task"

	gcstorage "cloud.google.com/go/storage"
)

type remoteJob struct {
	dir string
	pid string
}

// Backend drives one SSH-reachable host. A single client connection is
// reused across jobs; Submit/UpdateState/Cancel/Peek/FetchOutput each open
// their own session, since an ssh.Session is single-use.
type Backend struct {
	mu sync.Mutex

	name     string
	cfg      Config
	maxCores int
	arch     gfbackend.Architecture
	tags     []string
	log      *gridlog.Logger

	client     *ssh.Client
	jobs       map[string]*remoteJob
	usedCores  int
	nextID     int64
	lastUpdate bool

	gcsOnce sync.Once
	gcs     *gcstorage.Client
	gcsErr  error
}

func New(name string, cfg Config, maxCores int, arch gfbackend.Architecture, tags []string, log *gridlog.Logger) *Backend {
	if log == nil {
		log = gridlog.Nop()
	}
	return &Backend{name: name, cfg: cfg, maxCores: maxCores, arch: arch, tags: tags, log: log, jobs: make(map[string]*remoteJob)}
}

func (b *Backend) Capabilities() gfbackend.Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	return gfbackend.Capabilities{
		Name: b.name, Type: "ssh", Architecture: b.arch,
		MaxCoresPerJob: b.maxCores, Tags: b.tags,
		FreeSlots:   b.maxCores - b.usedCores,
		QueuedTotal: len(b.jobs), OwnRunning: len(b.jobs),
		Updated: b.lastUpdate,
	}
}

func (b *Backend) Update(ctx context.Context) error {
	_, err := b.dial()
	b.mu.Lock()
	b.lastUpdate = err == nil
	b.mu.Unlock()
	if err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrTransient, err)
	}
	return nil
}

func (b *Backend) dial() (*ssh.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	auth, err := b.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeyCB, err := b.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            b.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
		Timeout:         15 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh: dial %s: %w", addr, err)
	}
	b.client = client
	return client, nil
}

func (b *Backend) authMethods() ([]ssh.AuthMethod, error) {
	if b.cfg.KeyPath != "" {
		key, err := os.ReadFile(b.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("ssh: read key %s: %w", b.cfg.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("ssh: parse key %s: %w", b.cfg.KeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if b.cfg.Password != "" {
		return []ssh.AuthMethod{ssh.Password(b.cfg.Password)}, nil
	}
	return nil, fmt.Errorf("ssh: no credentials configured (set KeyPath or Password)")
}

func (b *Backend) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if b.cfg.InsecureSkipHostKeyCheck {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if b.cfg.KnownHostsPath == "" {
		return nil, fmt.Errorf("ssh: KnownHostsPath is required unless InsecureSkipHostKeyCheck is set")
	}
	cb, err := knownhosts.New(b.cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("ssh: load known_hosts %s: %w", b.cfg.KnownHostsPath, err)
	}
	return cb, nil
}

func (b *Backend) gcsClient() (*gcstorage.Client, error) {
	b.gcsOnce.Do(func() {
		b.gcs, b.gcsErr = gcsstage.NewClient(context.Background())
	})
	return b.gcs, b.gcsErr
}

func (b *Backend) Submit(ctx context.Context, t gfbackend.Submittable) error {
	argv := t.Argv()
	if len(argv) == 0 {
		return griderr.NewBackendError(b.name, griderr.ErrUnrecoverable, fmt.Errorf("empty argv"))
	}
	client, err := b.dial()
	if err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrResourceNotReady, err)
	}

	rr := t.ResourceRequest()
	b.mu.Lock()
	if b.maxCores > 0 && b.usedCores+rr.Cores > b.maxCores {
		b.mu.Unlock()
		return griderr.NewBackendError(b.name, griderr.ErrResourceNotReady, fmt.Errorf("no free slots"))
	}
	id := fmt.Sprintf("ssh-%d", b.nextID+1)
	b.nextID++
	b.mu.Unlock()

	remoteDir := path.Join(b.cfg.RemoteBaseDir, id)
	if err := b.runQuiet(client, fmt.Sprintf("mkdir -p %s", shQuote(remoteDir))); err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrDataStaging, err)
	}
	if err := b.stageInputs(ctx, client, t.InputMap(), remoteDir); err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrDataStaging, err)
	}

	pid, err := b.launch(client, remoteDir, argv, t.Environment(), t.Join())
	if err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrUnrecoverable, err)
	}

	b.mu.Lock()
	b.jobs[id] = &remoteJob{dir: remoteDir, pid: pid}
	b.usedCores += rr.Cores
	b.mu.Unlock()

	t.Run().BackendName = b.name
	t.Run().BackendJobID = id
	return t.Run().SetState(task.StateSubmitted)
}

// launch backgrounds argv under the remote shell, detached from this SSH
// session (setsid), redirecting stdout/stderr per Join and writing
// an exit code and a done marker on completion so UpdateState/FetchOutput
// can poll for it without holding a session open.
func (b *Backend) launch(client *ssh.Client, remoteDir string, argv []string, env map[string]string, join bool) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()

	stderrTarget := "stderr"
	if join {
		stderrTarget = "stdout"
	}
	var envPrefix strings.Builder
	for k, v := range env {
		envPrefix.WriteString(shQuote(k) + "=" + shQuote(v) + " ")
	}
	cmd := envPrefix.String() + shJoin(argv)
	script := fmt.Sprintf(
		`cd %s && setsid sh -c %s >stdout 2>%s </dev/null & echo $!`,
		shQuote(remoteDir), shQuote(fmt.Sprintf("%s; echo $? > exitcode; touch done", cmd)), stderrTarget,
	)

	var out bytes.Buffer
	session.Stdout = &out
	if err := session.Run(script); err != nil {
		return "", fmt.Errorf("ssh: launch: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

func (b *Backend) UpdateState(ctx context.Context, t gfbackend.Submittable) error {
	j, ok := b.job(t.Run().BackendJobID)
	if !ok {
		return griderr.NewBackendError(b.name, griderr.ErrTransient, fmt.Errorf("unknown job %q", t.Run().BackendJobID))
	}
	client, err := b.dial()
	if err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrTransient, err)
	}
	done, err := b.testFile(client, path.Join(j.dir, "done"))
	if err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrTransient, err)
	}
	if done {
		return t.Run().SetState(task.StateTerminating)
	}
	if t.Run().State() == task.StateSubmitted {
		return t.Run().SetState(task.StateRunning)
	}
	return nil
}

func (b *Backend) Cancel(ctx context.Context, t gfbackend.Submittable) error {
	j, ok := b.job(t.Run().BackendJobID)
	if !ok {
		return nil
	}
	client, err := b.dial()
	if err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrTransient, err)
	}
	sig := t.KillSignal()
	if sig == "" {
		sig = "TERM"
	}
	_ = b.runQuiet(client, fmt.Sprintf("kill -%s %s 2>/dev/null || true", sig, j.pid))
	return t.Run().SetState(task.StateTerminated)
}

func (b *Backend) Peek(ctx context.Context, t gfbackend.Submittable, stream gfbackend.Stream, offset, size int64) (io.ReadCloser, error) {
	j, ok := b.job(t.Run().BackendJobID)
	if !ok {
		return nil, griderr.NewBackendError(b.name, griderr.ErrNotAvailable, fmt.Errorf("unknown job"))
	}
	client, err := b.dial()
	if err != nil {
		return nil, griderr.NewBackendError(b.name, griderr.ErrTransient, err)
	}
	name := "stdout"
	if stream == gfbackend.StreamStderr {
		name = "stderr"
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, griderr.NewBackendError(b.name, griderr.ErrTransient, err)
	}
	defer session.Close()
	var buf bytes.Buffer
	session.Stdout = &buf
	cmd := fmt.Sprintf("dd if=%s bs=1 skip=%d count=%d 2>/dev/null", shQuote(path.Join(j.dir, name)), offset, size)
	if err := session.Run(cmd); err != nil {
		return nil, griderr.NewBackendError(b.name, griderr.ErrNotAvailable, err)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (b *Backend) FetchOutput(ctx context.Context, t gfbackend.Submittable, destDir string, overwrite bool) error {
	j, ok := b.job(t.Run().BackendJobID)
	if !ok {
		return griderr.NewBackendError(b.name, griderr.ErrDataStaging, fmt.Errorf("unknown job"))
	}
	client, err := b.dial()
	if err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrTransient, err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrDataStaging, err)
	}
	for remote, destURL := range t.OutputMap() {
		if err := b.fetchOne(ctx, client, path.Join(j.dir, remote), destURL, destDir, remote, overwrite); err != nil {
			return griderr.NewBackendError(b.name, griderr.ErrDataStaging, err)
		}
	}

	code, err := b.readExitCode(client, j.dir)
	if err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrDataStaging, err)
	}
	t.Run().ReturnCode = task.ExitCode(code)
	return t.Run().SetState(task.StateTerminated)
}

func (b *Backend) Free(ctx context.Context, t gfbackend.Submittable) error {
	j, ok := b.job(t.Run().BackendJobID)
	if !ok {
		return nil
	}
	client, err := b.dial()
	if err == nil {
		_ = b.runQuiet(client, fmt.Sprintf("rm -rf %s", shQuote(j.dir)))
	}
	b.mu.Lock()
	b.usedCores -= t.ResourceRequest().Cores
	delete(b.jobs, t.Run().BackendJobID)
	b.mu.Unlock()
	return nil
}

func (b *Backend) job(id string) (*remoteJob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	return j, ok
}
