// Package application implements spec.md §3.3: Application, the concrete
// Task that carries an executable invocation. It is the only task.Task
// implementation that is also a backend.Submittable.
package application

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gridforge/gridforge/internal/backend"
	"github.com/gridforge/gridforge/internal/griderr"
	"github.com/gridforge/gridforge/internal/persist"
	"github.com/gridforge/gridforge/internal/task"
)

// Config is the construction-time specification of an Application. See
// spec.md §3.3 for field semantics and §3.6 for the gc3pie-recovered
// extras (RequestedBackend, KillSignal, StdinInline, Retry).
type Config struct {
	Argv        []string
	Inputs      map[string]string // source URL -> remote relative path
	Outputs     map[string]string // remote relative path -> destination URL
	Stdin       string            // remote relative path
	StdinInline []byte            // inline content staged as a temp file by the Backend
	Stdout      string
	Stderr      string
	Join        bool
	OutputDir   string
	Environment map[string]string
	Resources   backend.ResourceRequest
	Tags        []string

	RequestedBackend string
	KillSignal       string

	// Retry is sugar over task.RetryableTask: Wrap(app) returns a
	// *task.RetryableTask instead of the bare Application when set,
	// without introducing any new core state (§3.6).
	Retry *RetrySpec

	// Extra holds unknown keyword options as arbitrary attributes, the
	// tagged attribute bag of §9 replacing Python's **kw pass-through.
	// New attaches the map as given; it does not log its keys.
	Extra map[string]interface{}
}

type RetrySpec struct {
	MaxRetries int
	Predicate  task.RetryPredicate
}

// Application is a Task describing a single executable invocation.
type Application struct {
	task.BaseTask
	task.NoopHooks

	argv        []string
	inputs      map[string]string
	outputs     map[string]string
	stdin       string
	stdinInline []byte
	stdout      string
	stderr      string
	join        bool
	outputDir   string
	env         map[string]string
	resources   backend.ResourceRequest
	tags        []string

	requestedBackend string
	killSignal       string
	extra            map[string]interface{}
}

// New validates cfg and constructs an Application in state NEW. Auto-adds
// stdin/stdout/stderr to the I/O maps per §3.3.
func New(jobName string, cfg Config) (*Application, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	a := &Application{
		argv:             append([]string(nil), cfg.Argv...),
		inputs:           copyMap(cfg.Inputs),
		outputs:          copyMap(cfg.Outputs),
		stdin:            cfg.Stdin,
		stdinInline:      append([]byte(nil), cfg.StdinInline...),
		stdout:           cfg.Stdout,
		stderr:           cfg.Stderr,
		join:             cfg.Join,
		outputDir:        cfg.OutputDir,
		env:              copyMap(cfg.Environment),
		resources:        normalizeResources(cfg.Resources),
		tags:             append([]string(nil), cfg.Tags...),
		requestedBackend: cfg.RequestedBackend,
		killSignal:       cfg.KillSignal,
		extra:            cfg.Extra,
	}
	if a.stdin != "" {
		a.inputs[a.stdin] = a.stdin
	}
	if a.stdout != "" {
		a.outputs[a.stdout] = a.stdout
	}
	if a.stderr != "" && !a.join {
		a.outputs[a.stderr] = a.stderr
	}
	a.BaseTask.Init(a, nil)
	a.SetJobName(jobName)
	return a, nil
}

func normalizeResources(rr backend.ResourceRequest) backend.ResourceRequest {
	if rr.Cores <= 0 {
		rr.Cores = 1
	}
	return rr
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func validate(cfg Config) error {
	if len(cfg.Argv) == 0 {
		return fmt.Errorf("application: empty argv: %w", griderr.ErrInvalidArgument)
	}
	for _, a := range cfg.Argv {
		if strings.ContainsRune(a, 0) {
			return fmt.Errorf("application: argv contains a null byte: %w", griderr.ErrInvalidArgument)
		}
	}
	for _, remote := range cfg.Inputs {
		if err := requireRelative("inputs", remote); err != nil {
			return err
		}
	}
	for remote := range cfg.Outputs {
		if err := requireRelative("outputs", remote); err != nil {
			return err
		}
	}
	if cfg.Resources.Cores < 0 {
		return fmt.Errorf("application: negative requested_cores: %w", griderr.ErrInvalidArgument)
	}
	if cfg.Resources.MemoryBytes < 0 {
		return fmt.Errorf("application: negative requested_memory: %w", griderr.ErrInvalidArgument)
	}
	if cfg.Resources.Walltime < 0 {
		return fmt.Errorf("application: negative requested_walltime: %w", griderr.ErrInvalidArgument)
	}
	return nil
}

func requireRelative(field, p string) error {
	if p == "" {
		return nil
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return fmt.Errorf("application: %s path %q must be relative: %w", field, p, griderr.ErrInvalidArgument)
	}
	return nil
}

func (a *Application) TypeTag() string { return "Application" }

func (a *Application) Argv() []string                           { return append([]string(nil), a.argv...) }
func (a *Application) InputMap() map[string]string              { return a.inputs }
func (a *Application) OutputMap() map[string]string             { return a.outputs }
func (a *Application) Environment() map[string]string           { return a.env }
func (a *Application) Join() bool                               { return a.join }
func (a *Application) OutputDir() string                        { return a.outputDir }
func (a *Application) ResourceRequest() backend.ResourceRequest { return a.resources }
func (a *Application) Tags() []string                           { return append([]string(nil), a.tags...) }
func (a *Application) RequestedBackend() string                 { return a.requestedBackend }
func (a *Application) KillSignal() string                       { return a.killSignal }
func (a *Application) StdinInline() []byte                      { return a.stdinInline }
func (a *Application) Extra(key string) (interface{}, bool)     { v, ok := a.extra[key]; return v, ok }

// Terminated overrides the empty default hook (§4.1: "the terminated hook
// is where Application subclasses inspect outputs and compute a final
// exit code; it is allowed to overwrite returncode"). The base Application
// trusts whatever returncode the Backend already set in UpdateState/
// FetchOutput; subclasses in a host program override this method for
// application-specific output inspection.
func (a *Application) Terminated(r *task.Run) {}

// ExpandOutputDirTemplate substitutes the five placeholders gc3utils'
// output_dir template recognized, reconciled here into one canonical
// table (PATH is the directory of an input source URL, taken in map
// iteration order, so with several inputs which one is used is not
// defined; "." when there are none; NAME is the job name; DATE/TIME are the
// submission timestamp; SESSION is the session directory with ".out"
// appended).
func ExpandOutputDirTemplate(tmpl, jobName string, inputs map[string]string, sessionDir string, at time.Time) string {
	path := "."
	for src := range inputs {
		path = filepath.Dir(src)
		break
	}
	r := strings.NewReplacer(
		"PATH", path,
		"NAME", jobName,
		"DATE", at.Format("2006-01-02"),
		"TIME", at.Format("15:04"),
		"SESSION", sessionDir+".out",
	)
	return r.Replace(tmpl)
}

// ResolveOutputDir rewrites outputDir in place by expanding its template
// placeholders against sessionDir and at. Idempotent as long as none of
// the substituted values (job name, input directory, session directory)
// itself contains a placeholder token: the result then contains none, so
// calling it again is a no-op. The Engine calls this right before each
// Submit attempt (SPEC_FULL.md §9's output_dir Open Question resolution).
func (a *Application) ResolveOutputDir(sessionDir string, at time.Time) {
	a.outputDir = ExpandOutputDirTemplate(a.outputDir, a.JobName(), a.inputs, sessionDir, at)
	a.SetChanged(true)
}

type applicationWire struct {
	JobName          string                  `json:"job_name,omitempty"`
	ParentID         persist.ID              `json:"parent_id,omitempty"`
	Cancel           bool                    `json:"cancel_requested,omitempty"`
	Run              *task.Run               `json:"run"`
	Argv             []string                `json:"argv"`
	Inputs           map[string]string       `json:"inputs,omitempty"`
	Outputs          map[string]string       `json:"outputs,omitempty"`
	Stdin            string                  `json:"stdin,omitempty"`
	StdinInline      []byte                  `json:"stdin_inline,omitempty"`
	Stdout           string                  `json:"stdout,omitempty"`
	Stderr           string                  `json:"stderr,omitempty"`
	Join             bool                    `json:"join,omitempty"`
	OutputDir        string                  `json:"output_dir,omitempty"`
	Environment      map[string]string       `json:"environment,omitempty"`
	Resources        backend.ResourceRequest `json:"resources"`
	Tags             []string                `json:"tags,omitempty"`
	RequestedBackend string                  `json:"requested_backend,omitempty"`
	KillSignal       string                  `json:"kill_signal,omitempty"`
	Extra            map[string]interface{}  `json:"extra,omitempty"`
}

// EncodeBody never needs record: an Application references no other
// Persistable (it is always a leaf).
func (a *Application) EncodeBody(record func(persist.Persistable) (persist.ID, error)) (json.RawMessage, error) {
	return json.Marshal(applicationWire{
		JobName: a.JobName(), ParentID: a.ParentID(), Cancel: a.CancelRequested(), Run: a.Run(),
		Argv: a.argv, Inputs: a.inputs, Outputs: a.outputs,
		Stdin: a.stdin, StdinInline: a.stdinInline, Stdout: a.stdout, Stderr: a.stderr,
		Join: a.join, OutputDir: a.outputDir, Environment: a.env,
		Resources: a.resources, Tags: a.tags,
		RequestedBackend: a.requestedBackend, KillSignal: a.killSignal, Extra: a.extra,
	})
}

func (a *Application) DecodeBody(data json.RawMessage, resolve func(persist.ID) (persist.Persistable, error)) error {
	var w applicationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	run := w.Run
	if run == nil {
		run = task.NewRun()
	}
	a.BaseTask.Init(a, run)
	a.BaseTask.RestoreIdentity(w.JobName, w.ParentID, w.Cancel)
	a.argv, a.inputs, a.outputs = w.Argv, w.Inputs, w.Outputs
	a.stdin, a.stdinInline, a.stdout, a.stderr = w.Stdin, w.StdinInline, w.Stdout, w.Stderr
	a.join, a.outputDir, a.env = w.Join, w.OutputDir, w.Environment
	a.resources, a.tags = w.Resources, w.Tags
	a.requestedBackend, a.killSignal, a.extra = w.RequestedBackend, w.KillSignal, w.Extra
	if a.inputs == nil {
		a.inputs = map[string]string{}
	}
	if a.outputs == nil {
		a.outputs = map[string]string{}
	}
	return nil
}

// Wrap applies cfg.Retry's sugar (§3.6): returns a *task.RetryableTask
// wrapping app when Retry is set, or app itself unchanged otherwise.
func Wrap(jobName string, app *Application, retry *RetrySpec) task.Task {
	if retry == nil {
		return app
	}
	return task.NewRetryableTask(jobName, app, retry.MaxRetries, retry.Predicate)
}
