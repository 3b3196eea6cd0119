// Package job runs the external LaTeX compiler in isolated per-job workspaces
// and publishes the produced PDFs.
package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"texreport/internal/latex"
	u "texreport/internal/utils"
)

// Asset is a static file copied into every workspace before compilation.
// Src is resolved against the working directory, Dst against the workspace.
type Asset struct {
	Src string
	Dst string
}

// Options configures a Runner.
type Options struct {
	ScratchRoot      string
	PublishDir       string
	PublishURLPrefix string
	Assets           []Asset

	Command      string
	Args         []string
	SourceFile   string
	ArtifactFile string
	// Timeout bounds the compiler run. Zero means no bound.
	Timeout time.Duration
}

// OptionsFromConfig maps the service configuration onto runner options.
func OptionsFromConfig(cfg u.Config) Options {
	opts := Options{
		ScratchRoot:      cfg.Paths.ScratchRoot,
		PublishDir:       cfg.Paths.PublishDir,
		PublishURLPrefix: cfg.Paths.PublishURLPrefix,
		Assets: []Asset{
			{Src: filepath.Join(cfg.Paths.InstallRoot, cfg.Paths.Logo), Dst: latex.LogoFile},
			{Src: filepath.Join(cfg.Paths.InstallRoot, cfg.Paths.Font), Dst: filepath.Join(latex.FontDir, filepath.Base(cfg.Paths.Font))},
		},
		Command:      cfg.Compiler.Command,
		Args:         cfg.Compiler.Args,
		SourceFile:   cfg.Compiler.SourceFile,
		ArtifactFile: cfg.Compiler.ArtifactFile,
		Timeout:      cfg.Compiler.Timeout,
	}
	if cfg.Compiler.DisableTimeout {
		opts.Timeout = 0
	}
	return opts
}

// Job is a single compilation. It owns Workspace exclusively.
type Job struct {
	ID           string
	Workspace    string
	SourceFile   string
	ExitCode     *int
	ArtifactPath string
}

// Artifact is a published PDF.
type Artifact struct {
	Filename string
	Path     string
	URL      string
	Size     int64
}

// liveWorkspaces holds the absolute paths of workspaces owned by running jobs.
// The reaper never removes them, however old their mtime.
var liveWorkspaces sync.Map

func workspaceKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func isLiveWorkspace(path string) bool {
	_, ok := liveWorkspaces.Load(workspaceKey(path))
	return ok
}

// Runner executes compilation jobs. It keeps no state between jobs and is
// safe for concurrent use.
type Runner struct {
	opts  Options
	newID func() string
}

// NewRunner creates a Runner with random UUID job and artifact names.
func NewRunner(opts Options) *Runner {
	if opts.SourceFile == "" {
		opts.SourceFile = "document.tex"
	}
	if opts.ArtifactFile == "" {
		opts.ArtifactFile = strings.TrimSuffix(opts.SourceFile, filepath.Ext(opts.SourceFile)) + ".pdf"
	}
	return &Runner{opts: opts, newID: func() string { return uuid.NewString() }}
}

// Run compiles source and publishes the resulting PDF. The job workspace is
// removed before Run returns, whatever the outcome.
func (r *Runner) Run(ctx context.Context, source string) (*Artifact, error) {
	job, err := r.allocate()
	if err != nil {
		return nil, err
	}
	defer r.release(job)

	start := time.Now()
	u.Info("Compilation job started", "job_id", job.ID)

	if err := os.WriteFile(job.SourceFile, []byte(source), 0o600); err != nil {
		return nil, fmt.Errorf("%w: write source: %w", ErrWorkspace, err)
	}

	if err := r.stageAssets(job); err != nil {
		return nil, err
	}

	if err := r.compile(ctx, job); err != nil {
		u.Warn("Compilation job failed", "job_id", job.ID, "duration", time.Since(start).String(), "error", err)
		return nil, err
	}

	job.ArtifactPath = filepath.Join(job.Workspace, r.opts.ArtifactFile)
	if _, err := os.Stat(job.ArtifactPath); err != nil {
		u.Warn("Compiler exited cleanly without output", "job_id", job.ID)
		return nil, ErrArtifactMissing
	}

	artifact, err := r.publishFile(job.ArtifactPath)
	if err != nil {
		return nil, err
	}

	u.Info("Compilation job finished", "job_id", job.ID, "duration", time.Since(start).String(), "artifact", artifact.Filename, "bytes", artifact.Size)
	return artifact, nil
}

// PublishBytes publishes already compiled PDF bytes under a fresh name.
func (r *Runner) PublishBytes(data []byte) (*Artifact, error) {
	return r.publish(bytes.NewReader(data))
}

func (r *Runner) allocate() (*Job, error) {
	if err := os.MkdirAll(r.opts.ScratchRoot, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkspace, err)
	}

	id := r.newID()
	ws := filepath.Join(r.opts.ScratchRoot, id)
	// Mkdir, not MkdirAll: an existing directory must never be reused.
	if err := os.Mkdir(ws, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkspace, err)
	}
	liveWorkspaces.Store(workspaceKey(ws), id)

	return &Job{
		ID:         id,
		Workspace:  ws,
		SourceFile: filepath.Join(ws, r.opts.SourceFile),
	}, nil
}

func (r *Runner) release(job *Job) {
	defer liveWorkspaces.Delete(workspaceKey(job.Workspace))
	if err := os.RemoveAll(job.Workspace); err != nil {
		u.Error("Failed to remove job workspace", "job_id", job.ID, "workspace", job.Workspace, "error", err)
	}
}

func (r *Runner) stageAssets(job *Job) error {
	for _, a := range r.opts.Assets {
		if err := copyFile(a.Src, filepath.Join(job.Workspace, a.Dst)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrAsset, a.Src)
			}
			return fmt.Errorf("%w: stage %s: %w", ErrWorkspace, a.Src, err)
		}
	}
	return nil
}

func (r *Runner) compile(ctx context.Context, job *Job) error {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.opts.Args...), r.opts.SourceFile)
	cmd := exec.CommandContext(ctx, r.opts.Command, args...)
	cmd.Dir = job.Workspace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second
	setProcessGroup(cmd)

	err := cmd.Run()
	u.Debug("Compiler output", "job_id", job.ID, "stdout", stdout.String(), "stderr", stderr.String())

	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		code := 0
		job.ExitCode = &code
		return nil
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		job.ExitCode = &code
		return &CompilationError{ExitCode: code, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	default:
		return &CompilationError{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
}

func (r *Runner) publishFile(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	defer f.Close()
	return r.publish(f)
}

func (r *Runner) publish(src io.Reader) (*Artifact, error) {
	if err := os.MkdirAll(r.opts.PublishDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	name := r.newID() + ".pdf"
	dst := filepath.Join(r.opts.PublishDir, name)
	if err := atomic.WriteFile(dst, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	if err := os.Chmod(dst, 0o644); err != nil {
		u.Warn("Cannot relax published file mode", "path", dst, "error", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	return &Artifact{
		Filename: name,
		Path:     dst,
		URL:      strings.TrimSuffix(r.opts.PublishURLPrefix, "/") + "/" + name,
		Size:     info.Size(),
	}, nil
}

func copyFile(src, dst string) error {
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
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
