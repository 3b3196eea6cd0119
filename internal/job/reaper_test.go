package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, dir bool, mtime time.Time) {
	t.Helper()
	if dir {
		require.NoError(t, os.MkdirAll(path, 0o755))
	} else {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestReaperSweep(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	r := &Reaper{
		PublishDir:      filepath.Join(root, "pdfs"),
		ScratchRoot:     filepath.Join(root, "tmp"),
		Retention:       24 * time.Hour,
		WorkspaceMaxAge: time.Hour,
	}

	touch(t, filepath.Join(r.PublishDir, "old.pdf"), false, now.Add(-48*time.Hour))
	touch(t, filepath.Join(r.PublishDir, "fresh.pdf"), false, now.Add(-time.Hour))
	touch(t, filepath.Join(r.PublishDir, "old.txt"), false, now.Add(-48*time.Hour))
	touch(t, filepath.Join(r.ScratchRoot, "stale"), true, now.Add(-2*time.Hour))
	touch(t, filepath.Join(r.ScratchRoot, "active"), true, now.Add(-time.Minute))

	st := r.Sweep(now)
	assert.Equal(t, SweepStats{Artifacts: 1, Workspaces: 1}, st)

	assert.NoFileExists(t, filepath.Join(r.PublishDir, "old.pdf"))
	assert.FileExists(t, filepath.Join(r.PublishDir, "fresh.pdf"))
	assert.FileExists(t, filepath.Join(r.PublishDir, "old.txt"))
	assert.NoDirExists(t, filepath.Join(r.ScratchRoot, "stale"))
	assert.DirExists(t, filepath.Join(r.ScratchRoot, "active"))
}

func TestReaperSweep_ZeroRetentionKeepsArtifacts(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	r := &Reaper{PublishDir: root}
	touch(t, filepath.Join(root, "ancient.pdf"), false, now.Add(-365*24*time.Hour))

	assert.Equal(t, SweepStats{}, r.Sweep(now))
	assert.FileExists(t, filepath.Join(root, "ancient.pdf"))
}

func TestReaperSweep_MissingDirs(t *testing.T) {
	r := &Reaper{
		PublishDir:      filepath.Join(t.TempDir(), "nope"),
		ScratchRoot:     filepath.Join(t.TempDir(), "nope"),
		Retention:       time.Hour,
		WorkspaceMaxAge: time.Hour,
	}
	assert.Equal(t, SweepStats{}, r.Sweep(time.Now()))
}

func TestReaperStart(t *testing.T) {
	root := t.TempDir()
	r := &Reaper{PublishDir: root, Retention: time.Hour}
	touch(t, filepath.Join(root, "old.pdf"), false, time.Now().Add(-2*time.Hour))

	c, err := r.Start("@every 1h")
	require.NoError(t, err)
	<-c.Stop().Done()

	assert.NoFileExists(t, filepath.Join(root, "old.pdf"), "initial sweep runs on start")

	_, err = r.Start("not a schedule")
	assert.Error(t, err)
}

func TestReaperSweep_SkipsRunningJobWorkspace(t *testing.T) {
	opts := testOptions(t, writeScript(t, `touch started
sleep 1
printf '%%PDF-1.4 slow\n' > document.pdf
`))
	opts.Timeout = 0
	runner := NewRunner(opts)

	type result struct {
		art *Artifact
		err error
	}
	done := make(chan result, 1)
	go func() {
		art, err := runner.Run(context.Background(), `\documentclass{article}`)
		done <- result{art, err}
	}()

	var ws string
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(opts.ScratchRoot)
		if err != nil || len(entries) != 1 {
			return false
		}
		ws = filepath.Join(opts.ScratchRoot, entries[0].Name())
		_, err = os.Stat(filepath.Join(ws, "started"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(ws, old, old))

	reaper := &Reaper{ScratchRoot: opts.ScratchRoot, WorkspaceMaxAge: time.Hour}
	assert.Equal(t, SweepStats{}, reaper.Sweep(time.Now()))
	assert.DirExists(t, ws)

	res := <-done
	require.NoError(t, res.err)
	assert.FileExists(t, res.art.Path)
	assertNoWorkspaces(t, opts)

	// once the job is gone, a leftover directory with the same age is an orphan
	touch(t, ws, true, old)
	assert.Equal(t, SweepStats{Workspaces: 1}, reaper.Sweep(time.Now()))
}
