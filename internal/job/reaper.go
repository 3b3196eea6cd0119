package job

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	u "texreport/internal/utils"
)

// Reaper deletes expired published PDFs and workspaces orphaned by a crashed
// process. A zero Retention keeps published files forever. Workspaces of jobs
// still running in this process are never removed.
type Reaper struct {
	PublishDir      string
	ScratchRoot     string
	Retention       time.Duration
	WorkspaceMaxAge time.Duration
}

// SweepStats counts what a sweep removed.
type SweepStats struct {
	Artifacts  int
	Workspaces int
}

// NewReaperFromConfig builds a Reaper for the configured directories.
func NewReaperFromConfig(cfg u.Config) *Reaper {
	return &Reaper{
		PublishDir:      cfg.Paths.PublishDir,
		ScratchRoot:     cfg.Paths.ScratchRoot,
		Retention:       cfg.Publish.Retention,
		WorkspaceMaxAge: cfg.Publish.WorkspaceMaxAge,
	}
}

// Sweep removes everything older than the configured ages relative to now.
func (r *Reaper) Sweep(now time.Time) SweepStats {
	var st SweepStats

	if r.Retention > 0 {
		st.Artifacts = removeOlder(r.PublishDir, now.Add(-r.Retention), func(e os.DirEntry) bool {
			return !e.IsDir() && strings.HasSuffix(e.Name(), ".pdf")
		})
	}
	if r.WorkspaceMaxAge > 0 {
		st.Workspaces = removeOlder(r.ScratchRoot, now.Add(-r.WorkspaceMaxAge), func(e os.DirEntry) bool {
			return e.IsDir() && !isLiveWorkspace(filepath.Join(r.ScratchRoot, e.Name()))
		})
	}

	if st.Artifacts > 0 || st.Workspaces > 0 {
		u.Info("Reaper sweep finished", "artifacts_removed", st.Artifacts, "workspaces_removed", st.Workspaces)
	}
	return st
}

// Start runs a sweep immediately and then on schedule (robfig/cron syntax,
// e.g. "@every 10m"). Stop the returned scheduler on shutdown.
func (r *Reaper) Start(schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { r.Sweep(time.Now()) }); err != nil {
		return nil, err
	}
	r.Sweep(time.Now())
	c.Start()
	return c, nil
}

func removeOlder(dir string, cutoff time.Time, match func(os.DirEntry) bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			u.Warn("Reaper cannot list directory", "dir", dir, "error", err)
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !match(e) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			u.Warn("Reaper cannot remove entry", "path", filepath.Join(dir, e.Name()), "error", err)
			continue
		}
		removed++
	}
	return removed
}
