package state

import (
	"sort"
	"sync"
	"time"

	"github.com/ipsix/coresum/internal/audit"
	"github.com/ipsix/coresum/internal/verify"
)

// RunSummary is the API view of a run, without the full discrepancy list.
type RunSummary struct {
	ID         string        `json:"id"`
	Target     string        `json:"target"`
	Version    string        `json:"version"`
	Locale     string        `json:"locale"`
	Passed     bool          `json:"passed"`
	Error      string        `json:"error,omitempty"`
	Missing    int           `json:"missing"`
	Mismatched int           `json:"mismatched"`
	Unexpected int           `json:"unexpected"`
	Checked    int           `json:"checked"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

type RunCache struct {
	mu      sync.RWMutex
	latest  map[string]audit.Run
	history []audit.Run
	limit   int
}

func NewRunCache(limit int) *RunCache {
	if limit <= 0 {
		limit = 50
	}
	return &RunCache{
		latest: make(map[string]audit.Run),
		limit:  limit,
	}
}

func (c *RunCache) Add(run audit.Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[run.Target] = run
	c.history = append(c.history, run)
	if len(c.history) > c.limit {
		c.history = c.history[len(c.history)-c.limit:]
	}
}

// Latest summarizes the newest run per target, ordered by target name.
func (c *RunCache) Latest() []RunSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RunSummary, 0, len(c.latest))
	for _, run := range c.latest {
		out = append(out, Summarize(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// History summarizes the retained runs, oldest first.
func (c *RunCache) History() []RunSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RunSummary, 0, len(c.history))
	for _, run := range c.history {
		out = append(out, Summarize(run))
	}
	return out
}

// Run returns the full record of a retained run.
func (c *RunCache) Run(id string) (audit.Run, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].ID == id {
			return c.history[i], true
		}
	}
	return audit.Run{}, false
}

func Summarize(run audit.Run) RunSummary {
	return RunSummary{
		ID:         run.ID,
		Target:     run.Target,
		Version:    run.Version,
		Locale:     run.Locale,
		Passed:     run.Passed,
		Error:      run.Error,
		Missing:    run.Result.Count(verify.MissingFile),
		Mismatched: run.Result.Count(verify.HashMismatch),
		Unexpected: run.Result.Count(verify.UnexpectedFile),
		Checked:    run.Result.Checked,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Duration:   run.Duration,
	}
}
