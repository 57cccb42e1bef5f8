// Package history persists verification runs.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ipsix/coresum/internal/audit"
	"github.com/ipsix/coresum/internal/storage"
)

const runsBucket = "runs"

var errFound = errors.New("found")

type RunsStore struct {
	store storage.Store
}

func NewRunsStore(store storage.Store) *RunsStore {
	return &RunsStore{store: store}
}

// Save stores run under a key that sorts by finish time.
func (r *RunsStore) Save(run audit.Run) error {
	key := fmt.Sprintf("%020d-%s", run.FinishedAt.UnixNano(), run.ID)
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	return r.store.Put(runsBucket, key, raw)
}

// List returns stored runs oldest first, optionally limited to one target.
func (r *RunsStore) List(target string) ([]audit.Run, error) {
	runs := []audit.Run{}
	err := r.store.ForEach(runsBucket, func(_, value []byte) error {
		var run audit.Run
		if err := json.Unmarshal(value, &run); err != nil {
			return fmt.Errorf("decode run: %w", err)
		}
		if target == "" || run.Target == target {
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []audit.Run{}, nil
		}
		return nil, err
	}
	return runs, nil
}

// Get returns the stored run with the given id, or storage.ErrNotFound.
func (r *RunsStore) Get(id string) (audit.Run, error) {
	if id == "" {
		return audit.Run{}, storage.ErrNotFound
	}
	var raw []byte
	err := r.store.ForEach(runsBucket, func(key, value []byte) error {
		if !strings.HasSuffix(string(key), "-"+id) {
			return nil
		}
		raw = append([]byte(nil), value...)
		return errFound
	})
	if err != nil && !errors.Is(err, errFound) {
		return audit.Run{}, err
	}
	if raw == nil {
		return audit.Run{}, storage.ErrNotFound
	}
	var run audit.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return audit.Run{}, fmt.Errorf("decode run: %w", err)
	}
	return run, nil
}

// Latest returns the most recent run of every target, ordered by target name.
func (r *RunsStore) Latest() ([]audit.Run, error) {
	runs, err := r.List("")
	if err != nil {
		return nil, err
	}
	byTarget := map[string]audit.Run{}
	for _, run := range runs {
		byTarget[run.Target] = run
	}
	out := make([]audit.Run, 0, len(byTarget))
	for _, run := range byTarget {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, nil
}

// PruneOlderThan deletes runs that finished before cutoff and returns how
// many were removed.
func (r *RunsStore) PruneOlderThan(cutoff time.Time) (int, error) {
	var stale []string
	err := r.store.ForEach(runsBucket, func(key, value []byte) error {
		var run audit.Run
		if err := json.Unmarshal(value, &run); err != nil {
			return nil
		}
		if !run.FinishedAt.IsZero() && run.FinishedAt.Before(cutoff) {
			stale = append(stale, string(key))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, key := range stale {
		if err := r.store.Delete(runsBucket, key); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
