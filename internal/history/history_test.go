package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/coresum/internal/audit"
	"github.com/ipsix/coresum/internal/storage"
	"github.com/ipsix/coresum/internal/verify"
)

func newStore(t *testing.T) *RunsStore {
	t.Helper()
	store, err := storage.Open(storage.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewRunsStore(store)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func run(id, target string, finished time.Time, passed bool) audit.Run {
	return audit.Run{
		ID:         id,
		Target:     target,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
		Duration:   time.Second,
		Passed:     passed,
		Result: verify.Result{
			Discrepancies: []verify.Discrepancy{},
			Passed:        passed,
		},
	}
}

func ids(runs []audit.Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}

func TestSaveAndList(t *testing.T) {
	s := newStore(t)
	runs, err := s.List("")
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.NoError(t, s.Save(run("c", "blog", base.Add(2*time.Hour), true)))
	require.NoError(t, s.Save(run("a", "blog", base, false)))
	require.NoError(t, s.Save(run("b", "shop", base.Add(time.Hour), true)))

	runs, err = s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(runs))

	runs, err = s.List("blog")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(runs))
	assert.False(t, runs[0].Passed)
	assert.True(t, runs[0].FinishedAt.Equal(base))
}

func TestLatest(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(run("a", "shop", base, false)))
	require.NoError(t, s.Save(run("b", "blog", base.Add(time.Hour), false)))
	require.NoError(t, s.Save(run("c", "shop", base.Add(2*time.Hour), true)))

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(latest))
}

func TestPruneOlderThan(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(run("old", "blog", base.Add(-48*time.Hour), true)))
	require.NoError(t, s.Save(run("older", "blog", base.Add(-72*time.Hour), true)))
	require.NoError(t, s.Save(run("new", "blog", base, true)))

	removed, err := s.PruneOlderThan(base.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	runs, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids(runs))
}

func TestGet(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(run("a1", "blog", base, true)))
	require.NoError(t, store.Save(run("b1", "shop", base.Add(time.Minute), false)))

	got, err := store.Get("b1")
	require.NoError(t, err)
	assert.Equal(t, "shop", got.Target)
	assert.False(t, got.Passed)

	_, err = store.Get("1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Get("")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
