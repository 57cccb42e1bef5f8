package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/coresum/internal/checksum"
	"github.com/ipsix/coresum/internal/install"
	"github.com/ipsix/coresum/internal/logging"
	"github.com/ipsix/coresum/internal/manifest"
	"github.com/ipsix/coresum/internal/verify"
)

type fakeSource struct {
	m       *manifest.Manifest
	err     error
	version string
	locale  string
}

func (f *fakeSource) Fetch(_ context.Context, version, locale string) (*manifest.Manifest, error) {
	f.version, f.locale = version, locale
	if f.err != nil {
		return nil, f.err
	}
	return f.m, nil
}

// writeInstall lays out a small install and returns its root together with
// a manifest that matches it exactly.
func writeInstall(t *testing.T, marker string) (string, *manifest.Manifest) {
	t.Helper()
	root := t.TempDir()
	files := []struct {
		path string
		body string
	}{
		{path: "fin-includes/version.php", body: marker},
		{path: "fin-admin/index.php", body: "admin"},
		{path: "fin-login.php", body: "login"},
		{path: "fin-content/index.php", body: "content"},
	}
	m := manifest.New()
	for _, f := range files {
		abs := filepath.Join(root, filepath.FromSlash(f.path))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(f.body), 0o644))
		digest, err := checksum.File(abs)
		require.NoError(t, err)
		require.NoError(t, m.Add(f.path, digest))
	}
	return root, m
}

const marker = "<?php\n$fin_version = '6.4.2';\n$fin_local_package = 'de_DE';\n"

func TestResolve(t *testing.T) {
	root, _ := writeInstall(t, marker)

	cases := []struct {
		name    string
		target  Target
		version string
		locale  string
	}{
		{name: "from marker", target: Target{Root: root}, version: "6.4.2", locale: "de_DE"},
		{name: "locale flag wins", target: Target{Root: root, Locale: "ja"}, version: "6.4.2", locale: "ja"},
		{name: "version skips marker", target: Target{Root: root, Version: "6.3"}, version: "6.3", locale: "en_US"},
		{name: "both given", target: Target{Root: "/nonexistent", Version: "6.3", Locale: "fr_FR"}, version: "6.3", locale: "fr_FR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			version, locale, err := Resolve(tc.target)
			require.NoError(t, err)
			assert.Equal(t, tc.version, version)
			assert.Equal(t, tc.locale, locale)
		})
	}
}

func TestResolveDefaultLocale(t *testing.T) {
	root, _ := writeInstall(t, "<?php\n$fin_version = '6.4.2';\n")
	_, locale, err := Resolve(Target{Root: root})
	require.NoError(t, err)
	assert.Equal(t, manifest.DefaultLocale, locale)
}

func TestResolveNotAnInstall(t *testing.T) {
	_, _, err := Resolve(Target{Root: t.TempDir()})
	assert.ErrorIs(t, err, install.ErrNotAnInstall)
}

func TestVerifyPasses(t *testing.T) {
	root, m := writeInstall(t, marker)
	source := &fakeSource{m: m}
	runner := NewRunner(source, logging.Discard())

	run, err := runner.Verify(context.Background(), Target{Name: "blog", Root: root})
	require.NoError(t, err)
	assert.True(t, run.Passed)
	assert.False(t, run.Failed())
	assert.Empty(t, run.Error)
	assert.Equal(t, "blog", run.Target)
	assert.Equal(t, "6.4.2", run.Version)
	assert.Equal(t, "de_DE", run.Locale)
	assert.Equal(t, "6.4.2", source.version)
	assert.Equal(t, "de_DE", source.locale)
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
	assert.Equal(t, 3, run.Result.Checked)
	assert.Equal(t, 1, run.Result.Skipped)
}

func TestVerifyReportsDiscrepancies(t *testing.T) {
	root, m := writeInstall(t, marker)
	require.NoError(t, os.WriteFile(filepath.Join(root, "fin-login.php"), []byte("tampered"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "fin-admin", "shell.php"), []byte("x"), 0o644))

	runner := NewRunner(&fakeSource{m: m}, logging.Discard())
	run, err := runner.Verify(context.Background(), Target{Name: "blog", Root: root})
	require.NoError(t, err)
	assert.False(t, run.Passed)
	assert.True(t, run.Failed())
	assert.Equal(t, []verify.Discrepancy{
		{Kind: verify.HashMismatch, Path: "fin-login.php", Reason: "File doesn't verify against checksum"},
		{Kind: verify.UnexpectedFile, Path: "fin-admin/shell.php", Reason: "File should not exist"},
	}, run.Result.Discrepancies)
}

func TestVerifyExcludeAndIncludeRoot(t *testing.T) {
	root, m := writeInstall(t, marker)
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.html"), []byte("x"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(root, "fin-login.php")))

	runner := NewRunner(&fakeSource{m: m}, logging.Discard())
	run, err := runner.Verify(context.Background(), Target{
		Root:        root,
		IncludeRoot: true,
		Exclude:     []string{"fin-login.php"},
	})
	require.NoError(t, err)
	assert.True(t, run.Passed)
	require.Len(t, run.Result.Discrepancies, 1)
	assert.Equal(t, verify.UnexpectedFile, run.Result.Discrepancies[0].Kind)
	assert.Equal(t, "readme.html", run.Result.Discrepancies[0].Path)
}

func TestVerifyRecordsFatalErrors(t *testing.T) {
	root, _ := writeInstall(t, marker)
	runner := NewRunner(&fakeSource{err: manifest.ErrUnavailable}, logging.Discard())

	run, err := runner.Verify(context.Background(), Target{Name: "blog", Root: root})
	require.ErrorIs(t, err, manifest.ErrUnavailable)
	assert.True(t, run.Failed())
	assert.Equal(t, err.Error(), run.Error)
	assert.Equal(t, "6.4.2", run.Version)
	assert.False(t, run.FinishedAt.IsZero())

	run, err = runner.Verify(context.Background(), Target{Name: "empty", Root: t.TempDir()})
	require.ErrorIs(t, err, install.ErrNotAnInstall)
	assert.Empty(t, run.Version)
	assert.True(t, run.Failed())
}

func TestVerifyTimeout(t *testing.T) {
	root, m := writeInstall(t, marker)
	runner := NewRunner(&fakeSource{m: m}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Verify(ctx, Target{Root: root, Timeout: time.Minute})
	assert.True(t, errors.Is(err, context.Canceled))
}
