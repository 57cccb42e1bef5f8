package verify

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/coresum/internal/classify"
	"github.com/ipsix/coresum/internal/manifest"
)

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// install writes files into a fresh in-memory tree and returns a manifest
// matching them in the given order.
func install(t *testing.T, files ...string) (billy.Filesystem, *manifest.Manifest) {
	t.Helper()
	fsys := memfs.New()
	m := manifest.New()
	for _, p := range files {
		require.NoError(t, util.WriteFile(fsys, p, []byte("content of "+p), 0o644))
		require.NoError(t, m.Add(p, md5hex("content of "+p)))
	}
	return fsys, m
}

func kinds(r Result) []string {
	out := []string{}
	for _, d := range r.Discrepancies {
		out = append(out, string(d.Kind)+" "+d.Path)
	}
	return out
}

func TestDiffCleanInstallPasses(t *testing.T) {
	fsys, m := install(t,
		"index.php",
		"fin-login.php",
		"fin-admin/about.php",
		"fin-includes/version.php",
	)
	for _, includeRoot := range []bool{false, true} {
		res, err := Diff(context.Background(), m, fsys, Options{IncludeRoot: includeRoot})
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.Empty(t, res.Discrepancies)
		assert.Equal(t, 4, res.Checked)
		assert.Equal(t, 4, res.Scanned)
	}
}

func TestDiffScenarioMatchingVersionFile(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "fin-includes/version.php", []byte("abc"), 0o644))
	m, err := manifest.FromEntries(manifest.Entry{Path: "fin-includes/version.php", Digest: md5hex("abc")})
	require.NoError(t, err)

	res, err := Diff(context.Background(), m, fsys, Options{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Discrepancies)
}

func TestDiffScenarioModifiedReadme(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "readme.html", []byte("def"), 0o644))
	m, err := manifest.FromEntries(manifest.Entry{Path: "readme.html", Digest: md5hex("abc")})
	require.NoError(t, err)

	res, err := Diff(context.Background(), m, fsys, Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, Discrepancy{Kind: HashMismatch, Path: "readme.html", Reason: "File doesn't verify against checksum"}, res.Discrepancies[0])
}

func TestDiffComparesDigestsExactly(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "readme.html", []byte("abc"), 0o644))
	m, err := manifest.FromEntries(manifest.Entry{Path: "readme.html", Digest: strings.ToUpper(md5hex("abc"))})
	require.NoError(t, err)

	res, err := Diff(context.Background(), m, fsys, Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"hash_mismatch readme.html"}, kinds(res))
}

func TestDiffScenarioExcludedMissingFile(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, fsys.MkdirAll("fin-includes", 0o755))
	require.NoError(t, util.WriteFile(fsys, "index.php", []byte("x"), 0o644))
	m, err := manifest.FromEntries(manifest.Entry{Path: "fin-includes/foo.php", Digest: md5hex("abc")})
	require.NoError(t, err)

	res, err := Diff(context.Background(), m, fsys, Options{Exclude: []string{"fin-includes/foo.php"}})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Discrepancies)
	assert.Equal(t, 1, res.Skipped)
}

func TestDiffMissingFile(t *testing.T) {
	fsys, m := install(t, "index.php")
	require.NoError(t, m.Add("fin-admin/gone.php", md5hex("x")))

	res, err := Diff(context.Background(), m, fsys, Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"missing_file fin-admin/gone.php"}, kinds(res))
	assert.Equal(t, "File doesn't exist", res.Discrepancies[0].Reason)
}

func TestDiffContentEntriesNeverChecked(t *testing.T) {
	fsys, m := install(t, "index.php")
	require.NoError(t, util.WriteFile(fsys, "fin-content/index.php", []byte("changed"), 0o644))
	require.NoError(t, m.Add("fin-content/index.php", md5hex("original")))
	require.NoError(t, m.Add("fin-content/themes/gone/style.css", md5hex("gone")))

	res, err := Diff(context.Background(), m, fsys, Options{IncludeRoot: true})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Discrepancies)
	assert.Equal(t, 2, res.Skipped)
}

func TestDiffUnexpectedFilesAreAdvisory(t *testing.T) {
	fsys, m := install(t, "fin-admin/about.php", "fin-includes/load.php")
	require.NoError(t, util.WriteFile(fsys, "fin-includes/backdoor.php", []byte("evil"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "fin-admin/a-shell.php", []byte("evil"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "fin-evil.php", []byte("evil"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "fin-config.php", []byte("secrets"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "fin-content/plugins/p.php", []byte("user"), 0o644))

	res, err := Diff(context.Background(), m, fsys, Options{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, []string{
		"unexpected_file fin-admin/a-shell.php",
		"unexpected_file fin-evil.php",
		"unexpected_file fin-includes/backdoor.php",
	}, kinds(res))
	assert.Len(t, res.Warnings(), 3)
	assert.Empty(t, res.Failures())
}

func TestDiffIncludeRootAsymmetry(t *testing.T) {
	fsys, m := install(t, "fin-admin/about.php")
	require.NoError(t, util.WriteFile(fsys, "extra-plugin/foo.php", []byte("x"), 0o644))
	require.NoError(t, util.WriteFile(fsys, ".htaccess", []byte("x"), 0o644))
	require.NoError(t, util.WriteFile(fsys, ".maintenance", []byte("x"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "fin-config.php", []byte("x"), 0o644))

	res, err := Diff(context.Background(), m, fsys, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Discrepancies)

	res, err = Diff(context.Background(), m, fsys, Options{IncludeRoot: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"unexpected_file extra-plugin/foo.php"}, kinds(res))
	assert.True(t, res.Passed)
}

func TestDiffExclusionOnlyAffectsThatPath(t *testing.T) {
	fsys, m := install(t, "fin-admin/about.php", "readme.html", "fin-includes/a.php")
	require.NoError(t, util.WriteFile(fsys, "readme.html", []byte("tampered"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "fin-includes/a.php", []byte("tampered"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "fin-includes/extra.php", []byte("x"), 0o644))

	base, err := Diff(context.Background(), m, fsys, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"hash_mismatch readme.html",
		"hash_mismatch fin-includes/a.php",
		"unexpected_file fin-includes/extra.php",
	}, kinds(base))

	for _, ex := range []string{"readme.html", "fin-includes/a.php", "fin-includes/extra.php"} {
		res, err := Diff(context.Background(), m, fsys, Options{Exclude: []string{ex}})
		require.NoError(t, err)
		want := []string{}
		for _, d := range base.Discrepancies {
			if d.Path != ex {
				want = append(want, string(d.Kind)+" "+d.Path)
			}
		}
		assert.Equal(t, want, kinds(res), ex)
	}
}

func TestDiffDeterministicAcrossWorkerCounts(t *testing.T) {
	files := []string{}
	for _, dir := range []string{"fin-admin", "fin-includes", "misc"} {
		for _, name := range []string{"z.php", "a.php", "m.php", "b.php"} {
			files = append(files, dir+"/"+name)
		}
	}
	fsys, m := install(t, files...)
	for _, p := range []string{"fin-admin/z.php", "misc/a.php", "fin-includes/b.php"} {
		require.NoError(t, util.WriteFile(fsys, p, []byte("tampered"), 0o644))
	}
	require.NoError(t, fsys.Remove("fin-admin/m.php"))

	var first []string
	for _, workers := range []int{1, 2, 8, 0} {
		res, err := Diff(context.Background(), m, fsys, Options{Workers: workers})
		require.NoError(t, err)
		got := kinds(res)
		if first == nil {
			first = got
			continue
		}
		assert.Equal(t, first, got, "workers=%d", workers)
	}
	assert.Equal(t, []string{
		"hash_mismatch fin-admin/z.php",
		"missing_file fin-admin/m.php",
		"hash_mismatch fin-includes/b.php",
		"hash_mismatch misc/a.php",
	}, first)
}

func TestDiffCustomLayout(t *testing.T) {
	layout := classify.DefaultLayout()
	layout.ContentDir = "site-data/"
	fsys, m := install(t, "fin-admin/about.php")
	require.NoError(t, m.Add("site-data/upload.png", md5hex("png")))

	res, err := Diff(context.Background(), m, fsys, Options{Layout: &layout})
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestDiffEmptyManifest(t *testing.T) {
	_, err := Diff(context.Background(), manifest.New(), memfs.New(), Options{})
	require.Error(t, err)
}

func TestDiffCancelled(t *testing.T) {
	fsys, m := install(t, "index.php", "fin-admin/about.php")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Diff(ctx, m, fsys, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

type vanishingFS struct {
	billy.Filesystem
	gone map[string]bool
}

func (v vanishingFS) Open(name string) (billy.File, error) {
	if v.gone[name] {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return v.Filesystem.Open(name)
}

func TestDiffFileVanishingAfterWalkIsMissing(t *testing.T) {
	fsys, m := install(t, "fin-admin/about.php", "index.php")
	res, err := Diff(context.Background(), m, vanishingFS{Filesystem: fsys, gone: map[string]bool{"index.php": true}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"missing_file index.php"}, kinds(res))
	assert.False(t, res.Passed)
}

type unreadableFS struct {
	billy.Filesystem
	path string
}

func (u unreadableFS) Open(name string) (billy.File, error) {
	if name == u.path {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return u.Filesystem.Open(name)
}

func TestDiffUnreadableFileIsFatal(t *testing.T) {
	fsys, m := install(t, "fin-admin/about.php", "index.php")
	res, err := Diff(context.Background(), m, unreadableFS{Filesystem: fsys, path: "index.php"}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, os.ErrPermission))
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "index.php", ioErr.Path)
	assert.Empty(t, res.Discrepancies)
}

func TestDiffDirOnDisk(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "fin-includes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "fin-includes", "version.php"), []byte("v"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "fin-includes", "shell.php"), []byte("s"), 0o644))
	m, err := manifest.FromEntries(
		manifest.Entry{Path: "fin-includes/version.php", Digest: md5hex("v")},
		manifest.Entry{Path: "fin-admin/index.php", Digest: md5hex("i")},
	)
	require.NoError(t, err)

	res, err := DiffDir(context.Background(), m, root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"missing_file fin-admin/index.php",
		"unexpected_file fin-includes/shell.php",
	}, kinds(res))
	assert.False(t, res.Passed)
}

func TestDiffDirMissingRootIsIOError(t *testing.T) {
	m, err := manifest.FromEntries(manifest.Entry{Path: "index.php", Digest: md5hex("i")})
	require.NoError(t, err)
	_, err = DiffDir(context.Background(), m, filepath.Join(t.TempDir(), "nope"), Options{})
	require.ErrorIs(t, err, ErrIO)
}

func TestDiffDirUnreadableFile(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root := t.TempDir()
	path := filepath.Join(root, "index.php")
	require.NoError(t, os.WriteFile(path, []byte("i"), 0o000))
	m, err := manifest.FromEntries(manifest.Entry{Path: "index.php", Digest: md5hex("i")})
	require.NoError(t, err)
	_, err = DiffDir(context.Background(), m, root, Options{})
	require.ErrorIs(t, err, ErrIO)
}

func TestKindMessages(t *testing.T) {
	assert.Equal(t, "File doesn't exist", MissingFile.Message())
	assert.Equal(t, "File doesn't verify against checksum", HashMismatch.Message())
	assert.Equal(t, "File should not exist", UnexpectedFile.Message())
	assert.True(t, MissingFile.Fails())
	assert.True(t, HashMismatch.Fails())
	assert.False(t, UnexpectedFile.Fails())
}
