package checksum

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// md5("hello")
const helloMD5 = "5d41402abc4b2a76b9719d911017c592"

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	got, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, helloMD5, got)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFS(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "fin-includes/version.php", []byte("hello"), 0o644))

	got, err := FS(fsys, "fin-includes/version.php", NewBuffer())
	require.NoError(t, err)
	assert.Equal(t, helloMD5, got)
}

func TestReaderEmpty(t *testing.T) {
	got, err := Reader(strings.NewReader(""), nil)
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", got)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestReaderPropagatesReadError(t *testing.T) {
	_, err := Reader(failingReader{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}
