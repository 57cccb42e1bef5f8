// Package checksum computes the content digests published in core checksum
// manifests: MD5, lowercase hex.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"
)

const bufferSize = 1 << 20

// FS hashes relPath inside fsys. The whole file is read; any open or read
// failure is returned as is so callers can tell a vanished file apart from an
// unreadable one.
func FS(fsys billy.Filesystem, relPath string, buf []byte) (string, error) {
	f, err := fsys.Open(relPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Reader(f, buf)
}

// File hashes the file at an absolute or working directory relative path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Reader(f, nil)
}

// Reader hashes everything readable from r. buf may be nil.
func Reader(r io.Reader, buf []byte) (string, error) {
	if buf == nil {
		buf = make([]byte, bufferSize)
	}
	h := md5.New()
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NewBuffer returns a copy buffer sized for hashing workers.
func NewBuffer() []byte {
	return make([]byte, bufferSize)
}
