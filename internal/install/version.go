// Package install inspects an install tree to find out which release and
// locale it claims to be.
package install

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipsix/coresum/internal/classify"
)

// ErrNotAnInstall is returned when the version marker is missing or cannot
// be parsed.
var ErrNotAnInstall = errors.New("this does not seem to be a FinPress install")

// Hint tells the user how to point the tool at an install.
const Hint = "Pass --path=`path/to/finpress` or run `fin core download`."

const (
	markerOffset = 6
	markerLength = 2048
)

// Details are the values assigned in the version marker file.
type Details struct {
	Version        string `json:"fin_version"`
	DBVersion      string `json:"fin_db_version"`
	TinyMCEVersion string `json:"tinymce_version"`
	LocalPackage   string `json:"fin_local_package"`
}

// ReadDetails reads the version marker below root using the default layout.
func ReadDetails(root string) (Details, error) {
	return ReadDetailsLayout(root, classify.DefaultLayout())
}

// ReadDetailsLayout reads the version marker named by layout.
func ReadDetailsLayout(root string, layout classify.Layout) (Details, error) {
	path := filepath.Join(root, filepath.FromSlash(layout.VersionFile))
	f, err := os.Open(path)
	if err != nil {
		return Details{}, fmt.Errorf("%w (%v)", ErrNotAnInstall, err)
	}
	defer f.Close()

	buf := make([]byte, markerLength)
	n, err := f.ReadAt(buf, markerOffset)
	if err != nil && !errors.Is(err, io.EOF) {
		return Details{}, fmt.Errorf("%w (read %s: %v)", ErrNotAnInstall, layout.VersionFile, err)
	}
	return ParseDetails(string(buf[:n]))
}

// ParseDetails extracts the marker assignments from code. Only the release
// version is required; its value is passed on as found.
func ParseDetails(code string) (Details, error) {
	d := Details{
		Version:        FindVar("fin_version", code),
		DBVersion:      FindVar("fin_db_version", code),
		TinyMCEVersion: FindVar("tinymce_version", code),
		LocalPackage:   FindVar("fin_local_package", code),
	}
	if d.Version == "" {
		return Details{}, fmt.Errorf("%w (no version assignment found)", ErrNotAnInstall)
	}
	return d, nil
}

// FindVar returns the value of the first `$name = value;` assignment in
// code with surrounding spaces and single quotes removed, or "" when there
// is none.
func FindVar(name, code string) string {
	needle := "$" + name + " = "
	start := strings.Index(code, needle)
	if start < 0 {
		return ""
	}
	start += len(needle)
	end := strings.Index(code[start:], ";")
	if end < 0 {
		return ""
	}
	return strings.Trim(code[start:start+end], " '")
}
