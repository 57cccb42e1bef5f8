// Package walker enumerates the regular files of an install tree.
//
// Paths are relative to the walked root, use forward slashes and never start
// with a separator. Symbolic links are not descended into; a link is listed
// as a file when it resolves to a regular file and ignored when it resolves
// to a directory or dangles. Entries removed while the walk is in progress
// are skipped. Any other enumeration failure aborts the walk.
package walker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// FileSet is an immutable, sorted set of relative file paths.
type FileSet struct {
	paths []string
	index map[string]struct{}
}

// NewFileSet builds a set from arbitrary relative paths.
func NewFileSet(paths ...string) FileSet {
	index := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, dup := index[p]; dup {
			continue
		}
		index[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return FileSet{paths: out, index: index}
}

// Has reports whether relPath is in the set.
func (s FileSet) Has(relPath string) bool {
	_, ok := s.index[relPath]
	return ok
}

// Paths returns the members in ascending order.
func (s FileSet) Paths() []string {
	return append([]string(nil), s.paths...)
}

func (s FileSet) Len() int { return len(s.paths) }

// List walks fsys from its root.
func List(fsys billy.Filesystem) (FileSet, error) {
	var found []string
	err := util.Walk(fsys, "", func(p string, info os.FileInfo, err error) error {
		rel := normalize(p)
		if err != nil {
			if rel != "" && errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("walk %q: %w", p, err)
		}
		if rel == "" || info.IsDir() {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := fsys.Stat(p)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return fmt.Errorf("resolve link %q: %w", rel, err)
			}
			info = target
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		found = append(found, rel)
		return nil
	})
	if err != nil {
		return FileSet{}, err
	}
	return NewFileSet(found...), nil
}

// ListDir walks the directory at root on the host filesystem.
func ListDir(root string) (FileSet, error) {
	fsys, err := Open(root)
	if err != nil {
		return FileSet{}, err
	}
	return List(fsys)
}

// Open returns a filesystem rooted at an existing directory.
func Open(root string) (billy.Filesystem, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat install root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("install root %s is not a directory", root)
	}
	return osfs.New(root), nil
}

func normalize(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimLeft(p, "/")
}
