// Package classify decides which relative paths of an install belong to the
// protected core tree.
package classify

import "strings"

// Layout names the well-known locations of a product install. Every path is
// relative to the install root and uses forward slashes.
type Layout struct {
	Prefix      string
	AdminDir    string
	IncludesDir string
	ContentDir  string
	ConfigFile  string
	HTAccess    string
	Maintenance string
	VersionFile string
}

// DefaultLayout is the FinPress install layout.
func DefaultLayout() Layout {
	return Layout{
		Prefix:      "fin-",
		AdminDir:    "fin-admin/",
		IncludesDir: "fin-includes/",
		ContentDir:  "fin-content/",
		ConfigFile:  "fin-config.php",
		HTAccess:    ".htaccess",
		Maintenance: ".maintenance",
		VersionFile: "fin-includes/version.php",
	}
}

// Policy controls how far the core tree reaches.
type Policy struct {
	// IncludeRoot audits every file of the install except a handful of
	// environment specific ones, instead of only the invariant core trees.
	IncludeRoot bool
}

// IsCorePath reports whether relPath belongs to the core tree under policy.
// A core path found on disk but absent from the manifest is unexpected.
func (l Layout) IsCorePath(relPath string, policy Policy) bool {
	if policy.IncludeRoot {
		switch relPath {
		case l.HTAccess, l.Maintenance, l.ConfigFile:
			return false
		}
		return !strings.HasPrefix(relPath, l.ContentDir)
	}

	if strings.HasPrefix(relPath, l.AdminDir) || strings.HasPrefix(relPath, l.IncludesDir) {
		return true
	}
	return strings.HasPrefix(relPath, l.Prefix) &&
		!strings.Contains(relPath, "/") &&
		relPath != l.ConfigFile
}

// IsContentPath reports whether a manifest entry lives in the user managed
// content tree and is therefore never checked. The match is on the bare
// directory name, so a top-level "fin-content.php" counts as well.
func (l Layout) IsContentPath(relPath string) bool {
	return strings.HasPrefix(relPath, strings.TrimSuffix(l.ContentDir, "/"))
}

// IsCorePath classifies relPath against the default layout.
func IsCorePath(relPath string, policy Policy) bool {
	return DefaultLayout().IsCorePath(relPath, policy)
}
