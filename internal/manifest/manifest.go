// Package manifest holds the trusted checksum manifest of a core release and
// the collaborators that obtain one: the checksum API client and a local
// cache.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrUnavailable marks every failure to obtain a usable manifest.
var ErrUnavailable = errors.New("manifest unavailable")

// Entry is one expected file of a release.
type Entry struct {
	Path   string `json:"path" yaml:"path"`
	Digest string `json:"digest" yaml:"digest"`
}

// Manifest maps relative paths to expected digests and remembers insertion
// order so iteration is deterministic.
type Manifest struct {
	entries []Entry
	index   map[string]int
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{index: map[string]int{}}
}

// FromEntries builds a manifest, rejecting malformed or duplicate paths.
func FromEntries(entries ...Entry) (*Manifest, error) {
	m := New()
	for _, e := range entries {
		if err := m.Add(e.Path, e.Digest); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add appends an entry. Paths must be relative, slash separated and unique.
// The digest is kept exactly as given.
func (m *Manifest) Add(relPath, digest string) error {
	if err := validatePath(relPath); err != nil {
		return err
	}
	if _, dup := m.index[relPath]; dup {
		return fmt.Errorf("duplicate manifest path %q", relPath)
	}
	m.index[relPath] = len(m.entries)
	m.entries = append(m.entries, Entry{Path: relPath, Digest: digest})
	return nil
}

// Lookup returns the expected digest of relPath.
func (m *Manifest) Lookup(relPath string) (string, bool) {
	i, ok := m.index[relPath]
	if !ok {
		return "", false
	}
	return m.entries[i].Digest, true
}

// Entries returns the entries in insertion order.
func (m *Manifest) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Paths returns the manifest keys in insertion order.
func (m *Manifest) Paths() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Path
	}
	return out
}

func (m *Manifest) Len() int { return len(m.entries) }

// MarshalJSON writes the manifest as a JSON object in insertion order.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Path)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Digest)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of path to digest, keeping document order.
func (m *Manifest) UnmarshalJSON(raw []byte) error {
	parsed, err := decodeObject(json.NewDecoder(bytes.NewReader(raw)))
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// decodeObject consumes one JSON object of string values from dec.
func decodeObject(dec *json.Decoder) (*Manifest, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("manifest must be a JSON object")
	}
	m := New()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read manifest key: %w", err)
		}
		key, _ := keyTok.(string)
		var digest string
		if err := dec.Decode(&digest); err != nil {
			return nil, fmt.Errorf("read digest for %q: %w", key, err)
		}
		if err := m.Add(key, digest); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return m, nil
}

func validatePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("empty manifest path")
	case strings.ContainsRune(p, 0):
		return fmt.Errorf("manifest path contains null byte")
	case strings.Contains(p, `\`):
		return fmt.Errorf("manifest path %q must use forward slashes", p)
	case path.IsAbs(p):
		return fmt.Errorf("manifest path %q must be relative", p)
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("manifest path %q escapes the install root", p)
	}
	return nil
}
