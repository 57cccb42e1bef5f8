package verify

import "fmt"

// Kind classifies a discrepancy.
type Kind string

const (
	MissingFile    Kind = "missing_file"
	HashMismatch   Kind = "hash_mismatch"
	UnexpectedFile Kind = "unexpected_file"
)

// Message is the fixed human readable reason reported for a kind.
func (k Kind) Message() string {
	switch k {
	case MissingFile:
		return "File doesn't exist"
	case HashMismatch:
		return "File doesn't verify against checksum"
	case UnexpectedFile:
		return "File should not exist"
	default:
		return string(k)
	}
}

// Fails reports whether a discrepancy of this kind fails verification.
// Unexpected files are advisory.
func (k Kind) Fails() bool {
	return k == MissingFile || k == HashMismatch
}

// Discrepancy is one finding of a verification run.
type Discrepancy struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Path   string `json:"file" yaml:"file"`
	Reason string `json:"message" yaml:"message"`
}

func newDiscrepancy(kind Kind, relPath string) Discrepancy {
	return Discrepancy{Kind: kind, Path: relPath, Reason: kind.Message()}
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s: %s", d.Reason, d.Path)
}

// Result is the outcome of one diff. It is not modified after Diff returns.
type Result struct {
	Discrepancies []Discrepancy `json:"discrepancies" yaml:"discrepancies"`
	Passed        bool          `json:"passed" yaml:"passed"`
	// Checked counts manifest entries whose presence and digest were verified.
	Checked int `json:"checked" yaml:"checked"`
	// Skipped counts manifest entries ignored as content or excluded.
	Skipped int `json:"skipped" yaml:"skipped"`
	// Scanned counts files found on disk.
	Scanned int `json:"scanned" yaml:"scanned"`
}

// Count returns the number of discrepancies of kind.
func (r Result) Count(kind Kind) int {
	n := 0
	for _, d := range r.Discrepancies {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// Failures returns the discrepancies that fail verification.
func (r Result) Failures() []Discrepancy {
	return r.filter(func(k Kind) bool { return k.Fails() })
}

// Warnings returns the advisory discrepancies.
func (r Result) Warnings() []Discrepancy {
	return r.filter(func(k Kind) bool { return !k.Fails() })
}

func (r Result) filter(keep func(Kind) bool) []Discrepancy {
	out := []Discrepancy{}
	for _, d := range r.Discrepancies {
		if keep(d.Kind) {
			out = append(out, d)
		}
	}
	return out
}
