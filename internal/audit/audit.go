// Package audit runs one verification of an install end to end: it works out
// which release the install claims to be, fetches that release's manifest and
// diffs the tree against it.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ipsix/coresum/internal/install"
	"github.com/ipsix/coresum/internal/logging"
	"github.com/ipsix/coresum/internal/manifest"
	"github.com/ipsix/coresum/internal/verify"
)

// Target names an install and how it should be checked.
type Target struct {
	Name        string        `json:"name"`
	Root        string        `json:"install_root"`
	Version     string        `json:"version,omitempty"`
	Locale      string        `json:"locale,omitempty"`
	IncludeRoot bool          `json:"include_root"`
	Exclude     []string      `json:"exclude,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Run records one verification. Error is set when the run could not reach a
// verdict; Result is then empty and Passed is false.
type Run struct {
	ID         string        `json:"id"`
	Target     string        `json:"target"`
	Root       string        `json:"install_root"`
	Version    string        `json:"version"`
	Locale     string        `json:"locale"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Passed     bool          `json:"passed"`
	Error      string        `json:"error,omitempty"`
	Result     verify.Result `json:"result"`
}

// Failed reports whether the run errored or found failing discrepancies.
func (r Run) Failed() bool {
	return r.Error != "" || !r.Passed
}

type Runner struct {
	source  manifest.Source
	logger  *logging.Logger
	workers int
	now     func() time.Time
}

func NewRunner(source manifest.Source, logger *logging.Logger) *Runner {
	return &Runner{
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// SetWorkers bounds the number of files hashed in parallel.
func (r *Runner) SetWorkers(n int) {
	r.workers = n
}

// Resolve returns the release and locale to verify against. An explicit
// version skips the version marker entirely; otherwise the marker supplies the
// version and, when no locale was given, the locale. The locale falls back to
// manifest.DefaultLocale.
func Resolve(t Target) (string, string, error) {
	version, locale := t.Version, t.Locale
	if version == "" {
		details, err := install.ReadDetails(t.Root)
		if err != nil {
			return "", "", err
		}
		version = details.Version
		if locale == "" {
			locale = details.LocalPackage
		}
	}
	if locale == "" {
		locale = manifest.DefaultLocale
	}
	return version, locale, nil
}

// Verify runs the target once. The returned Run is populated even when err is
// non-nil so that failures can be recorded.
func (r *Runner) Verify(ctx context.Context, t Target) (Run, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	run := Run{
		ID:        newID(),
		Target:    t.Name,
		Root:      t.Root,
		StartedAt: r.now().UTC(),
	}
	finish := func(err error) (Run, error) {
		run.FinishedAt = r.now().UTC()
		run.Duration = run.FinishedAt.Sub(run.StartedAt)
		if err != nil {
			run.Error = err.Error()
			run.Passed = false
		}
		return run, err
	}

	version, locale, err := Resolve(t)
	if err != nil {
		return finish(err)
	}
	run.Version, run.Locale = version, locale

	m, err := r.source.Fetch(ctx, version, locale)
	if err != nil {
		return finish(err)
	}

	result, err := verify.DiffDir(ctx, m, t.Root, verify.Options{
		Exclude:     t.Exclude,
		IncludeRoot: t.IncludeRoot,
		Workers:     r.workers,
	})
	if err != nil {
		return finish(err)
	}
	run.Result = result
	run.Passed = result.Passed

	r.logger.Debug("verification finished",
		logging.Field{Key: "target", Value: t.Name},
		logging.Field{Key: "version", Value: version},
		logging.Field{Key: "locale", Value: locale},
		logging.Field{Key: "checked", Value: result.Checked},
		logging.Field{Key: "discrepancies", Value: len(result.Discrepancies)},
	)
	return finish(nil)
}

func newID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
