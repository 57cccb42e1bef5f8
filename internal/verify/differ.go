// Package verify reconciles an install tree with its release manifest.
package verify

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/ipsix/coresum/internal/checksum"
	"github.com/ipsix/coresum/internal/classify"
	"github.com/ipsix/coresum/internal/manifest"
	"github.com/ipsix/coresum/internal/walker"
)

// Options tune a single diff. The zero value checks the default layout
// without exclusions, auditing only the core trees.
type Options struct {
	// Exclude lists relative paths, matched exactly, that are ignored both
	// as manifest entries and as files on disk.
	Exclude     []string
	IncludeRoot bool
	// Workers bounds parallel hashing. Zero or less uses one per CPU.
	Workers int
	Layout  *classify.Layout
}

func (o Options) layout() classify.Layout {
	if o.Layout != nil {
		return *o.Layout
	}
	return classify.DefaultLayout()
}

func (o Options) workers(jobs int) int {
	n := o.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > jobs {
		n = jobs
	}
	return n
}

// DiffDir verifies the install rooted at installRoot on the host filesystem.
func DiffDir(ctx context.Context, m *manifest.Manifest, installRoot string, opts Options) (Result, error) {
	fsys, err := walker.Open(installRoot)
	if err != nil {
		return Result{}, &IOError{Op: "open install root", Path: installRoot, Err: err}
	}
	return Diff(ctx, m, fsys, opts)
}

// Diff compares every manifest entry with the file of the same path in root
// and then reports core files on disk the manifest does not account for.
//
// Discrepancies come out in manifest order followed by unexpected files in
// path order, whatever the degree of parallelism. A file that cannot be read
// aborts the run with an *IOError; a file that disappears after the walk is
// reported missing.
func Diff(ctx context.Context, m *manifest.Manifest, root billy.Filesystem, opts Options) (Result, error) {
	if m == nil || m.Len() == 0 {
		return Result{}, errors.New("manifest is empty")
	}
	layout := opts.layout()
	policy := classify.Policy{IncludeRoot: opts.IncludeRoot}
	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, p := range opts.Exclude {
		if p != "" {
			excluded[p] = struct{}{}
		}
	}

	installed, err := walker.List(root)
	if err != nil {
		return Result{}, &IOError{Op: "list files", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	result := Result{Scanned: installed.Len()}
	entries := m.Entries()
	outcomes := make([]outcome, len(entries))
	var jobs []hashJob
	for i, e := range entries {
		if layout.IsContentPath(e.Path) {
			result.Skipped++
			continue
		}
		if _, skip := excluded[e.Path]; skip {
			result.Skipped++
			continue
		}
		result.Checked++
		if !installed.Has(e.Path) {
			outcomes[i] = outcome{found: true, discrepancy: newDiscrepancy(MissingFile, e.Path)}
			continue
		}
		jobs = append(jobs, hashJob{index: i, entry: e})
	}

	if err := hashAll(ctx, root, jobs, outcomes, opts.workers(len(jobs))); err != nil {
		return Result{}, err
	}

	for _, o := range outcomes {
		if o.found {
			result.Discrepancies = append(result.Discrepancies, o.discrepancy)
		}
	}

	core := make(map[string]struct{}, m.Len())
	for _, p := range m.Paths() {
		if layout.IsCorePath(p, policy) {
			core[p] = struct{}{}
		}
	}
	for _, p := range installed.Paths() {
		if _, ok := core[p]; ok {
			continue
		}
		if _, skip := excluded[p]; skip {
			continue
		}
		if !layout.IsCorePath(p, policy) {
			continue
		}
		result.Discrepancies = append(result.Discrepancies, newDiscrepancy(UnexpectedFile, p))
	}

	result.Passed = true
	for _, d := range result.Discrepancies {
		if d.Kind.Fails() {
			result.Passed = false
			break
		}
	}
	if result.Discrepancies == nil {
		result.Discrepancies = []Discrepancy{}
	}
	return result, nil
}

type hashJob struct {
	index int
	entry manifest.Entry
}

type outcome struct {
	found       bool
	discrepancy Discrepancy
	err         error
}

func hashAll(ctx context.Context, root billy.Filesystem, jobs []hashJob, outcomes []outcome, workers int) error {
	if len(jobs) == 0 {
		return nil
	}
	jobCh := make(chan hashJob)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := checksum.NewBuffer()
			for j := range jobCh {
				// Each worker writes only the slots of its own jobs.
				outcomes[j.index] = hashOne(ctx, root, j, buf)
			}
		}()
	}
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)
	wg.Wait()

	for _, j := range jobs {
		if err := outcomes[j.index].err; err != nil {
			return err
		}
	}
	return nil
}

func hashOne(ctx context.Context, root billy.Filesystem, j hashJob, buf []byte) outcome {
	if err := ctx.Err(); err != nil {
		return outcome{err: err}
	}
	actual, err := checksum.FS(root, j.entry.Path, buf)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return outcome{found: true, discrepancy: newDiscrepancy(MissingFile, j.entry.Path)}
		}
		return outcome{err: &IOError{Op: "hash", Path: j.entry.Path, Err: err}}
	}
	if actual != j.entry.Digest {
		return outcome{found: true, discrepancy: newDiscrepancy(HashMismatch, j.entry.Path)}
	}
	return outcome{}
}
