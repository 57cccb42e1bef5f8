// Package scheduler runs verification targets on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ipsix/coresum/internal/audit"
	"github.com/ipsix/coresum/internal/logging"
)

// ErrStopped is returned for runs requested after Stop.
var ErrStopped = errors.New("scheduler is stopped")

// Verifier performs one verification of a target.
type Verifier interface {
	Verify(ctx context.Context, t audit.Target) (audit.Run, error)
}

type JobConfig struct {
	Target     audit.Target
	Schedule   string
	RunOnStart bool
}

// JobStatus describes a registered job for status reporting.
type JobStatus struct {
	Name     string    `json:"name"`
	Root     string    `json:"install_root"`
	Schedule string    `json:"schedule"`
	Running  bool      `json:"running"`
	LastRun  time.Time `json:"last_run,omitempty"`
	NextRun  time.Time `json:"next_run,omitempty"`
}

type Scheduler struct {
	logger   *logging.Logger
	verifier Verifier
	cron     *cron.Cron

	mu       sync.Mutex
	jobs     map[string]*job
	ctx      context.Context
	onResult func(audit.Run, error)
	started  bool
	stopped  bool
	runs     sync.WaitGroup
}

type job struct {
	cfg     JobConfig
	entry   cron.EntryID
	running atomic.Bool
	lastRun atomic.Int64
}

func New(logger *logging.Logger, verifier Verifier) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		logger:   logger,
		verifier: verifier,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		jobs:     make(map[string]*job),
		ctx:      context.Background(),
	}
}

// SetOnResult registers a callback invoked after every run, including runs
// that ended in an error.
func (s *Scheduler) SetOnResult(fn func(audit.Run, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResult = fn
}

func (s *Scheduler) AddJob(cfg JobConfig) error {
	name := cfg.Target.Name
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if cfg.Target.Root == "" {
		return fmt.Errorf("job %q: install root is required", name)
	}
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		return fmt.Errorf("job %q: schedule is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already exists", name)
	}

	j := &job{cfg: cfg}
	id, err := s.cron.AddFunc(spec, func() { s.executeJob(s.context(), j) })
	if err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", name, spec, err)
	}
	j.entry = id
	s.jobs[name] = j
	return nil
}

// AddTask schedules a maintenance function that is not a verification.
func (s *Scheduler) AddTask(name, spec string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Debug("task starting", logging.Field{Key: "task", Value: name})
		fn(s.context())
	})
	if err != nil {
		return fmt.Errorf("task %q: invalid schedule %q: %w", name, spec, err)
	}
	return nil
}

// Start begins firing schedules. Jobs marked RunOnStart run immediately in
// the background. Runs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.ctx = ctx
	for _, j := range s.jobs {
		if j.cfg.RunOnStart {
			go s.executeJob(ctx, j)
		}
	}
	s.cron.Start()
}

// Stop halts the schedules and waits for every running job to return,
// including RunOnStart and RunOnce runs. Later runs fail with ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.stopped = true
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.runs.Wait()
}

// RunOnce runs the named job now, outside its schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (audit.Run, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return audit.Run{}, fmt.Errorf("job %q not found", name)
	}
	run, ran, err := s.run(ctx, j)
	if errors.Is(err, ErrStopped) {
		return audit.Run{}, fmt.Errorf("job %q: %w", name, err)
	}
	if !ran {
		return audit.Run{}, fmt.Errorf("job %q is already running", name)
	}
	return run, err
}

func (s *Scheduler) ListJobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		status := JobStatus{
			Name:     name,
			Root:     j.cfg.Target.Root,
			Schedule: j.cfg.Schedule,
			Running:  j.running.Load(),
			NextRun:  s.cron.Entry(j.entry).Next,
		}
		if last := j.lastRun.Load(); last > 0 {
			status.LastRun = time.Unix(0, last).UTC()
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) executeJob(ctx context.Context, j *job) {
	if _, ran, err := s.run(ctx, j); !ran && !errors.Is(err, ErrStopped) {
		s.logger.Warn("job skipped due to overlap", logging.Field{Key: "job", Value: j.cfg.Target.Name})
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) (run audit.Run, ran bool, err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return audit.Run{}, false, ErrStopped
	}
	s.runs.Add(1)
	s.mu.Unlock()
	defer s.runs.Done()

	if !j.running.CompareAndSwap(false, true) {
		return audit.Run{}, false, nil
	}
	defer j.running.Store(false)
	ran = true
	name := j.cfg.Target.Name

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panic recovered",
				logging.Field{Key: "job", Value: name},
				logging.Field{Key: "panic", Value: r},
				logging.Field{Key: "stack", Value: string(debug.Stack())},
			)
			err = fmt.Errorf("job %q panicked: %v", name, r)
		}
	}()

	run, err = s.verifier.Verify(ctx, j.cfg.Target)
	j.lastRun.Store(time.Now().UnixNano())

	if err != nil {
		s.logger.Error("job failed",
			logging.Field{Key: "job", Value: name},
			logging.Field{Key: "error", Value: err.Error()},
			logging.Field{Key: "duration", Value: run.Duration.String()},
		)
	} else {
		s.logger.Info("job completed",
			logging.Field{Key: "job", Value: name},
			logging.Field{Key: "passed", Value: run.Passed},
			logging.Field{Key: "discrepancies", Value: len(run.Result.Discrepancies)},
			logging.Field{Key: "duration", Value: run.Duration.String()},
		)
	}

	s.mu.Lock()
	onResult := s.onResult
	s.mu.Unlock()
	if onResult != nil {
		onResult(run, err)
	}
	return run, true, err
}

// cronLogger adapts Logger to the cron package's logging interface.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fs := append(fields(keysAndValues), logging.Field{Key: "error", Value: err.Error()})
	l.logger.Error("cron: "+msg, fs...)
}

func fields(keysAndValues []interface{}) []logging.Field {
	out := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, logging.Field{Key: fmt.Sprint(keysAndValues[i]), Value: keysAndValues[i+1]})
	}
	return out
}
