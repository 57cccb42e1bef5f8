// Package daemon runs watch mode: scheduled verification of every configured
// target with history, alerting and the status API.
package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipsix/coresum/internal/alerting"
	"github.com/ipsix/coresum/internal/api"
	"github.com/ipsix/coresum/internal/audit"
	"github.com/ipsix/coresum/internal/config"
	"github.com/ipsix/coresum/internal/history"
	"github.com/ipsix/coresum/internal/logging"
	"github.com/ipsix/coresum/internal/manifest"
	"github.com/ipsix/coresum/internal/scheduler"
	"github.com/ipsix/coresum/internal/state"
	"github.com/ipsix/coresum/internal/storage"
)

type Runner struct {
	cfg    config.Config
	logger *logging.Logger

	store   *storage.BadgerStore
	runs    *history.RunsStore
	results *state.RunCache
	alerts  *alerting.Engine
	sched   *scheduler.Scheduler
	api     *api.Server
}

func New(cfg config.Config, logger *logging.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	if err := VerifySelfIntegrity(r.cfg.Daemon.SelfSHA256); err != nil {
		return err
	}
	if err := DropPrivileges(r.cfg.Daemon.User, r.cfg.Daemon.Group); err != nil {
		return err
	}
	if RunningAsRoot() {
		r.logger.Warn("running as root; set daemon.user and daemon.group to drop privileges")
	}

	if err := r.setup(); err != nil {
		r.close()
		return err
	}
	defer r.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go r.handleSignals(sigCh, cancel, func() { r.runAll(ctx) })

	r.sched.Start(ctx)
	apiErr := make(chan error, 1)
	apiRunning := r.cfg.API.Enabled
	if apiRunning {
		go func() { apiErr <- r.api.Start(ctx) }()
	}

	r.logger.Info("daemon started", logging.Field{Key: "targets", Value: len(r.cfg.Targets)})

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-apiErr:
		apiRunning = false
		if err != nil {
			r.logger.Error("api server failed", logging.Field{Key: "error", Value: err.Error()})
			runErr = err
		}
		cancel()
	}

	if err := r.shutdown(r.cfg.Daemon.ShutdownTimeoutDuration(), apiRunning, apiErr); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// setup opens storage and builds every component from the config.
func (r *Runner) setup() error {
	store, err := storage.Open(storage.Options{
		Path:                r.cfg.Storage.DBPath,
		EncryptionKeyBase64: r.cfg.Storage.EncryptionKeyBase64,
		Logger:              r.logger,
	})
	if err != nil {
		return err
	}
	r.store = store
	r.runs = history.NewRunsStore(store)
	r.results = state.NewRunCache(100)

	if r.cfg.Alerting.Enabled {
		r.alerts, err = alerting.NewFromConfig(r.cfg.Alerting, r.logger)
		if err != nil {
			return err
		}
	}

	source := manifest.FromConfig(r.cfg.Manifest, store, r.logger)
	r.sched = scheduler.New(r.logger, audit.NewRunner(source, r.logger))
	r.sched.SetOnResult(r.record)

	for _, tc := range r.cfg.Targets {
		if err := r.sched.AddJob(scheduler.JobConfig{
			Target:     TargetFromConfig(tc),
			Schedule:   tc.Schedule,
			RunOnStart: tc.RunOnStart,
		}); err != nil {
			return err
		}
	}

	if r.cfg.Daemon.PruneSchedule != "" {
		if err := r.sched.AddTask("prune", r.cfg.Daemon.PruneSchedule, func(context.Context) { r.prune() }); err != nil {
			return err
		}
	}

	r.api = api.New(r.cfg.API, r.logger, r.sched, r.results, r.runs)
	return nil
}

// TargetFromConfig converts a configured target into an audit target.
func TargetFromConfig(tc config.TargetConfig) audit.Target {
	return audit.Target{
		Name:        tc.Name,
		Root:        tc.InstallRoot,
		Version:     tc.Version,
		Locale:      tc.Locale,
		IncludeRoot: tc.IncludeRoot,
		Exclude:     tc.Exclude,
		Timeout:     tc.TimeoutDuration(),
	}
}

// record keeps every finished run, including runs that errored.
func (r *Runner) record(run audit.Run, _ error) {
	r.results.Add(run)
	if err := r.runs.Save(run); err != nil {
		r.logger.Error("save run failed",
			logging.Field{Key: "target", Value: run.Target},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
	if r.alerts != nil {
		r.alerts.Notify(run)
	}
}

func (r *Runner) runAll(ctx context.Context) {
	for _, job := range r.sched.ListJobs() {
		go func(name string) {
			if _, err := r.sched.RunOnce(ctx, name); err != nil && !errors.Is(err, scheduler.ErrStopped) {
				r.logger.Warn("manual run failed",
					logging.Field{Key: "target", Value: name},
					logging.Field{Key: "error", Value: err.Error()},
				)
			}
		}(job.Name)
	}
}

func (r *Runner) prune() {
	retention := r.cfg.Storage.Retention()
	if retention <= 0 {
		return
	}
	removed, err := r.runs.PruneOlderThan(time.Now().Add(-retention))
	if err != nil {
		r.logger.Error("prune runs failed", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	if err := r.store.RunGC(); err != nil {
		r.logger.Warn("storage gc failed", logging.Field{Key: "error", Value: err.Error()})
	}
	r.logger.Info("pruned runs", logging.Field{Key: "removed", Value: removed})
}

func (r *Runner) handleSignals(sigCh <-chan os.Signal, cancel context.CancelFunc, hangup func()) {
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			r.logger.Info("verification of all targets requested")
			hangup()
		case syscall.SIGINT, syscall.SIGTERM:
			r.logger.Warn("shutdown signal received", logging.Field{Key: "signal", Value: sig.String()})
			cancel()
			return
		default:
			r.logger.Warn("unexpected signal received", logging.Field{Key: "signal", Value: sig.String()})
		}
	}
}

// shutdown stops the scheduler and, when it is still running, waits for the
// API server, which stops on its own once the run context is cancelled.
func (r *Runner) shutdown(timeout time.Duration, apiRunning bool, apiErr <-chan error) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r.logger.Info("shutdown starting", logging.Field{Key: "timeout", Value: timeout.String()})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("running verifications did not finish before the shutdown timeout")
	}

	var err error
	if apiRunning {
		select {
		case err = <-apiErr:
		case <-ctx.Done():
			r.logger.Warn("api server did not stop before the shutdown timeout")
		}
	}
	r.logger.Info("shutdown complete")
	return err
}

func (r *Runner) close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("close storage failed", logging.Field{Key: "error", Value: err.Error()})
		}
		r.store = nil
	}
}
