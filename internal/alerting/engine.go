// Package alerting notifies operators about installs that fail verification.
package alerting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ipsix/coresum/internal/audit"
	"github.com/ipsix/coresum/internal/logging"
	"github.com/ipsix/coresum/internal/verify"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID            string               `json:"id"`
	Timestamp     time.Time            `json:"timestamp"`
	Severity      Severity             `json:"severity"`
	Target        string               `json:"target"`
	RunID         string               `json:"run_id"`
	Version       string               `json:"version,omitempty"`
	Locale        string               `json:"locale,omitempty"`
	Reason        string               `json:"reason"`
	Discrepancies []verify.Discrepancy `json:"discrepancies,omitempty"`
}

// FromRun builds the alert for a run. Runs that passed produce no alert.
// A run that could not finish is a warning; tampered or missing core files
// are critical.
func FromRun(run audit.Run) (Alert, bool) {
	alert := Alert{
		Timestamp: run.FinishedAt,
		Target:    run.Target,
		RunID:     run.ID,
		Version:   run.Version,
		Locale:    run.Locale,
	}
	switch {
	case run.Error != "":
		alert.Severity = SeverityWarning
		alert.Reason = "verification could not complete: " + run.Error
	case !run.Passed:
		failures := run.Result.Failures()
		alert.Severity = SeverityCritical
		alert.Reason = fmt.Sprintf("%d core files don't verify against checksums", len(failures))
		alert.Discrepancies = failures
	default:
		return Alert{}, false
	}
	return alert, true
}

type Channel interface {
	Name() string
	Send(alert Alert) error
}

type Engine struct {
	logger   *logging.Logger
	channels []Channel
	throttle time.Duration
	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

// New returns an engine that suppresses repeats of the same alert within
// throttle. Zero means five minutes.
func New(logger *logging.Logger, throttle time.Duration) *Engine {
	if throttle <= 0 {
		throttle = 5 * time.Minute
	}
	return &Engine{
		logger:   logger,
		throttle: throttle,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (e *Engine) Register(channel Channel) {
	e.channels = append(e.channels, channel)
}

// Send delivers alert to every channel and reports whether it was sent.
func (e *Engine) Send(alert Alert) bool {
	if alert.ID == "" {
		alert.ID = fingerprint(alert)
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = e.now().UTC()
	}

	if e.isThrottled(alert.ID) {
		e.logger.Warn("alert throttled",
			logging.Field{Key: "alert_id", Value: alert.ID},
			logging.Field{Key: "target", Value: alert.Target},
		)
		return false
	}

	for _, ch := range e.channels {
		if err := ch.Send(alert); err != nil {
			e.logger.Error("alert delivery failed",
				logging.Field{Key: "channel", Value: ch.Name()},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}
	return true
}

// Notify sends the alert for run, if it needs one.
func (e *Engine) Notify(run audit.Run) {
	if alert, ok := FromRun(run); ok {
		e.Send(alert)
	}
}

func (e *Engine) isThrottled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	last, ok := e.lastSeen[id]
	if ok && now.Sub(last) < e.throttle {
		return true
	}
	e.lastSeen[id] = now
	return false
}

// fingerprint identifies an alert by what is wrong, so an unchanged failure
// seen on consecutive runs is deduplicated.
func fingerprint(alert Alert) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", alert.Target, alert.Severity, alert.Version, alert.Reason)
	for _, d := range alert.Discrepancies {
		fmt.Fprintf(h, "|%s:%s", d.Kind, d.Path)
	}
	return hex.EncodeToString(h.Sum(nil))
}
