package alerting

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ipsix/coresum/internal/config"
	"github.com/ipsix/coresum/internal/logging"
)

func BuildChannels(cfg config.AlertingConfig, logger *logging.Logger) ([]Channel, error) {
	channels := []Channel{}
	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		switch ch.Type {
		case "log":
			channels = append(channels, NewLogChannel(logger))
		case "webhook":
			if ch.URL == "" {
				return nil, fmt.Errorf("webhook url required")
			}
			channels = append(channels, NewWebhookChannel(ch.URL, ch.Severity))
		case "syslog":
			channels = append(channels, NewSyslogChannel(ch.SyslogNetwork, ch.SyslogAddress, ch.SyslogTag, ch.Severity))
		default:
			return nil, fmt.Errorf("unknown alert channel type: %s", ch.Type)
		}
	}
	if len(channels) == 0 {
		channels = append(channels, NewLogChannel(logger))
	}
	return channels, nil
}

// NewFromConfig builds an engine with every configured channel registered.
func NewFromConfig(cfg config.AlertingConfig, logger *logging.Logger) (*Engine, error) {
	channels, err := BuildChannels(cfg, logger)
	if err != nil {
		return nil, err
	}
	engine := New(logger, cfg.DedupWindowDuration())
	for _, ch := range channels {
		engine.Register(ch)
	}
	return engine, nil
}

func severityAllowed(allow []string, sev Severity) bool {
	if len(allow) == 0 {
		return true
	}
	for _, v := range allow {
		if Severity(v) == sev {
			return true
		}
	}
	return false
}

var httpClient = &http.Client{Timeout: 10 * time.Second}
