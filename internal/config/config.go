package config

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/robfig/cron/v3"
)

const (
	DefaultConfigPath = "configs/config.json"
	DefaultAPIURL     = "https://api.finpress.org/core/checksums/1.0/"
)

type Config struct {
	Daemon   DaemonConfig   `json:"daemon"`
	Manifest ManifestConfig `json:"manifest"`
	Storage  StorageConfig  `json:"storage"`
	Targets  []TargetConfig `json:"targets"`
	API      APIConfig      `json:"api"`
	Alerting AlertingConfig `json:"alerting"`
}

type DaemonConfig struct {
	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
	ShutdownTimeout string `json:"shutdown_timeout"`
	PruneSchedule   string `json:"prune_schedule"`
	// User and Group, when set, are the ids the daemon switches to before
	// opening storage.
	User  string `json:"user"`
	Group string `json:"group"`
	// SelfSHA256 pins the digest of the coresum binary itself.
	SelfSHA256 string `json:"self_sha256"`
}

type ManifestConfig struct {
	APIURL       string `json:"api_url"`
	Timeout      string `json:"timeout"`
	Insecure     bool   `json:"insecure"`
	UserAgent    string `json:"user_agent"`
	CacheEnabled bool   `json:"cache_enabled"`
	CacheTTL     string `json:"cache_ttl"`
}

type StorageConfig struct {
	DBPath              string `json:"db_path"`
	RetentionDays       int    `json:"retention_days"`
	EncryptionKeyBase64 string `json:"encryption_key_base64"`
}

// TargetConfig describes one install checked on a schedule.
type TargetConfig struct {
	Name        string   `json:"name"`
	InstallRoot string   `json:"install_root"`
	Schedule    string   `json:"schedule"`
	Version     string   `json:"version"`
	Locale      string   `json:"locale"`
	IncludeRoot bool     `json:"include_root"`
	Exclude     []string `json:"exclude"`
	RunOnStart  bool     `json:"run_on_start"`
	Timeout     string   `json:"timeout"`
}

type APIConfig struct {
	Enabled   bool   `json:"enabled"`
	BindAddr  string `json:"bind_addr"`
	AuthToken string `json:"auth_token"`
}

type AlertingConfig struct {
	Enabled     bool                 `json:"enabled"`
	DedupWindow string               `json:"dedup_window"`
	Channels    []AlertChannelConfig `json:"channels"`
}

type AlertChannelConfig struct {
	Type     string   `json:"type"`
	Enabled  bool     `json:"enabled"`
	Severity []string `json:"severity"`

	URL string `json:"url"`

	SyslogNetwork string `json:"syslog_network"`
	SyslogAddress string `json:"syslog_address"`
	SyslogTag     string `json:"syslog_tag"`
}

// DefaultDBPath places the database under the XDG data directory.
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, "coresum", "badger")
}

func Default() Config {
	return Config{
		Daemon: DaemonConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: "10s",
			PruneSchedule:   "@daily",
		},
		Manifest: ManifestConfig{
			APIURL:       DefaultAPIURL,
			Timeout:      "30s",
			CacheEnabled: true,
			CacheTTL:     "",
		},
		Storage: StorageConfig{
			DBPath:        DefaultDBPath(),
			RetentionDays: 30,
		},
		Targets: []TargetConfig{},
		API: APIConfig{
			Enabled:  false,
			BindAddr: "127.0.0.1:8790",
		},
		Alerting: AlertingConfig{
			Enabled:     false,
			DedupWindow: "1h",
			Channels: []AlertChannelConfig{
				{Type: "log", Enabled: true},
			},
		},
	}
}

func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults with environment
// overrides applied when path is empty.
func LoadOrDefault(path string) (Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := Default()
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Daemon.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "daemon.log_level must be one of: debug, info, warn, error")
	}

	switch strings.ToLower(c.Daemon.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "daemon.log_format must be one of: json, text")
	}

	if c.Daemon.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(c.Daemon.ShutdownTimeout); err != nil {
			errs = append(errs, "daemon.shutdown_timeout must be a valid duration (e.g. 10s)")
		}
	}
	if c.Daemon.SelfSHA256 != "" {
		if raw, err := hex.DecodeString(c.Daemon.SelfSHA256); err != nil || len(raw) != sha256.Size {
			errs = append(errs, "daemon.self_sha256 must be a hex encoded sha256 digest")
		}
	}
	if c.Daemon.PruneSchedule != "" {
		if err := ValidateSchedule(c.Daemon.PruneSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("daemon.prune_schedule: %v", err))
		}
	}

	if c.Manifest.APIURL == "" {
		errs = append(errs, "manifest.api_url is required")
	} else if u, err := url.Parse(c.Manifest.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "manifest.api_url must be an absolute http(s) URL")
	}
	if c.Manifest.Timeout != "" {
		if _, err := time.ParseDuration(c.Manifest.Timeout); err != nil {
			errs = append(errs, "manifest.timeout must be a valid duration")
		}
	}
	if c.Manifest.CacheTTL != "" {
		if _, err := time.ParseDuration(c.Manifest.CacheTTL); err != nil {
			errs = append(errs, "manifest.cache_ttl must be a valid duration")
		}
	}

	if c.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path is required")
	} else if !filepath.IsAbs(c.Storage.DBPath) {
		errs = append(errs, "storage.db_path must be an absolute path")
	}
	if c.Storage.RetentionDays < 0 {
		errs = append(errs, "storage.retention_days must be >= 0")
	}
	if c.Storage.EncryptionKeyBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(c.Storage.EncryptionKeyBase64)
		if err != nil {
			errs = append(errs, "storage.encryption_key_base64 must be valid base64")
		} else if len(decoded) != 32 {
			errs = append(errs, "storage.encryption_key_base64 must decode to 32 bytes")
		}
	}

	names := map[string]struct{}{}
	for i, tc := range c.Targets {
		if tc.Name == "" {
			errs = append(errs, fmt.Sprintf("targets[%d].name is required", i))
		} else if _, dup := names[tc.Name]; dup {
			errs = append(errs, fmt.Sprintf("targets[%d].name %q is not unique", i, tc.Name))
		}
		names[tc.Name] = struct{}{}
		if tc.InstallRoot == "" {
			errs = append(errs, fmt.Sprintf("targets[%d].install_root is required", i))
		} else if !filepath.IsAbs(tc.InstallRoot) {
			errs = append(errs, fmt.Sprintf("targets[%d].install_root must be an absolute path", i))
		}
		if tc.Schedule == "" {
			errs = append(errs, fmt.Sprintf("targets[%d].schedule is required", i))
		} else if err := ValidateSchedule(tc.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("targets[%d].schedule: %v", i, err))
		}
		if tc.Timeout != "" {
			if _, err := time.ParseDuration(tc.Timeout); err != nil {
				errs = append(errs, fmt.Sprintf("targets[%d].timeout must be a valid duration", i))
			}
		}
		for j, ex := range tc.Exclude {
			if ex == "" || strings.HasPrefix(ex, "/") {
				errs = append(errs, fmt.Sprintf("targets[%d].exclude[%d] must be a relative path", i, j))
			}
		}
	}

	if c.API.Enabled {
		if c.API.BindAddr == "" {
			errs = append(errs, "api.bind_addr is required when enabled")
		}
		if c.API.AuthToken == "" {
			errs = append(errs, "api.auth_token is required when enabled")
		}
	}

	if c.Alerting.DedupWindow != "" {
		if _, err := time.ParseDuration(c.Alerting.DedupWindow); err != nil {
			errs = append(errs, "alerting.dedup_window must be a valid duration")
		}
	}
	for i, ch := range c.Alerting.Channels {
		for _, sev := range ch.Severity {
			if sev != "warning" && sev != "critical" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d].severity entries must be warning or critical", i))
				break
			}
		}
		switch ch.Type {
		case "log", "syslog":
		case "webhook":
			if ch.Enabled && ch.URL == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d].url is required for webhook", i))
			}
		case "":
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type is required", i))
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type must be one of: log, webhook, syslog", i))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// ValidateSchedule accepts standard five field cron specs and descriptors
// such as @daily or @every 1h.
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

func (d DaemonConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(d.ShutdownTimeout, 10*time.Second)
}

func (m ManifestConfig) TimeoutDuration() time.Duration {
	return parseDuration(m.Timeout, 30*time.Second)
}

func (m ManifestConfig) CacheTTLDuration() time.Duration {
	return parseDuration(m.CacheTTL, 0)
}

func (t TargetConfig) TimeoutDuration() time.Duration {
	return parseDuration(t.Timeout, 0)
}

func (a AlertingConfig) DedupWindowDuration() time.Duration {
	return parseDuration(a.DedupWindow, 0)
}

func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

func (c Config) Redacted() Config {
	clone := c
	if clone.API.AuthToken != "" {
		clone.API.AuthToken = "REDACTED"
	}
	if clone.Storage.EncryptionKeyBase64 != "" {
		clone.Storage.EncryptionKeyBase64 = "REDACTED"
	}
	clone.Alerting.Channels = append([]AlertChannelConfig(nil), c.Alerting.Channels...)
	for i := range clone.Alerting.Channels {
		if clone.Alerting.Channels[i].URL != "" {
			clone.Alerting.Channels[i].URL = "REDACTED"
		}
	}
	return clone
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("CORESUM_API_ENABLED"); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.API.Enabled = parsed
		}
	}
	if v, ok := os.LookupEnv("CORESUM_API_TOKEN"); ok && v != "" {
		cfg.API.AuthToken = v
	}
	if v, ok := os.LookupEnv("CORESUM_MANIFEST_URL"); ok && v != "" {
		cfg.Manifest.APIURL = v
	}
	if v, ok := os.LookupEnv("CORESUM_DB_PATH"); ok && v != "" {
		cfg.Storage.DBPath = v
	}
}
