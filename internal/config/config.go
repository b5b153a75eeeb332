package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"` // empty listens on every interface
	LogLevel    string `yaml:"log_level"`

	// Access gate
	IPSource           string `yaml:"ip_source"` // "remote_addr" or "lookup"
	IPLookupURL        string `yaml:"ip_lookup_url"`
	IPLookupTimeoutSec int    `yaml:"ip_lookup_timeout_seconds"`
	AllowedIP          string `yaml:"allowed_ip"`
	TrustForwardedFor  bool   `yaml:"trust_forwarded_for"`
	Passphrase         string `yaml:"passphrase"`
	PassphraseHash     string `yaml:"passphrase_hash"` // bcrypt; wins over passphrase
	SecureCookie       bool   `yaml:"secure_cookie"`
	SessionIdleMinutes int    `yaml:"session_idle_minutes"`
	PendingIdleMinutes int    `yaml:"pending_idle_minutes"` // sessions not yet authenticated

	// Analytics payload
	AnalyticsURL      string `yaml:"analytics_url"`
	AnalyticsAPIKey   string `yaml:"-"`
	AnalyticsSchedule string `yaml:"analytics_schedule"`
	FetchTimeoutSec   int    `yaml:"fetch_timeout_seconds"`

	// Presentation
	DisplayTZ   string `yaml:"display_tz"`
	DefaultTab  string `yaml:"default_tab"`
	CopyResetMS int    `yaml:"copy_reset_ms"`

	// Persistence; empty disables.
	SQLitePath    string `yaml:"sqlite_path"`
	KeepSnapshots int    `yaml:"keep_snapshots"`
}

var tabs = []string{"dpoc", "globex", "profile", "thinking"}

func defaults() Config {
	return Config{
		Port:               8087,
		LogLevel:           "info",
		IPSource:           "remote_addr",
		IPLookupURL:        "https://api.ipify.org?format=json",
		IPLookupTimeoutSec: 5,
		SessionIdleMinutes: 12 * 60,
		PendingIdleMinutes: 5,
		AnalyticsURL:       "http://127.0.0.1:8000/api/analytics",
		AnalyticsSchedule:  "@every 15s",
		FetchTimeoutSec:    10,
		DisplayTZ:          "America/New_York",
		DefaultTab:         "dpoc",
		CopyResetMS:        2000,
		SQLitePath:         "./data/dashboard.db",
		KeepSnapshots:      500,
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error: every setting that
// matters can come from the environment.
func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DASHBOARD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("DASHBOARD_PASSPHRASE"); v != "" {
		cfg.Passphrase = v
	}
	if v := os.Getenv("DASHBOARD_PASSPHRASE_HASH"); v != "" {
		cfg.PassphraseHash = v
	}
	if v := os.Getenv("DASHBOARD_ALLOWED_IP"); v != "" {
		cfg.AllowedIP = v
	}
	if v := os.Getenv("ANALYTICS_URL"); v != "" {
		cfg.AnalyticsURL = v
	}
	if v := os.Getenv("ANALYTICS_API_KEY"); v != "" {
		cfg.AnalyticsAPIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("invalid port")
	}
	c.BindAddress = strings.Trim(strings.TrimSpace(c.BindAddress), "[]")
	switch strings.ToLower(c.IPSource) {
	case "lookup", "remote_addr":
		c.IPSource = strings.ToLower(c.IPSource)
	default:
		return errors.New(`ip_source must be "lookup" or "remote_addr"`)
	}
	if c.IPSource == "lookup" {
		// the lookup answers with the server's own public address, which
		// identifies the visitor only when nobody else can reach the server
		if !loopbackOnly(c.BindAddress) {
			return errors.New(`ip_source "lookup" requires bind_address on loopback (127.0.0.1, ::1 or localhost)`)
		}
		if c.IPLookupURL == "" {
			return errors.New("ip_lookup_url required when ip_source is lookup")
		}
	}
	if c.Passphrase == "" && c.PassphraseHash == "" {
		return errors.New("one of passphrase or passphrase_hash is required")
	}
	if c.CopyResetMS < 1 {
		return errors.New("copy_reset_ms must be >=1")
	}
	if c.IPLookupTimeoutSec < 1 {
		c.IPLookupTimeoutSec = 5
	}
	if c.FetchTimeoutSec < 1 {
		c.FetchTimeoutSec = 10
	}
	if c.SessionIdleMinutes < 1 {
		return errors.New("session_idle_minutes must be >=1")
	}
	if c.PendingIdleMinutes < 1 || c.PendingIdleMinutes > c.SessionIdleMinutes {
		return errors.New("pending_idle_minutes must be between 1 and session_idle_minutes")
	}
	c.DefaultTab = strings.ToLower(strings.TrimSpace(c.DefaultTab))
	if !ValidTab(c.DefaultTab) {
		return fmt.Errorf("default_tab must be one of %s", strings.Join(tabs, ", "))
	}
	if _, err := time.LoadLocation(c.DisplayTZ); err != nil {
		return fmt.Errorf("display_tz: %w", err)
	}
	if c.KeepSnapshots < 1 {
		c.KeepSnapshots = 1
	}
	return nil
}

func loopbackOnly(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// ListenAddr is the address the HTTP server binds.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// ValidTab reports whether name is one of the dashboard tabs.
func ValidTab(name string) bool {
	for _, t := range tabs {
		if t == name {
			return true
		}
	}
	return false
}

// Tabs returns the dashboard tabs in display order.
func Tabs() []string {
	out := make([]string, len(tabs))
	copy(out, tabs)
	return out
}

func (c Config) IPLookupTimeout() time.Duration {
	return time.Duration(c.IPLookupTimeoutSec) * time.Second
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

func (c Config) CopyReset() time.Duration {
	return time.Duration(c.CopyResetMS) * time.Millisecond
}

func (c Config) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) PendingIdle() time.Duration {
	return time.Duration(c.PendingIdleMinutes) * time.Minute
}

// Location returns the display zone; validate already proved it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
