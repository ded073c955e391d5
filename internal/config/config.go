// Package config loads edupoll settings from defaults, an optional YAML file
// and EDUPOLL_ environment variables, in that order of precedence.
package config

import (
	"time"

	"github.com/edupoll/edupoll/pkg/portal"
)

// Config is the complete daemon configuration.
type Config struct {
	Portal  PortalConfig  `koanf:"portal"`
	Sync    SyncConfig    `koanf:"sync"`
	Target  TargetConfig  `koanf:"target"`
	State   StateConfig   `koanf:"state"`
	RPC     RPCConfig     `koanf:"rpc"`
	Logging LoggingConfig `koanf:"logging"`
	Vault   VaultConfig   `koanf:"vault"`
}

// PortalConfig describes the school portal and how to talk to it.
type PortalConfig struct {
	BaseURL           string        `koanf:"base_url" validate:"omitempty,url"`
	Username          string        `koanf:"username"`
	Password          string        `koanf:"password"`
	RPCEncoding       string        `koanf:"rpc_encoding" validate:"oneof=envelope form json"`
	Compress          bool          `koanf:"compress"`
	Timeout           time.Duration `koanf:"timeout" validate:"gte=20s,lte=25s"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0,lte=10"`
	RequiredCookie    string        `koanf:"required_cookie" validate:"required"`
	WarmupPages       []string      `koanf:"warmup_pages" validate:"min=1,dive,startswith=/"`
	TokenPage         string        `koanf:"token_page" validate:"startswith=/"`
	SessionToken      string        `koanf:"session_token" validate:"omitempty,hexadecimal"`
	TokenScript       string        `koanf:"token_script"`
	CookiesFrom       string        `koanf:"cookies_from"`
}

// SyncConfig controls the cycle schedule and the lesson model.
type SyncConfig struct {
	IntervalMinutes int    `koanf:"interval_minutes" validate:"gte=5"`
	Cron            string `koanf:"cron"`
	MaxLessons      int    `koanf:"max_lessons" validate:"gte=1,lte=32"`
	WeekView        bool   `koanf:"week_view"`
}

// Interval returns the sync interval.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// TargetConfig selects whose timetable is fetched.
type TargetConfig struct {
	Table string `koanf:"table" validate:"oneof=students classes teachers"`
	ID    string `koanf:"id"`
}

// StateConfig selects the state backend. An empty path keeps state in
// memory.
type StateConfig struct {
	Path string `koanf:"path"`
}

// RPCConfig configures the status endpoint. An empty listen address
// disables it.
type RPCConfig struct {
	Listen string `koanf:"listen" validate:"omitempty,hostname_port"`
	Secret string `koanf:"secret"`
}

// LoggingConfig selects the logger backend.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warning warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// VaultConfig locates the encrypted credentials file.
type VaultConfig struct {
	Dir string `koanf:"dir"`
}

// Default returns the built-in settings. The daemon falls back to them when
// loading fails so the status endpoint still comes up.
func Default() *Config { return defaultConfig() }

func defaultConfig() *Config {
	return &Config{
		Portal: PortalConfig{
			RPCEncoding:       string(portal.EncodingForm),
			Timeout:           portal.DefaultTimeout,
			RequestsPerSecond: 2,
			RequiredCookie:    portal.DefaultRequiredCookie,
			WarmupPages:       append([]string(nil), portal.DefaultWarmUpPages...),
			TokenPage:         portal.DefaultTokenPage,
		},
		Sync: SyncConfig{
			IntervalMinutes: 15,
			MaxLessons:      12,
		},
		Target: TargetConfig{
			Table: "students",
		},
		RPC: RPCConfig{
			Listen: "127.0.0.1:8377",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Ready reports the settings without which no cycle can run: the portal
// origin and the credentials.
func (c *Config) Ready() error {
	switch {
	case c.Portal.BaseURL == "":
		return &portal.ConfigError{Field: "portal.base_url", Message: "missing portal URL (e.g. https://myschool.edupage.org)"}
	case c.Portal.Username == "":
		return &portal.ConfigError{Field: "portal.username", Message: "missing username"}
	case c.Portal.Password == "":
		return &portal.ConfigError{Field: "portal.password", Message: "missing password (set it in the config, EDUPOLL_PORTAL_PASSWORD or `edupoll credentials set`)"}
	}
	return nil
}
