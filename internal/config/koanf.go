package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g.
// EDUPOLL_PORTAL_BASE_URL for portal.base_url.
const EnvPrefix = "EDUPOLL_"

// PathEnvVar overrides the config file location.
const PathEnvVar = "EDUPOLL_CONFIG"

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{
	"edupoll.yaml",
	"edupoll.yml",
	"/etc/edupoll/config.yaml",
}

var sliceFields = []string{
	"portal.warmup_pages",
}

// Load builds the configuration. An empty path searches PathEnvVar and
// DefaultPaths; a missing file there is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}
	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	normalise(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps EDUPOLL_PORTAL_BASE_URL to portal.base_url. Only the first
// underscore after the prefix separates the section.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "config" {
		return ""
	}
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + rest
}

// splitSlices turns comma-separated environment values into lists.
func splitSlices(k *koanf.Koanf) error {
	for _, path := range sliceFields {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("config: set %s: %w", path, err)
		}
	}
	return nil
}

func normalise(c *Config) {
	c.Portal.BaseURL = strings.TrimRight(strings.TrimSpace(c.Portal.BaseURL), "/")
	c.Portal.RPCEncoding = strings.ToLower(strings.TrimSpace(c.Portal.RPCEncoding))
	c.Portal.SessionToken = strings.TrimSpace(c.Portal.SessionToken)
	c.Target.ID = strings.TrimSpace(c.Target.ID)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}
