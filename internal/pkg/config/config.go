// Package config loads the gateway's own settings: listener, profile
// location, upstream limits, journal, telemetry and logging. Provider
// profiles themselves live in the profile JSON document, not here.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Levels are separated by a
// double underscore: MODEL_SWITCH_SERVER__PORT=4100.
const EnvPrefix = "MODEL_SWITCH_"

const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 4000
	DefaultMaxBodyBytes = 50 << 20
	settingsFileName    = "model-switch.yaml"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Profiles  ProfilesConfig  `koanf:"profiles"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Journal   JournalConfig   `koanf:"journal"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type ProfilesConfig struct {
	Path string `koanf:"path"`
	// Watch reloads on file changes in addition to SIGHUP.
	Watch bool `koanf:"watch"`
}

type UpstreamConfig struct {
	// Timeout bounds each proxied request. Zero leaves requests unbounded.
	Timeout      time.Duration `koanf:"timeout"`
	MaxBodyBytes int64         `koanf:"max_body_bytes"`
}

type JournalConfig struct {
	Path string `koanf:"path"` // empty disables the journal
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// DefaultPath returns ~/.claude/model-switch.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude", settingsFileName), nil
}

// Load reads settings from path, then MODEL_SWITCH_* environment variables.
// An empty path means the default location, which may be absent; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load settings from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load settings from environment: %w", err)
	}

	setDefault(k, "server.host", DefaultHost)
	setDefault(k, "server.port", DefaultPort)
	setDefault(k, "profiles.watch", false)
	setDefault(k, "upstream.max_body_bytes", DefaultMaxBodyBytes)
	setDefault(k, "telemetry.enabled", false)
	setDefault(k, "log.level", "info")
	setDefault(k, "log.format", "json")

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	cfg.Profiles.Path = expandPath(cfg.Profiles.Path)
	cfg.Journal.Path = expandPath(cfg.Journal.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the gateway cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Upstream.Timeout < 0 {
		errs = append(errs, fmt.Errorf("upstream.timeout must not be negative"))
	}
	if c.Upstream.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("upstream.max_body_bytes must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or text", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	return errors.Join(errs...)
}

func setDefault(k *koanf.Koanf, key string, value any) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}

// expandPath substitutes ${VAR} references and a leading ~/.
func expandPath(p string) string {
	p = substituteEnvVars(p)
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return p
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
