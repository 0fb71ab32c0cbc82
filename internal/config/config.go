// Package config loads the serve command's configuration from defaults, a
// YAML file, STAMPSYNC_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. STAMPSYNC_HTTP_ADDR.
const EnvPrefix = "STAMPSYNC"

// Config holds the serve configuration.
type Config struct {
	DB              string        `mapstructure:"db"`
	SpecsDir        string        `mapstructure:"specs_dir"`
	Topology        string        `mapstructure:"topology"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	HTTP            HTTPConfig    `mapstructure:"http"`
	NATS            NATSConfig    `mapstructure:"nats"`
	Reorder         ReorderConfig `mapstructure:"reorder"`
	Log             LogConfig     `mapstructure:"log"`
}

// HTTPConfig configures the HTTP API. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// NATSConfig configures the NATS transport. Without a URL and without
// Embedded the transport is disabled.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Embedded      bool   `mapstructure:"embedded"`
	EmbeddedHost  string `mapstructure:"embedded_host"`
	EmbeddedPort  int    `mapstructure:"embedded_port"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	MatchSubject  string `mapstructure:"match_subject"`
	DropSubject   string `mapstructure:"drop_subject"`
}

// Enabled reports whether the NATS transport should run.
func (n NATSConfig) Enabled() bool {
	return n.URL != "" || n.Embedded
}

// ReorderConfig overrides the topology's reorder window. A negative Window
// keeps the topology's own value.
type ReorderConfig struct {
	Window int64 `mapstructure:"window"`
}

// LogConfig sets the slog level: debug, info, warn or error.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"db":             "db",
	"specs-dir":      "specs_dir",
	"topology":       "topology",
	"http-addr":      "http.addr",
	"nats-url":       "nats.url",
	"embedded-nats":  "nats.embedded",
	"reorder-window": "reorder.window",
	"log-level":      "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db", "stampsync.db")
	v.SetDefault("specs_dir", "specs")
	v.SetDefault("topology", "")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.embedded", false)
	v.SetDefault("nats.embedded_host", "127.0.0.1")
	v.SetDefault("nats.embedded_port", 4222)
	v.SetDefault("nats.subject_prefix", "stampsync.samples")
	v.SetDefault("nats.match_subject", "stampsync.matches")
	v.SetDefault("nats.drop_subject", "")
	v.SetDefault("reorder.window", -1)
	v.SetDefault("log.level", "info")
}

// Load reads the configuration. path names a YAML file; when empty,
// stampsync.yaml is looked up in the working directory and /etc/stampsync
// and may be absent. flags may be nil; only flags listed in flagKeys and
// explicitly set override other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stampsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/stampsync/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		slog.Debug("no config file found, using defaults and flags")
	} else {
		slog.Debug("using config file", "path", v.ConfigFileUsed())
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, errors.New("db is required"))
	}
	if c.SpecsDir == "" {
		errs = append(errs, errors.New("specs_dir is required"))
	}
	if c.Topology == "" {
		errs = append(errs, errors.New("topology is required"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.NATS.Enabled() {
		if c.NATS.SubjectPrefix == "" {
			errs = append(errs, errors.New("nats.subject_prefix is required when nats is enabled"))
		}
		if c.NATS.MatchSubject == "" {
			errs = append(errs, errors.New("nats.match_subject is required when nats is enabled"))
		}
	}
	return errors.Join(errs...)
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log.level %q: must be debug, info, warn or error", name)
	}
	return level, nil
}
