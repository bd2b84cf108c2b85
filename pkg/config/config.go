// Package config provides configuration loading for the engine and its
// binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultJobTimeout    = Duration(120 * time.Second)
	DefaultRunRetention  = Duration(30 * time.Minute)
	DefaultSweepSchedule = "*/5 * * * *"
	DefaultTopic         = "pulse.events"
)

// Duration adds YAML support for "30s"-style strings, which yaml.v3 does not
// decode into time.Duration on its own.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// Bare numbers are nanoseconds; anything else goes through
	// time.ParseDuration. The int case must come first because a YAML
	// number also decodes cleanly into a string.
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)

		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)

	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TransportConfig selects the push channel the engine consumes.
type TransportConfig struct {
	// Provider is "gochannel" for the in-process channel or "kafka".
	Provider string `yaml:"provider" validate:"omitempty,oneof=gochannel kafka"`
	Topic    string `yaml:"topic"`
}

// ReplayConfig points at the redis list holding the event history replayed
// into the store on startup or reconnect. Empty address disables replay.
type ReplayConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	Key       string `yaml:"key"`
}

// Config is the engine configuration file.
type Config struct {
	// JobTimeout resolves unmatched correlation jobs to a timeout failure.
	// Zero disables the deadline.
	JobTimeout Duration `yaml:"job_timeout"    validate:"min=0"`

	// RunRetention is how long terminal runs stay queryable before the
	// scheduled sweep discards them. Zero disables sweeping.
	RunRetention  Duration `yaml:"run_retention"  validate:"min=0"`
	SweepSchedule string   `yaml:"sweep_schedule"`

	Transport TransportConfig `yaml:"transport"`
	Replay    ReplayConfig    `yaml:"replay"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		JobTimeout:    DefaultJobTimeout,
		RunRetention:  DefaultRunRetention,
		SweepSchedule: DefaultSweepSchedule,
		Transport: TransportConfig{
			Provider: "gochannel",
			Topic:    DefaultTopic,
		},
	}
}

// Load reads and validates a YAML configuration file, filling defaults for
// omitted fields.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOrDefault loads the file when the path is non-empty, otherwise returns
// defaults.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	return Load(path)
}

func (c *Config) fillDefaults() {
	if c.Transport.Provider == "" {
		c.Transport.Provider = "gochannel"
	}

	if c.Transport.Topic == "" {
		c.Transport.Topic = DefaultTopic
	}

	if c.SweepSchedule == "" {
		c.SweepSchedule = DefaultSweepSchedule
	}

	if c.Replay.RedisAddr != "" && c.Replay.Key == "" {
		c.Replay.Key = "pulse:events"
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}
