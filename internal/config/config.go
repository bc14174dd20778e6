package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

// EnvPrefix prefixes environment overrides; "__" separates nested keys,
// e.g. GIA_SOURCE__API_KEY sets source.api_key
const EnvPrefix = "GIA_"

// Config represents the complete application configuration
type Config struct {
	Source    SourceConfig        `yaml:"source"`
	OTP       OTPConfig           `yaml:"otp"`
	Templates TemplatesConfig     `yaml:"templates"`
	Matching  routing.MatchConfig `yaml:"matching"`
	Identity  IdentityConfig      `yaml:"identity"`
	Output    OutputConfig        `yaml:"output"`
	MQTT      MQTTConfig          `yaml:"mqtt"`
	Mirror    MirrorConfig        `yaml:"mirror"`
	Schedule  ScheduleConfig      `yaml:"schedule"`
	Retry     RetryConfig         `yaml:"retry"`
}

// SourceConfig selects where incidents come from
type SourceConfig struct {
	Type       string `yaml:"type" validate:"oneof=tomtom file"`
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"`
	BBox       string `yaml:"bbox"`
	Language   string `yaml:"language"`
	Categories string `yaml:"categories"`
	Input      string `yaml:"input"` // FeatureCollection file for type file
}

// OTPConfig holds the pattern source endpoint
type OTPConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

// TemplatesConfig locates the template configuration file
type TemplatesConfig struct {
	Path string `yaml:"path"`
}

// IdentityConfig selects how alert ids are derived
type IdentityConfig struct {
	Strategy incident.IdentityStrategy `yaml:"strategy" validate:"oneof=passthrough uuid5"`
}

// OutputConfig holds the file outputs
type OutputConfig struct {
	Path    string `yaml:"path"`
	KMLPath string `yaml:"kml_path"`
}

// MQTTConfig holds the differential publisher settings
type MQTTConfig struct {
	URI        string `yaml:"uri"`
	Expiration uint32 `yaml:"expiration"` // seconds
	ClientID   string `yaml:"client_id"`
	KeepAlive  uint16 `yaml:"keep_alive"` // seconds
}

// MirrorConfig selects the mirror store
type MirrorConfig struct {
	Driver string `yaml:"driver" validate:"oneof=file sqlite"`
	Path   string `yaml:"path"`
}

// ScheduleConfig controls periodic passes
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// RetryConfig bounds retries of the incident and pattern sources
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gte=0"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" validate:"gte=0"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Type:       "tomtom",
			Language:   "en-US",
			Categories: "0,1,2,5,6,10,11",
		},
		Templates: TemplatesConfig{
			Path: "templates.yaml",
		},
		Matching: routing.DefaultMatchConfig(),
		Identity: IdentityConfig{
			Strategy: incident.UUID5,
		},
		MQTT: MQTTConfig{
			Expiration: 600,
			KeepAlive:  30,
		},
		Mirror: MirrorConfig{
			Driver: "file",
		},
		Schedule: ScheduleConfig{
			Interval: 5 * time.Minute,
			Timeout:  2 * time.Minute,
		},
		Retry: RetryConfig{
			InitialInterval: 2 * time.Second,
			MaxInterval:     30 * time.Second,
			MaxElapsedTime:  time.Minute,
		},
	}
}

// defaults flattens DefaultConfig into koanf keys
func defaults() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"source.type":                      d.Source.Type,
		"source.language":                  d.Source.Language,
		"source.categories":                d.Source.Categories,
		"templates.path":                   d.Templates.Path,
		"matching.strategy":                string(d.Matching.Strategy),
		"matching.buffer_radius":           d.Matching.BufferRadius,
		"matching.min_intersection_length": d.Matching.MinIntersectionLength,
		"identity.strategy":                string(d.Identity.Strategy),
		"mqtt.expiration":                  d.MQTT.Expiration,
		"mqtt.keep_alive":                  d.MQTT.KeepAlive,
		"mirror.driver":                    d.Mirror.Driver,
		"schedule.interval":                d.Schedule.Interval,
		"schedule.timeout":                 d.Schedule.Timeout,
		"retry.initial_interval":           d.Retry.InitialInterval,
		"retry.max_interval":               d.Retry.MaxInterval,
		"retry.max_elapsed_time":           d.Retry.MaxElapsedTime,
	}
}

// LoadDotEnv loads environment files into the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the optional YAML file at path and
// GIA_ environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// resolveSecrets reads source.api_key from api_key_file when it is not given directly
func (c *Config) resolveSecrets() error {
	if c.Source.APIKey != "" || c.Source.APIKeyFile == "" {
		return nil
	}
	content, err := os.ReadFile(c.Source.APIKeyFile)
	if err != nil {
		return fmt.Errorf("failed to read source.api_key_file: %w", err)
	}
	c.Source.APIKey = strings.TrimSpace(string(content))
	return nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// CheckSource reports what is missing to fetch incidents
func (c *Config) CheckSource() error {
	switch c.Source.Type {
	case "tomtom":
		if c.Source.APIKey == "" {
			return errors.New("source.api_key is required for the tomtom source")
		}
		if c.Source.BBox == "" {
			return errors.New("source.bbox is required for the tomtom source")
		}
	case "file":
		if c.Source.Input == "" {
			return errors.New("source.input is required for the file source")
		}
	}
	return nil
}

// CheckMatch reports what is missing to match incidents. requireSink demands at least one
// of output.path and mqtt.uri.
func (c *Config) CheckMatch(requireSink bool) error {
	if c.OTP.URL == "" {
		return errors.New("otp.url is required")
	}
	if c.Templates.Path == "" {
		return errors.New("templates.path is required")
	}
	if requireSink && c.Output.Path == "" && c.MQTT.URI == "" {
		return errors.New("at least one of output.path and mqtt.uri is required")
	}
	return nil
}
