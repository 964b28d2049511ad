package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envOverrides holds settings that may be supplied through the environment.
// Environment values take precedence over the YAML file so that secrets stay
// out of config files.
type envOverrides struct {
	Endpoint string `env:"STREAMSCRIBE_ENDPOINT"`
	APIKey   string `env:"STREAMSCRIBE_API_KEY"`
	Language string `env:"STREAMSCRIBE_LANGUAGE"`
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) error {
	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	if raw.Endpoint != "" {
		cfg.Service.Endpoint = raw.Endpoint
	}
	if raw.APIKey != "" {
		cfg.Service.APIKey = raw.APIKey
	}
	if raw.Language != "" {
		cfg.Stream.LanguageCode = raw.Language
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Service.Endpoint == "" {
		errs = append(errs, errors.New("service.endpoint is required"))
	} else if u, err := url.Parse(cfg.Service.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("service.endpoint %q is not a valid URL: %w", cfg.Service.Endpoint, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("service.endpoint %q must use the ws or wss scheme", cfg.Service.Endpoint))
	}

	if cfg.Stream.LanguageCode == "" {
		errs = append(errs, errors.New("stream.language_code is required"))
	}
	if cfg.Stream.MediaEncoding != "" && !cfg.Stream.MediaEncoding.IsValid() {
		errs = append(errs, fmt.Errorf("stream.media_encoding %q is invalid; valid values: pcm, ogg-opus, flac", cfg.Stream.MediaEncoding))
	}
	if cfg.Stream.SampleRateHz != 0 && (cfg.Stream.SampleRateHz < 8000 || cfg.Stream.SampleRateHz > 48000) {
		errs = append(errs, fmt.Errorf("stream.sample_rate_hz %d is out of range [8000, 48000]", cfg.Stream.SampleRateHz))
	}

	if cfg.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts %d must not be negative", cfg.Retry.MaxAttempts))
	}
	if cfg.Retry.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.retry_delay %s must not be negative", cfg.Retry.RetryDelay.Std()))
	}

	return errors.Join(errs...)
}
