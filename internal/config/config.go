// Package config provides the configuration schema and loader for the
// streamscribe client.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that unmarshals from YAML strings such as
// "100ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity for the streamscribe process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// MediaEncoding names the audio codec carried on the stream.
type MediaEncoding string

const (
	EncodingPCM     MediaEncoding = "pcm"
	EncodingOggOpus MediaEncoding = "ogg-opus"
	EncodingFLAC    MediaEncoding = "flac"
)

// IsValid reports whether e is a recognised media encoding.
func (e MediaEncoding) IsValid() bool {
	switch e {
	case EncodingPCM, EncodingOggOpus, EncodingFLAC:
		return true
	}
	return false
}

// Config is the root configuration structure for streamscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Service ServiceConfig `yaml:"service"`
	Stream  StreamConfig  `yaml:"stream"`
	Retry   RetryConfig   `yaml:"retry"`
}

// ServerConfig holds logging and local endpoint settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus metrics and health
	// endpoints listen on (e.g., ":9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ServiceConfig identifies the remote transcription service.
type ServiceConfig struct {
	// Endpoint is the websocket URL of the transcription service
	// (e.g., "wss://transcribe.example.com/stream").
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the service. Usually supplied via the
	// STREAMSCRIBE_API_KEY environment variable rather than the file.
	APIKey string `yaml:"api_key"`
}

// StreamConfig describes the audio fed into a transcription session.
type StreamConfig struct {
	// LanguageCode selects the transcription language (e.g., "en-US").
	LanguageCode string `yaml:"language_code"`

	// MediaEncoding names the codec of the audio bytes.
	MediaEncoding MediaEncoding `yaml:"media_encoding"`

	// SampleRateHz is the audio sample rate. Zero means detect from the
	// WAV header of the input file.
	SampleRateHz int `yaml:"sample_rate_hz"`
}

// RetryConfig tunes the session retry loop.
type RetryConfig struct {
	// MaxAttempts is the number of retry attempts after the initial one.
	// Zero means use the client default.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the pause between a failed attempt and the next one.
	// Zero means use the client default.
	RetryDelay Duration `yaml:"retry_delay"`
}
