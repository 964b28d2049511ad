package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/streamscribe/internal/config"
)

const validYAML = `
server:
  log_level: info
service:
  endpoint: wss://transcribe.example.com/stream
  api_key: secret
stream:
  language_code: en-US
  media_encoding: pcm
  sample_rate_hz: 16000
retry:
  max_attempts: 5
  retry_delay: 250ms
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Service.Endpoint != "wss://transcribe.example.com/stream" {
		t.Errorf("endpoint = %q", cfg.Service.Endpoint)
	}
	if cfg.Stream.SampleRateHz != 16000 {
		t.Errorf("sample_rate_hz = %d, want 16000", cfg.Stream.SampleRateHz)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.RetryDelay.Std() != 250*time.Millisecond {
		t.Errorf("retry_delay = %s, want 250ms", cfg.Retry.RetryDelay.Std())
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	yaml := validYAML + "\nbogus: true\n"
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_MissingEndpoint(t *testing.T) {
	yaml := `
stream:
  language_code: en-US
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing endpoint, got nil")
	}
	if !strings.Contains(err.Error(), "service.endpoint") {
		t.Errorf("error should mention service.endpoint, got: %v", err)
	}
}

func TestLoadFromReader_BadScheme(t *testing.T) {
	yaml := `
service:
  endpoint: https://transcribe.example.com
stream:
  language_code: en-US
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-websocket scheme, got nil")
	}
	if !strings.Contains(err.Error(), "ws or wss") {
		t.Errorf("error should mention ws or wss, got: %v", err)
	}
}

func TestLoadFromReader_JoinsAllErrors(t *testing.T) {
	yaml := `
server:
  log_level: loud
service:
  endpoint: wss://transcribe.example.com
stream:
  language_code: en-US
  media_encoding: mp3
  sample_rate_hz: 192000
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}
	for _, want := range []string{"server.log_level", "stream.media_encoding", "stream.sample_rate_hz"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoadFromReader_EnvOverrides(t *testing.T) {
	t.Setenv("STREAMSCRIBE_API_KEY", "from-env")
	t.Setenv("STREAMSCRIBE_LANGUAGE", "de-DE")
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Service.APIKey != "from-env" {
		t.Errorf("api_key = %q, want env override", cfg.Service.APIKey)
	}
	if cfg.Stream.LanguageCode != "de-DE" {
		t.Errorf("language_code = %q, want de-DE", cfg.Stream.LanguageCode)
	}
}

func TestLoadFromReader_NegativeRetry(t *testing.T) {
	yaml := `
service:
  endpoint: wss://transcribe.example.com
stream:
  language_code: en-US
retry:
  max_attempts: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_attempts, got nil")
	}
}
