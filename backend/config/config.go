// Package config holds the validated settings object the core receives at
// startup. The file is YAML under the user config dir; everything has a
// default so a missing file is a working configuration with the no-op
// backend.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "10m" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type BackendKind string

const (
	BackendAnthropic BackendKind = "anthropic"
	BackendDeepSeek  BackendKind = "deepseek"
	BackendLocal     BackendKind = "local"
	BackendNoop      BackendKind = "noop"
)

type Settings struct {
	// DataDir overrides the default event/summary log location
	// (xdg data dir when empty).
	DataDir string `yaml:"data_dir,omitempty"`

	Detector  DetectorSettings  `yaml:"detector"`
	Backend   BackendSettings   `yaml:"backend"`
	Retry     RetrySettings     `yaml:"retry"`
	Digest    DigestSettings    `yaml:"digest"`
	Providers ProviderSettings  `yaml:"context_providers"`
	EventLog  EventLogSettings  `yaml:"event_log"`
}

type DetectorSettings struct {
	// SafetyTimeout closes an Open task that saw no boundary event, so
	// long-running work is checkpointed instead of silently accumulating.
	SafetyTimeout Duration `yaml:"safety_timeout"`
	// TickInterval is how often all Open keys are re-evaluated.
	TickInterval Duration `yaml:"tick_interval"`
}

type BackendSettings struct {
	Kind  BackendKind `yaml:"kind"`
	Model string      `yaml:"model,omitempty"`
	// APIKeyEnv names the environment variable holding the API key; the key
	// itself never lives in the config file.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	// BaseURL points the local backend at an OpenAI-compatible server, or
	// overrides a cloud endpoint.
	BaseURL        string   `yaml:"base_url,omitempty"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

type RetrySettings struct {
	MaxAttempts       uint     `yaml:"max_attempts"`
	InitialDelay      Duration `yaml:"initial_delay"`
	MaxDelay          Duration `yaml:"max_delay"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
}

type DigestSettings struct {
	MaxEvents int `yaml:"max_events"`
	MaxBytes  int `yaml:"max_bytes"`

	CrossPane CrossPaneSettings `yaml:"cross_pane"`
}

// CrossPaneSettings tunes the heuristic linking activity in sibling panes
// (edit in one pane, test in another) at digest-build time. The detector
// never merges keys; this only enriches context.
type CrossPaneSettings struct {
	Enabled bool     `yaml:"enabled"`
	Window  Duration `yaml:"window"`
}

type ProviderSettings struct {
	Git          bool     `yaml:"git"`
	Workspace    bool     `yaml:"workspace"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
}

type EventLogSettings struct {
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

func Default() *Settings {
	return &Settings{
		Detector: DetectorSettings{
			SafetyTimeout: Duration(10 * time.Minute),
			TickInterval:  Duration(30 * time.Second),
		},
		Backend: BackendSettings{
			Kind:           BackendNoop,
			RequestTimeout: Duration(60 * time.Second),
		},
		Retry: RetrySettings{
			MaxAttempts:       3,
			InitialDelay:      1 * Duration(time.Second),
			MaxDelay:          30 * Duration(time.Second),
			BackoffMultiplier: 2,
		},
		Digest: DigestSettings{
			MaxEvents: 200,
			MaxBytes:  16 << 10,
			CrossPane: CrossPaneSettings{
				Enabled: true,
				Window:  Duration(2 * time.Minute),
			},
		},
		Providers: ProviderSettings{
			Git:          true,
			Workspace:    true,
			FetchTimeout: Duration(5 * time.Second),
		},
		EventLog: EventLogSettings{
			MaxSegmentSize: 64 << 20,
		},
	}
}

func (s *Settings) Validate() error {
	if s.Detector.SafetyTimeout <= 0 {
		return fmt.Errorf("detector.safety_timeout must be positive")
	}
	if s.Detector.TickInterval <= 0 {
		return fmt.Errorf("detector.tick_interval must be positive")
	}
	if s.Detector.TickInterval.Std() > s.Detector.SafetyTimeout.Std() {
		return fmt.Errorf("detector.tick_interval must not exceed detector.safety_timeout")
	}

	switch s.Backend.Kind {
	case BackendNoop:
	case BackendAnthropic, BackendDeepSeek:
		if s.Backend.APIKeyEnv == "" {
			return fmt.Errorf("backend.api_key_env is required for %s", s.Backend.Kind)
		}
		if s.Backend.Model == "" {
			return fmt.Errorf("backend.model is required for %s", s.Backend.Kind)
		}
	case BackendLocal:
		if s.Backend.BaseURL == "" {
			return fmt.Errorf("backend.base_url is required for local")
		}
		if s.Backend.Model == "" {
			return fmt.Errorf("backend.model is required for local")
		}
	default:
		return fmt.Errorf("unknown backend kind %q", s.Backend.Kind)
	}

	if s.Retry.MaxAttempts == 0 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if s.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1")
	}
	if s.Digest.MaxEvents <= 0 || s.Digest.MaxBytes <= 0 {
		return fmt.Errorf("digest limits must be positive")
	}
	if s.Digest.CrossPane.Enabled && s.Digest.CrossPane.Window <= 0 {
		return fmt.Errorf("digest.cross_pane.window must be positive when enabled")
	}
	if s.EventLog.MaxSegmentSize <= 0 {
		return fmt.Errorf("event_log.max_segment_size must be positive")
	}
	return nil
}
