package config

import (
	"time"

	"github.com/mattjoyce/tourguide/internal/auth"
	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/judge"
)

// Config represents the complete tourguide configuration.
type Config struct {
	Include   []string              `yaml:"include,omitempty"`
	Service   ServiceConfig         `yaml:"service"`
	Tempo     TempoConfig           `yaml:"tempo"`
	Processor ProcessorConfig       `yaml:"processor"`
	Judge     JudgeConfig           `yaml:"judge"`
	Workers   map[string]WorkerConf `yaml:"workers"`
	State     StateConfig           `yaml:"state"`
	API       APIConfig             `yaml:"api,omitempty"`
	Webhooks  *WebhooksConfig       `yaml:"webhooks,omitempty"`

	// SourceFiles lists every file that contributed to this config, root first.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// TempoConfig defines how junctions are paced.
type TempoConfig struct {
	Mode                    string  `yaml:"mode"`
	JunctionIntervalSeconds float64 `yaml:"junction_interval_seconds"`
	TimeScale               float64 `yaml:"time_scale"`
	PreDispatchSeconds      float64 `yaml:"pre_dispatch_seconds"`
}

// ProcessorConfig bounds the work done at each junction.
type ProcessorConfig struct {
	AgentTimeoutSeconds float64 `yaml:"agent_timeout_seconds"`
	// MaxInFlight caps concurrently processed junctions. Zero is unbounded.
	MaxInFlight int `yaml:"max_in_flight"`
}

// JudgeConfig is the scoring policy.
type JudgeConfig struct {
	TieOrder []string                 `yaml:"tie_order,omitempty"`
	Weights  map[string]judge.Weights `yaml:"weights,omitempty"`
	// FreshnessHorizonSeconds is the latency at which the freshness bonus reaches zero.
	FreshnessHorizonSeconds float64 `yaml:"freshness_horizon_seconds,omitempty"`
}

const (
	WorkerKindSimulated = "simulated"
	WorkerKindHTTP      = "http"
)

// WorkerConf defines a single content worker.
type WorkerConf struct {
	Enabled  bool   `yaml:"enabled"`
	Kind     string `yaml:"kind"`
	Category string `yaml:"category"`

	// http workers
	Endpoint      string         `yaml:"endpoint,omitempty"`
	APIKey        string         `yaml:"api_key,omitempty"`
	RatePerSecond float64        `yaml:"rate_per_second,omitempty"`
	Burst         int            `yaml:"burst,omitempty"`
	MaxAttempts   int            `yaml:"max_attempts,omitempty"`
	Breaker       *BreakerConfig `yaml:"breaker,omitempty"`

	// simulated workers
	LatencyMS   int     `yaml:"latency_ms,omitempty"`
	JitterMS    int     `yaml:"jitter_ms,omitempty"`
	FailureRate float64 `yaml:"failure_rate,omitempty"`
	Seed        uint64  `yaml:"seed,omitempty"`
}

// BreakerConfig defines circuit breaker behavior for an http worker.
type BreakerConfig struct {
	Threshold  uint32        `yaml:"threshold"`
	ResetAfter time.Duration `yaml:"reset_after"`
}

// StateConfig defines where finished tours are stored.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Listen             string        `yaml:"listen"`
	Auth               APIAuthConfig `yaml:"auth"`
	MaxConcurrentTours int           `yaml:"max_concurrent_tours"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the single admin bearer token. Prefer Tokens for scoped access.
	APIKey string             `yaml:"api_key"`
	Tokens []auth.TokenConfig `yaml:"tokens,omitempty"`
}

// WebhooksConfig defines the signed route-push listener.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint is one route-push path and its shared secret.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	// MaxBodySize accepts plain bytes or a KB/MB/GB suffix. Default 1MB.
	MaxBodySize string `yaml:"max_body_size,omitempty"`

	Mode                    string  `yaml:"mode,omitempty"`
	JunctionIntervalSeconds float64 `yaml:"junction_interval_seconds,omitempty"`
	TimeScale               float64 `yaml:"time_scale,omitempty"`
}

// Defaults returns a Config with sensible defaults. Three simulated workers
// cover every category so a fresh install can run a tour offline.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "tourguide",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Tempo: TempoConfig{
			Mode:                    "fixed_interval",
			JunctionIntervalSeconds: 1,
			TimeScale:               1,
		},
		Processor: ProcessorConfig{
			AgentTimeoutSeconds: 2,
		},
		Judge: JudgeConfig{
			TieOrder:                []string{"video", "music", "history"},
			FreshnessHorizonSeconds: 1,
		},
		Workers: map[string]WorkerConf{
			"video":   DefaultWorkerConf(capability.CategoryVideo),
			"music":   DefaultWorkerConf(capability.CategoryMusic),
			"history": DefaultWorkerConf(capability.CategoryHistory),
		},
		State: StateConfig{
			Path: "./data/tours.db",
		},
		API: APIConfig{
			Enabled:            false,
			Listen:             "127.0.0.1:8080",
			MaxConcurrentTours: 4,
		},
	}
}

// DefaultWorkerConf returns a simulated worker for category.
func DefaultWorkerConf(category capability.Category) WorkerConf {
	return WorkerConf{
		Enabled:   true,
		Kind:      WorkerKindSimulated,
		Category:  string(category),
		LatencyMS: 50,
		JitterMS:  50,
	}
}
