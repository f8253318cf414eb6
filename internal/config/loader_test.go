package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/tourguide/internal/tempo"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file gets defaults",
			yaml: "service:\n  name: tourguide\n",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Tempo.Mode != "fixed_interval" {
					t.Errorf("tempo.mode = %q, want fixed_interval", cfg.Tempo.Mode)
				}
				if cfg.Processor.AgentTimeoutSeconds != 2 {
					t.Errorf("agent_timeout_seconds = %v, want 2", cfg.Processor.AgentTimeoutSeconds)
				}
				if len(cfg.Workers) != 3 {
					t.Errorf("len(workers) = %d, want 3 default workers", len(cfg.Workers))
				}
				if cfg.State.Path != "./data/tours.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  log_level: debug
  log_format: text
tempo:
  mode: duration_proportional
  time_scale: 0.1
  pre_dispatch_seconds: 2
processor:
  agent_timeout_seconds: 1.5
  max_in_flight: 2
judge:
  tie_order: [history, video]
  weights:
    music:
      relevance: 1
workers:
  clips:
    enabled: true
    category: video
    latency_ms: 10
  wiki:
    enabled: true
    kind: http
    category: history
    endpoint: http://localhost:9000/history
    rate_per_second: 5
    breaker:
      threshold: 3
      reset_after: 1m
state:
  path: /tmp/tours.db
`,
			checkFn: func(t *testing.T, cfg *Config) {
				tc := cfg.TempoConfig()
				if tc.Mode != tempo.ModeDurationProportional {
					t.Errorf("mode = %q", tc.Mode)
				}
				if tc.PreDispatch != 2*time.Second {
					t.Errorf("pre_dispatch = %v", tc.PreDispatch)
				}
				if cfg.AgentTimeout() != 1500*time.Millisecond {
					t.Errorf("agent timeout = %v", cfg.AgentTimeout())
				}
				if cfg.Processor.MaxInFlight != 2 {
					t.Errorf("max_in_flight = %d", cfg.Processor.MaxInFlight)
				}
				wiki := cfg.Workers["wiki"]
				if wiki.Kind != WorkerKindHTTP || wiki.Breaker == nil || wiki.Breaker.ResetAfter != time.Minute {
					t.Errorf("wiki worker not parsed: %+v", wiki)
				}
				if cfg.Workers["clips"].Kind != WorkerKindSimulated {
					t.Error("worker kind should default to simulated")
				}
				if cfg.Judge.Weights["music"].Relevance != 1 {
					t.Error("judge weights not parsed")
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
workers:
  wiki:
    enabled: true
    kind: http
    category: history
    endpoint: ${TOURGUIDE_TEST_ENDPOINT}
    api_key: ${TOURGUIDE_TEST_KEY}
`,
			env: map[string]string{
				"TOURGUIDE_TEST_ENDPOINT": "http://wiki.local",
				"TOURGUIDE_TEST_KEY":      "secret",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Workers["wiki"].Endpoint != "http://wiki.local" {
					t.Errorf("endpoint = %q", cfg.Workers["wiki"].Endpoint)
				}
				if cfg.Workers["wiki"].APIKey != "secret" {
					t.Error("api_key not interpolated")
				}
			},
		},
		{
			name: "worker category defaults to id",
			yaml: "workers:\n  music:\n    enabled: true\n",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Workers["music"].Category != "music" {
					t.Errorf("category = %q", cfg.Workers["music"].Category)
				}
			},
		},
		{
			name:    "unknown mode",
			yaml:    "tempo:\n  mode: warp\n",
			wantErr: "unknown dispatch mode",
		},
		{
			name:    "unknown category",
			yaml:    "workers:\n  films:\n    enabled: true\n    category: films\n",
			wantErr: "workers.films.category",
		},
		{
			name:    "http worker without endpoint",
			yaml:    "workers:\n  wiki:\n    enabled: true\n    kind: http\n    category: history\n",
			wantErr: "endpoint is required",
		},
		{
			name:    "no enabled workers",
			yaml:    "workers:\n  video:\n    enabled: false\n",
			wantErr: "at least one worker",
		},
		{
			name:    "unset api key variable",
			yaml:    "api:\n  enabled: true\n  auth:\n    api_key: ${TOURGUIDE_TEST_UNSET}\n",
			wantErr: "TOURGUIDE_TEST_UNSET",
		},
		{
			name:    "api without credentials",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api.auth.api_key or api.auth.tokens",
		},
		{
			name:    "unknown token scope",
			yaml:    "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n        scopes: [plugin:rw]\n",
			wantErr: "unknown scope",
		},
		{
			name:    "bad failure rate",
			yaml:    "workers:\n  video:\n    enabled: true\n    failure_rate: 2\n",
			wantErr: "failure_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), "config.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "service:\n  name: from-dir\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Service.Name != "from-dir" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "workers"), 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, filepath.Join(dir, "workers"), "remote.yaml", `
workers:
  wiki:
    enabled: true
    kind: http
    category: history
    endpoint: http://wiki.local
`)
	writeConfig(t, dir, "api.yaml", `
include:
  - workers/remote.yaml
api:
  enabled: true
  listen: 127.0.0.1:9999
  auth:
    api_key: admin
`)
	root := writeConfig(t, dir, "config.yaml", `
include:
  - api.yaml
workers:
  video:
    enabled: true
tempo:
  junction_interval_seconds: 0.5
`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(cfg.SourceFiles) != 3 {
		t.Fatalf("SourceFiles = %v, want 3 files", cfg.SourceFiles)
	}
	if _, ok := cfg.Workers["video"]; !ok {
		t.Error("root worker lost in merge")
	}
	if _, ok := cfg.Workers["wiki"]; !ok {
		t.Error("nested include worker not merged")
	}
	if !cfg.API.Enabled || cfg.API.Listen != "127.0.0.1:9999" {
		t.Errorf("api not merged: %+v", cfg.API)
	}
	if cfg.Tempo.JunctionIntervalSeconds != 0.5 {
		t.Errorf("interval = %v", cfg.Tempo.JunctionIntervalSeconds)
	}

	files, err := DiscoverAllConfigFiles(root)
	if err != nil {
		t.Fatalf("DiscoverAllConfigFiles() failed: %v", err)
	}
	if len(files) != 3 || files[0] != cfg.SourceFiles[0] {
		t.Errorf("DiscoverAllConfigFiles() = %v", files)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "circular dependency") {
		t.Fatalf("Load() error = %v, want circular dependency", err)
	}
}

func TestLoadIncludeMissing(t *testing.T) {
	dir := t.TempDir()
	root := writeConfig(t, dir, "config.yaml", "include: [missing.yaml]\n")

	_, err := Load(root)
	if err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Fatalf("Load() error = %v, want file not found", err)
	}
}

func TestDiscoverConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "custom.yaml", "service:\n  name: x\n")

	t.Setenv(EnvConfigPath, path)
	got, err := DiscoverConfig()
	if err != nil {
		t.Fatalf("DiscoverConfig() failed: %v", err)
	}
	if got != path {
		t.Errorf("DiscoverConfig() = %q, want %q", got, path)
	}

	t.Setenv(EnvConfigPath, filepath.Join(dir, "missing.yaml"))
	if _, err := DiscoverConfig(); err == nil {
		t.Error("DiscoverConfig() should fail when the env path does not exist")
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("TOURGUIDE_TEST_CITY", "Tel Aviv")
	got := interpolateEnv("city: ${TOURGUIDE_TEST_CITY}, other: ${TOURGUIDE_TEST_NOPE}")
	want := "city: Tel Aviv, other: ${TOURGUIDE_TEST_NOPE}"
	if got != want {
		t.Errorf("interpolateEnv() = %q, want %q", got, want)
	}
}

func TestLoadWebhooks(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TOURGUIDE_TEST_HOOK_SECRET", "s3cret")
	path := writeConfig(t, dir, "config.yaml", `
state:
  path: `+filepath.Join(dir, "tours.db")+`
webhooks:
  listen: 127.0.0.1:8081
  endpoints:
    - path: /hooks/route
      secret: ${TOURGUIDE_TEST_HOOK_SECRET}
      max_body_size: 64KB
      mode: manual
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Webhooks == nil || len(cfg.Webhooks.Endpoints) != 1 {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
	if got := cfg.Webhooks.Endpoints[0].Secret; got != "s3cret" {
		t.Errorf("secret = %q, want interpolated value", got)
	}

	tier, err := ClassifyFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if tier != TierHighSecurity {
		t.Errorf("ClassifyFile() = %v, want high security", tier)
	}

	bad := []struct {
		name, body, wantErr string
	}{
		{"no listen", "webhooks:\n  endpoints:\n    - {path: /a, secret: x}\n", "webhooks.listen"},
		{"relative path", "webhooks:\n  listen: 127.0.0.1:1\n  endpoints:\n    - {path: a, secret: x}\n", "must start with /"},
		{"duplicate", "webhooks:\n  listen: 127.0.0.1:1\n  endpoints:\n    - {path: /a, secret: x}\n    - {path: /a, secret: y}\n", "duplicated"},
		{"unset secret", "webhooks:\n  listen: 127.0.0.1:1\n  endpoints:\n    - {path: /a, secret: \"${TOURGUIDE_TEST_UNSET_HOOK}\"}\n", "TOURGUIDE_TEST_UNSET_HOOK"},
		{"bad mode", "webhooks:\n  listen: 127.0.0.1:1\n  endpoints:\n    - {path: /a, secret: x, mode: warp}\n", "mode"},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(p)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Load() error = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 1 << 20, false},
		{"2048", 2048, false},
		{"256KB", 256 << 10, false},
		{"2mb", 2 << 20, false},
		{"1GB", 1 << 30, false},
		{"0", 0, true},
		{"-5KB", 0, true},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseByteSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load(config.example.yaml) failed: %v", err)
	}
	if len(cfg.Workers) != 4 {
		t.Errorf("len(workers) = %d, want 4", len(cfg.Workers))
	}
	if cfg.Workers["wiki"].Breaker == nil || cfg.Workers["wiki"].Breaker.ResetAfter != 30*time.Second {
		t.Errorf("wiki breaker = %+v", cfg.Workers["wiki"].Breaker)
	}
	if cfg.TempoConfig().Mode != tempo.ModeFixedInterval {
		t.Errorf("mode = %q", cfg.TempoConfig().Mode)
	}
}
