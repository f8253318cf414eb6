package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tourguide/internal/auth"
	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/judge"
	"github.com/mattjoyce/tourguide/internal/tempo"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath overrides config discovery.
const EnvConfigPath = "TOURGUIDE_CONFIG"

// Load reads and parses configuration from a file, following its include list.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourceFiles = []string{absPath}

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	if err := verifyAllConfigHashes(cfg.SourceFiles); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfig finds the config file by checking standard locations.
// Priority order: $TOURGUIDE_CONFIG, ~/.config/tourguide/config.yaml, ./config.yaml
func DiscoverConfig() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("$%s points at %s, which does not exist", EnvConfigPath, path)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "tourguide", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/tourguide/config.yaml, ./config.yaml)", EnvConfigPath)
}

// DiscoverAllConfigFiles returns the root config file and every file it
// includes, in load order, without parsing them into a Config.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(absPath); err == nil && info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}
	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourceFiles = []string{absPath}
	if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), map[string]bool{absPath: true}); err != nil {
		return nil, err
	}
	return cfg.SourceFiles, nil
}

// loadIncludes loads included files depth-first and merges them into cfg.
// Later files override earlier ones.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}

		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		cfg.SourceFiles = append(cfg.SourceFiles, absPath)
		deepMergeConfig(cfg, included)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile parses a single file after environment interpolation.
// Defaults are applied by the caller once all includes are merged.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero values.
func deepMergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}

	if src.Tempo.Mode != "" {
		dst.Tempo.Mode = src.Tempo.Mode
	}
	if src.Tempo.JunctionIntervalSeconds != 0 {
		dst.Tempo.JunctionIntervalSeconds = src.Tempo.JunctionIntervalSeconds
	}
	if src.Tempo.TimeScale != 0 {
		dst.Tempo.TimeScale = src.Tempo.TimeScale
	}
	if src.Tempo.PreDispatchSeconds != 0 {
		dst.Tempo.PreDispatchSeconds = src.Tempo.PreDispatchSeconds
	}

	if src.Processor.AgentTimeoutSeconds != 0 {
		dst.Processor.AgentTimeoutSeconds = src.Processor.AgentTimeoutSeconds
	}
	if src.Processor.MaxInFlight != 0 {
		dst.Processor.MaxInFlight = src.Processor.MaxInFlight
	}

	if len(src.Judge.TieOrder) > 0 {
		dst.Judge.TieOrder = src.Judge.TieOrder
	}
	if src.Judge.FreshnessHorizonSeconds != 0 {
		dst.Judge.FreshnessHorizonSeconds = src.Judge.FreshnessHorizonSeconds
	}
	for cat, w := range src.Judge.Weights {
		if dst.Judge.Weights == nil {
			dst.Judge.Weights = make(map[string]judge.Weights)
		}
		dst.Judge.Weights[cat] = w
	}

	// Workers are additive; a later file may redefine a worker by id.
	for id, w := range src.Workers {
		if dst.Workers == nil {
			dst.Workers = make(map[string]WorkerConf)
		}
		dst.Workers[id] = w
	}

	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.MaxConcurrentTours != 0 {
		dst.API.MaxConcurrentTours = src.API.MaxConcurrentTours
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	if len(src.API.Auth.Tokens) > 0 {
		dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)
	}

	if src.Webhooks != nil {
		if dst.Webhooks == nil {
			dst.Webhooks = &WebhooksConfig{}
		}
		if src.Webhooks.Listen != "" {
			dst.Webhooks.Listen = src.Webhooks.Listen
		}
		dst.Webhooks.Endpoints = append(dst.Webhooks.Endpoints, src.Webhooks.Endpoints...)
	}
}

// verifyAllConfigHashes checks files against the .checksums manifest in
// their directory. Directories without a manifest are not verified.
func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		manifest, err := LoadChecksums(dir)
		if errors.Is(err, ErrNoChecksums) {
			continue
		}
		if err != nil {
			return err
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expected, ok := manifest.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: tourguide config lock --config %s", basename, dir, paths[0])
			}
			if err := VerifyFileHash(path, expected); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: tourguide config lock --config %s", path, err, paths[0])
			}
		}
	}
	return nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Tempo.Mode == "" {
		cfg.Tempo.Mode = defaults.Tempo.Mode
	}
	if cfg.Tempo.JunctionIntervalSeconds == 0 {
		cfg.Tempo.JunctionIntervalSeconds = defaults.Tempo.JunctionIntervalSeconds
	}
	if cfg.Tempo.TimeScale == 0 {
		cfg.Tempo.TimeScale = defaults.Tempo.TimeScale
	}

	if cfg.Processor.AgentTimeoutSeconds == 0 {
		cfg.Processor.AgentTimeoutSeconds = defaults.Processor.AgentTimeoutSeconds
	}

	if len(cfg.Judge.TieOrder) == 0 {
		cfg.Judge.TieOrder = defaults.Judge.TieOrder
	}
	if cfg.Judge.FreshnessHorizonSeconds == 0 {
		cfg.Judge.FreshnessHorizonSeconds = defaults.Judge.FreshnessHorizonSeconds
	}

	if len(cfg.Workers) == 0 {
		cfg.Workers = defaults.Workers
	}
	for id, w := range cfg.Workers {
		if w.Kind == "" {
			w.Kind = WorkerKindSimulated
		}
		if w.Category == "" {
			w.Category = id
		}
		cfg.Workers[id] = w
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxConcurrentTours == 0 {
		cfg.API.MaxConcurrentTours = defaults.API.MaxConcurrentTours
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs semantic validation on a fully merged configuration.
func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text, got %q", cfg.Service.LogFormat)
	}

	if _, err := tempo.ParseMode(cfg.Tempo.Mode); err != nil {
		return fmt.Errorf("tempo.mode: %w", err)
	}
	if cfg.Tempo.JunctionIntervalSeconds < 0 {
		return fmt.Errorf("tempo.junction_interval_seconds must be greater than zero")
	}
	if cfg.Tempo.TimeScale < 0 {
		return fmt.Errorf("tempo.time_scale must be greater than zero")
	}
	if cfg.Tempo.PreDispatchSeconds < 0 {
		return fmt.Errorf("tempo.pre_dispatch_seconds must not be negative")
	}

	if cfg.Processor.AgentTimeoutSeconds < 0 {
		return fmt.Errorf("processor.agent_timeout_seconds must be greater than zero")
	}
	if cfg.Processor.MaxInFlight < 0 {
		return fmt.Errorf("processor.max_in_flight must not be negative")
	}

	for _, cat := range cfg.Judge.TieOrder {
		if _, err := capability.ParseCategory(cat); err != nil {
			return fmt.Errorf("judge.tie_order: %w", err)
		}
	}
	for cat := range cfg.Judge.Weights {
		if _, err := capability.ParseCategory(cat); err != nil {
			return fmt.Errorf("judge.weights: %w", err)
		}
	}

	enabled := 0
	for _, id := range sortedWorkerIDs(cfg.Workers) {
		w := cfg.Workers[id]
		if !w.Enabled {
			continue
		}
		enabled++
		if _, err := capability.ParseCategory(w.Category); err != nil {
			return fmt.Errorf("workers.%s.category: %w", id, err)
		}
		switch w.Kind {
		case WorkerKindSimulated:
			if w.FailureRate < 0 || w.FailureRate > 1 {
				return fmt.Errorf("workers.%s.failure_rate must be between 0 and 1", id)
			}
			if w.LatencyMS < 0 || w.JitterMS < 0 {
				return fmt.Errorf("workers.%s: latency_ms and jitter_ms must not be negative", id)
			}
		case WorkerKindHTTP:
			if w.Endpoint == "" {
				return fmt.Errorf("workers.%s.endpoint is required for http workers", id)
			}
			if err := checkUnresolvedEnvVar(w.APIKey, "workers."+id+".api_key"); err != nil {
				return err
			}
			if w.RatePerSecond < 0 {
				return fmt.Errorf("workers.%s.rate_per_second must not be negative", id)
			}
		default:
			return fmt.Errorf("workers.%s.kind must be %q or %q, got %q", id, WorkerKindSimulated, WorkerKindHTTP, w.Kind)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one worker must be enabled")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth.api_key or api.auth.tokens is required when api is enabled")
		}
		if err := checkUnresolvedEnvVar(cfg.API.Auth.APIKey, "api.auth.api_key"); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := checkUnresolvedEnvVar(tok.Token, fmt.Sprintf("api.auth.tokens[%d].token", i)); err != nil {
				return err
			}
			for _, scope := range tok.Scopes {
				if !auth.KnownScope(scope) {
					return fmt.Errorf("api.auth.tokens[%d]: unknown scope %q", i, scope)
				}
			}
		}
	}
	if cfg.API.MaxConcurrentTours < 0 {
		return fmt.Errorf("api.max_concurrent_tours must not be negative")
	}

	if cfg.Webhooks != nil {
		if err := validateWebhooks(cfg.Webhooks); err != nil {
			return err
		}
	}

	return nil
}

func validateWebhooks(wc *WebhooksConfig) error {
	if wc.Listen == "" {
		return fmt.Errorf("webhooks.listen is required when webhooks are configured")
	}
	seen := make(map[string]bool)
	for i, ep := range wc.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%s.path must start with /", field)
		}
		if seen[ep.Path] {
			return fmt.Errorf("%s.path %q is duplicated", field, ep.Path)
		}
		seen[ep.Path] = true
		if ep.Secret == "" {
			return fmt.Errorf("%s.secret is required", field)
		}
		if err := checkUnresolvedEnvVar(ep.Secret, field+".secret"); err != nil {
			return err
		}
		if _, err := ParseByteSize(ep.MaxBodySize); err != nil {
			return fmt.Errorf("%s.max_body_size: %w", field, err)
		}
		if ep.Mode != "" {
			if _, err := tempo.ParseMode(ep.Mode); err != nil {
				return fmt.Errorf("%s.mode: %w", field, err)
			}
		}
		if ep.JunctionIntervalSeconds < 0 || ep.TimeScale < 0 {
			return fmt.Errorf("%s: tempo overrides must not be negative", field)
		}
	}
	return nil
}

// ParseByteSize parses sizes like "1MB", "256KB" or "2048". Empty means 1MB.
func ParseByteSize(size string) (int64, error) {
	if size == "" {
		return 1 << 20, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.mult
			upper = strings.TrimSuffix(upper, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", size)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}

func checkUnresolvedEnvVar(value, field string) error {
	if m := envVarPattern.FindStringSubmatch(value); m != nil {
		return fmt.Errorf("%s references unset environment variable %s", field, m[1])
	}
	return nil
}

func sortedWorkerIDs(workers map[string]WorkerConf) []string {
	ids := make([]string, 0, len(workers))
	for id := range workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
