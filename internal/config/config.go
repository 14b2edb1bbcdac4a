package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

// Config captures every setting required to boot streamwatch.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Synthetic  SyntheticConfig  `yaml:"synthetic"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Store      StoreConfig      `yaml:"store"`
	Rules      RulesConfig      `yaml:"rules"`
	Cache      CacheConfig      `yaml:"cache"`
}

// ServerConfig controls the gRPC health listener and the ops HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// CatalogConfig points at optional envelope overrides.
type CatalogConfig struct {
	OverridesPath string `yaml:"overridesPath"`
}

// MonitorConfig drives the polling loop.
type MonitorConfig struct {
	Source          string        `yaml:"source"`
	Interval        time.Duration `yaml:"interval"`
	ResolveEvery    int           `yaml:"resolveEvery"`
	PatternEvery    int           `yaml:"patternEvery"`
	PatternWindow   time.Duration `yaml:"patternWindow"`
	PatternLookback time.Duration `yaml:"patternLookback"`
	WarningTTL      time.Duration `yaml:"warningTTL"`
	CriticalTTL     time.Duration `yaml:"criticalTTL"`
	RetryInitial    time.Duration `yaml:"retryInitial"`
	RetryMaxElapsed time.Duration `yaml:"retryMaxElapsed"`
}

// SyntheticConfig configures the built-in metrics synthesizer.
type SyntheticConfig struct {
	AnomalyProbability  float64 `yaml:"anomalyProbability"`
	Scenario            string  `yaml:"scenario"`
	MetricsPerComponent int     `yaml:"metricsPerComponent"`
	Environment         string  `yaml:"environment"`
	Cluster             string  `yaml:"cluster"`
	ValueSeed           uint64  `yaml:"valueSeed"`
	ScenarioSeed        uint64  `yaml:"scenarioSeed"`
}

// PrometheusConfig configures the real telemetry feed.
type PrometheusConfig struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects the SQL backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RulesConfig controls rule-pack loading for pattern recommendations.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Redis-backed caching of trend results.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	TrendTTL     time.Duration `yaml:"trendTTL"`
}

const (
	SourceSynthetic  = "synthetic"
	SourcePrometheus = "prometheus"
)

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("STREAMWATCH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false, MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 7},
		Monitor: MonitorConfig{
			Source:          SourceSynthetic,
			Interval:        10 * time.Second,
			ResolveEvery:    6,
			PatternEvery:    6,
			PatternWindow:   5 * time.Minute,
			PatternLookback: 15 * time.Minute,
			WarningTTL:      5 * time.Minute,
			CriticalTTL:     10 * time.Minute,
			RetryInitial:    200 * time.Millisecond,
			RetryMaxElapsed: 5 * time.Second,
		},
		Synthetic: SyntheticConfig{
			AnomalyProbability: 0.15,
			Environment:        "production",
			Cluster:            "main-cluster",
		},
		Prometheus: PrometheusConfig{Address: "http://localhost:9090", Timeout: 5 * time.Second},
		Store:      StoreConfig{Driver: "sqlite", DSN: "streamwatch.db"},
		Rules:      RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			TrendTTL:     time.Minute,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

// Validate rejects settings the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Monitor.Source {
	case SourceSynthetic, SourcePrometheus:
	default:
		return fmt.Errorf("monitor.source must be %q or %q, got %q", SourceSynthetic, SourcePrometheus, c.Monitor.Source)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if p := c.Synthetic.AnomalyProbability; p < 0 || p > 1 {
		return fmt.Errorf("synthetic.anomalyProbability must be within [0, 1], got %v", p)
	}
	if c.Synthetic.Scenario != "" && !knownScenario(models.ScenarioType(c.Synthetic.Scenario)) {
		return fmt.Errorf("synthetic.scenario %q is not a known scenario", c.Synthetic.Scenario)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Monitor.Source == SourcePrometheus && c.Prometheus.Address == "" {
		return fmt.Errorf("prometheus.address is required when monitor.source is prometheus")
	}
	return nil
}

func knownScenario(s models.ScenarioType) bool {
	for _, known := range models.ScenarioTypes() {
		if s == known {
			return true
		}
	}
	return false
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STREAMWATCH_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("STREAMWATCH_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("STREAMWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STREAMWATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("STREAMWATCH_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("STREAMWATCH_CATALOG_OVERRIDES"); v != "" {
		cfg.Catalog.OverridesPath = v
	}
	if v := os.Getenv("STREAMWATCH_SOURCE"); v != "" {
		cfg.Monitor.Source = strings.ToLower(v)
	}
	if v := os.Getenv("STREAMWATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
	if v := os.Getenv("STREAMWATCH_ANOMALY_PROBABILITY"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Synthetic.AnomalyProbability = p
		}
	}
	if v := os.Getenv("STREAMWATCH_PROMETHEUS_ADDRESS"); v != "" {
		cfg.Prometheus.Address = v
	}
	if v := os.Getenv("STREAMWATCH_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("STREAMWATCH_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("STREAMWATCH_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("STREAMWATCH_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("STREAMWATCH_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("STREAMWATCH_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("STREAMWATCH_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("STREAMWATCH_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("STREAMWATCH_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("STREAMWATCH_CACHE_TREND_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TrendTTL = d
		}
	}
}
