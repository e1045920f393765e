package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the fleetvisor service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sources   SourcesConfig   `yaml:"sources"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Detector  DetectorConfig  `yaml:"detector"`
	Playbooks PlaybooksConfig `yaml:"playbooks"`
	Notify    NotifyConfig    `yaml:"notify"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// SourcesConfig groups the evidence backends.
type SourcesConfig struct {
	Victoria VictoriaConfig `yaml:"victoria"`
	Loki     LokiConfig     `yaml:"loki"`
	Kube     KubeConfig     `yaml:"kube"`
}

// VictoriaConfig configures the metrics backend (Prometheus-compatible API).
type VictoriaConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// LokiConfig configures the log backend.
type LokiConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
	Limit   int           `yaml:"limit"`
}

// KubeConfig configures cluster access for workload evidence.
type KubeConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Kubeconfig string        `yaml:"kubeconfig"`
	Namespace  string        `yaml:"namespace"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ReasoningConfig selects and configures the reasoning provider.
// Provider is one of "openai", "ollama" or "none".
type ReasoningConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"baseURL"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DetectorConfig tunes anomaly-to-event promotion.
type DetectorConfig struct {
	AutoTrigger string        `yaml:"autoTrigger"`
	Interval    time.Duration `yaml:"interval"`
}

// PlaybooksConfig controls playbook pack loading.
type PlaybooksConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Channel    string        `yaml:"channel"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching of analysis results.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	AnalysisTTL  time.Duration `yaml:"analysisTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FLEETVISOR_CONFIG")
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

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Reasoning.Provider {
	case "openai", "ollama", "none", "":
	default:
		return fmt.Errorf("unknown reasoning provider %q", c.Reasoning.Provider)
	}
	switch c.Detector.AutoTrigger {
	case "critical", "high":
	default:
		return fmt.Errorf("detector.autoTrigger must be critical or high, got %q", c.Detector.AutoTrigger)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8000",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Sources: SourcesConfig{
			Victoria: VictoriaConfig{
				BaseURL: "http://localhost:8428",
				Timeout: 5 * time.Second,
			},
			Loki: LokiConfig{
				BaseURL: "http://localhost:3100",
				Timeout: 5 * time.Second,
				Limit:   100,
			},
			Kube: KubeConfig{Namespace: "default", Timeout: 10 * time.Second},
		},
		Reasoning: ReasoningConfig{
			Provider: "none",
			Model:    "gpt-4o-mini",
			Timeout:  30 * time.Second,
		},
		Detector: DetectorConfig{
			AutoTrigger: "critical",
			Interval:    30 * time.Second,
		},
		Playbooks: PlaybooksConfig{Path: ""},
		Notify:    NotifyConfig{Timeout: 5 * time.Second},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			AnalysisTTL:  15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEETVISOR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("FLEETVISOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("FLEETVISOR_VICTORIA_URL"); v != "" {
		cfg.Sources.Victoria.BaseURL = v
	}
	if v := os.Getenv("FLEETVISOR_LOKI_URL"); v != "" {
		cfg.Sources.Loki.BaseURL = v
	}
	if v := os.Getenv("FLEETVISOR_KUBECONFIG"); v != "" {
		cfg.Sources.Kube.Kubeconfig = v
		cfg.Sources.Kube.Enabled = true
	}
	if v := os.Getenv("FLEETVISOR_REASONING_PROVIDER"); v != "" {
		cfg.Reasoning.Provider = v
	}
	if v := os.Getenv("FLEETVISOR_REASONING_MODEL"); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := os.Getenv("FLEETVISOR_REASONING_BASE_URL"); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Reasoning.APIKey == "" {
		cfg.Reasoning.APIKey = v
	}
	if v := os.Getenv("FLEETVISOR_AUTO_TRIGGER"); v != "" {
		cfg.Detector.AutoTrigger = v
	}
	if v := os.Getenv("FLEETVISOR_ANALYSIS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detector.Interval = d
		}
	}
	if v := os.Getenv("FLEETVISOR_PLAYBOOKS_PATH"); v != "" {
		cfg.Playbooks.Path = v
	}
	if v := os.Getenv("FLEETVISOR_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("FLEETVISOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLEETVISOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("FLEETVISOR_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("FLEETVISOR_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("FLEETVISOR_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("FLEETVISOR_CACHE_ANALYSIS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.AnalysisTTL = d
		}
	}
}
