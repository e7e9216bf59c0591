package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models venturemill.yml.
type Config struct {
	Server struct {
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Retention struct {
		WindowHours int `yaml:"window_hours"`
	} `yaml:"retention"`
	Stages    map[string]StageConfig    `yaml:"stages"`
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
}

// StageConfig is one stage's reliability policy and weight profile. It is a
// value: stages receive a copy and nothing mutates it at runtime.
type StageConfig struct {
	MinScore       float64            `yaml:"min_score"`
	Mandatory      bool               `yaml:"mandatory"`
	TimeoutSeconds int                `yaml:"timeout_seconds"`
	MaxRetries     int                `yaml:"max_retries"`
	BackoffMS      int                `yaml:"backoff_ms"`
	BackoffFactor  float64            `yaml:"backoff_factor"`
	Weights        map[string]float64 `yaml:"weights"`
}

// Timeout returns the per-attempt stage timeout.
func (s StageConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Backoff returns the initial retry delay.
func (s StageConfig) Backoff() time.Duration {
	return time.Duration(s.BackoffMS) * time.Millisecond
}

type PipelineConfig struct {
	Description     string   `yaml:"description"`
	DeadlineMinutes float64  `yaml:"deadline_minutes"`
	Stages          []string `yaml:"stages"`
}

// Deadline returns the optional job-level deadline; zero means none.
// Fractional minutes are allowed for short-lived pipelines.
func (p PipelineConfig) Deadline() time.Duration {
	return time.Duration(p.DeadlineMinutes * float64(time.Minute))
}

// RetentionWindow returns how long terminal jobs are kept before eviction.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Retention.WindowHours) * time.Hour
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "venturemill.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// GenerateDefault returns the default config YAML for `mill config init`.
func GenerateDefault() string {
	return defaultTemplate
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Retention.WindowHours < 0 {
		return fmt.Errorf("config.retention.window_hours must be >= 0")
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("config.stages is required")
	}
	for name, st := range c.Stages {
		if st.MinScore < 0 || st.MinScore > 100 {
			return fmt.Errorf("stage %s: min_score %v outside [0,100]", name, st.MinScore)
		}
		if st.MaxRetries < 0 {
			return fmt.Errorf("stage %s: max_retries must be >= 0", name)
		}
		if len(st.Weights) == 0 {
			return fmt.Errorf("stage %s: weights are required", name)
		}
		total := 0.0
		for factor, w := range st.Weights {
			if factor == "" {
				return fmt.Errorf("stage %s has an empty factor name", name)
			}
			if w < 0 {
				return fmt.Errorf("stage %s: weight %s is negative", name, factor)
			}
			total += w
		}
		if total == 0 {
			return fmt.Errorf("stage %s: weights sum to zero", name)
		}
	}
	if len(c.Pipelines) == 0 {
		return fmt.Errorf("config.pipelines is required")
	}
	for kind, p := range c.Pipelines {
		if len(p.Stages) == 0 {
			return fmt.Errorf("pipeline %s has no stages", kind)
		}
		if p.DeadlineMinutes < 0 {
			return fmt.Errorf("pipeline %s: deadline_minutes must be >= 0", kind)
		}
		for _, s := range p.Stages {
			if _, ok := c.Stages[s]; !ok {
				return fmt.Errorf("pipeline %s references unknown stage %s", kind, s)
			}
		}
	}
	return nil
}

const defaultTemplate = `server:
  base_path: /v1

retention:
  window_hours: 168

stages:
  trend-scan:
    min_score: 60
    mandatory: true
    timeout_seconds: 60
    max_retries: 2
    backoff_ms: 500
    backoff_factor: 2
    weights:
      popularity: 30
      engagement: 25
      market_size: 20
      category: 15
      novelty: 10

  idea-generation:
    min_score: 70
    mandatory: true
    timeout_seconds: 120
    max_retries: 2
    backoff_ms: 500
    backoff_factor: 2
    weights:
      revenue_potential: 30
      feasibility: 25
      competition: 20
      market_size: 15
      trend_strength: 10

  mvp-build:
    min_score: 50
    mandatory: true
    timeout_seconds: 600
    max_retries: 1
    backoff_ms: 2000
    backoff_factor: 2
    weights:
      deployed: 40
      tests_passed: 35
      scaffold: 25

  marketing:
    min_score: 40
    mandatory: false
    timeout_seconds: 300
    max_retries: 2
    backoff_ms: 1000
    backoff_factor: 2
    weights:
      channel_coverage: 35
      budget_fit: 25
      content_volume: 25
      seo_readiness: 15

  sales:
    min_score: 40
    mandatory: false
    timeout_seconds: 300
    max_retries: 2
    backoff_ms: 1000
    backoff_factor: 2
    weights:
      engagement: 30
      company_size: 20
      role: 20
      industry: 15
      budget_indicator: 15

pipelines:
  trend-scan:
    description: Discover and score market trends
    stages: [trend-scan]

  idea-generation:
    description: Generate and prioritize business ideas
    stages: [trend-scan, idea-generation]

  mvp-build:
    description: Build and deploy an MVP for the top idea
    stages: [trend-scan, idea-generation, mvp-build]

  marketing:
    description: Plan a launch campaign for a deployed MVP
    stages: [trend-scan, idea-generation, mvp-build, marketing]

  sales:
    description: Capture and score leads for a launched product
    stages: [trend-scan, idea-generation, mvp-build, marketing, sales]

  full-pipeline:
    description: Trends to ideas to MVP to marketing to sales
    deadline_minutes: 60
    stages: [trend-scan, idea-generation, mvp-build, marketing, sales]
`
