package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"venturemill/internal/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, kind := range []string{"trend-scan", "idea-generation", "mvp-build", "marketing", "sales", "full-pipeline"} {
		if _, ok := cfg.Pipelines[kind]; !ok {
			t.Fatalf("default config missing pipeline %s", kind)
		}
	}
	if cfg.Pipelines["full-pipeline"].Deadline() <= 0 {
		t.Fatalf("full-pipeline has no deadline")
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load empty workspace: %v", err)
	}
	if len(cfg.Stages) == 0 || len(cfg.Pipelines) == 0 {
		t.Fatalf("fallback config empty: %+v", cfg)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	data := strings.Replace(config.GenerateDefault(), "min_score: 60", "min_score: 42", 1)
	if err := os.WriteFile(filepath.Join(dir, "venturemill.yml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stages["trend-scan"].MinScore != 42 {
		t.Fatalf("min_score = %v, want 42", cfg.Stages["trend-scan"].MinScore)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"min score above 100", func(c *config.Config) {
			sc := c.Stages["trend-scan"]
			sc.MinScore = 101
			c.Stages["trend-scan"] = sc
		}},
		{"negative retries", func(c *config.Config) {
			sc := c.Stages["trend-scan"]
			sc.MaxRetries = -1
			c.Stages["trend-scan"] = sc
		}},
		{"negative weight", func(c *config.Config) {
			sc := c.Stages["trend-scan"]
			sc.Weights = map[string]float64{"popularity": -1}
			c.Stages["trend-scan"] = sc
		}},
		{"zero weight sum", func(c *config.Config) {
			sc := c.Stages["trend-scan"]
			sc.Weights = map[string]float64{"popularity": 0}
			c.Stages["trend-scan"] = sc
		}},
		{"unknown stage reference", func(c *config.Config) {
			pc := c.Pipelines["trend-scan"]
			pc.Stages = []string{"does-not-exist"}
			c.Pipelines["trend-scan"] = pc
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
