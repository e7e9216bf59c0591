// Package pipeline turns configuration into immutable pipeline definitions:
// ordered stages, each binding a collaborator, a weight profile, a minimum
// score, and a reliability policy.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"venturemill/internal/collab"
	"venturemill/internal/config"
	"venturemill/internal/scoring"
	"venturemill/internal/stage"
)

// Params is the kind-specific submission input. All fields are optional;
// stages fall back to their defaults.
type Params struct {
	Sources       []string `json:"sources,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	IdeasPerTrend int      `json:"ideas_per_trend,omitempty"`
	AutoDeploy    *bool    `json:"auto_deploy,omitempty"`
	Channels      []string `json:"channels,omitempty"`
	BudgetUSD     int      `json:"budget_usd,omitempty"`
	DurationWeeks int      `json:"duration_weeks,omitempty"`
	TargetMRR     int      `json:"target_mrr,omitempty"`
}

// RunnerFunc invokes a stage's collaborator and maps its typed results to
// scoring items with factors populated. Scores are attached later by the
// orchestrator using the stage's weight profile.
type RunnerFunc func(ctx context.Context, carry []scoring.Item, p Params) ([]scoring.Item, error)

// Stage is one fully-bound pipeline step.
type Stage struct {
	Name      string
	MinScore  float64
	Mandatory bool
	Weights   map[string]float64
	Policy    stage.Policy
	Run       RunnerFunc
}

// Definition is an ordered stage sequence. Static configuration; never
// mutated after NewRegistry returns.
type Definition struct {
	Kind        string
	Description string
	Deadline    time.Duration
	Stages      []Stage
}

// Collaborator contracts, one per stage kind. Retries and timeouts are the
// executor's responsibility, not the collaborator's.
type TrendScanner interface {
	Scan(ctx context.Context, p collab.ScanParams) ([]collab.Trend, error)
}

type IdeaGenerator interface {
	Generate(ctx context.Context, p collab.GenerateParams) ([]collab.Idea, error)
}

type Builder interface {
	Build(ctx context.Context, p collab.BuildParams) (collab.Artifact, error)
}

type CampaignPlanner interface {
	Plan(ctx context.Context, p collab.PlanParams) (collab.Campaign, error)
}

type LeadSource interface {
	Capture(ctx context.Context, p collab.LeadParams) ([]collab.Lead, error)
}

// Collaborators bundles the bindings for every known stage name.
type Collaborators struct {
	Trends    TrendScanner
	Ideas     IdeaGenerator
	Builder   Builder
	Marketing CampaignPlanner
	Sales     LeadSource
}

// Builtin returns the deterministic in-process collaborators.
func Builtin(now func() time.Time) Collaborators {
	return Collaborators{
		Trends:    collab.TrendScanner{Now: now},
		Ideas:     collab.IdeaGenerator{},
		Builder:   collab.Builder{},
		Marketing: collab.CampaignPlanner{},
		Sales:     collab.LeadSource{Now: now},
	}
}

// Registry holds every pipeline definition keyed by kind.
type Registry struct {
	defs  map[string]Definition
	kinds []string
}

// NewRegistry builds definitions from config, binding each configured stage
// name to its collaborator adapter.
func NewRegistry(cfg *config.Config, c Collaborators, now func() time.Time) (*Registry, error) {
	if now == nil {
		now = time.Now
	}
	r := &Registry{defs: map[string]Definition{}}
	for kind, pc := range cfg.Pipelines {
		def := Definition{
			Kind:        kind,
			Description: pc.Description,
			Deadline:    pc.Deadline(),
		}
		for _, name := range pc.Stages {
			sc, ok := cfg.Stages[name]
			if !ok {
				return nil, fmt.Errorf("pipeline %s: stage %s not configured", kind, name)
			}
			run, err := runnerFor(name, c, now)
			if err != nil {
				return nil, fmt.Errorf("pipeline %s: %w", kind, err)
			}
			def.Stages = append(def.Stages, Stage{
				Name:      name,
				MinScore:  sc.MinScore,
				Mandatory: sc.Mandatory,
				Weights:   sc.Weights,
				Policy: stage.Policy{
					Timeout:       sc.Timeout(),
					MaxRetries:    sc.MaxRetries,
					Backoff:       sc.Backoff(),
					BackoffFactor: sc.BackoffFactor,
				},
				Run: run,
			})
		}
		r.defs[kind] = def
	}
	for kind := range r.defs {
		r.kinds = append(r.kinds, kind)
	}
	sort.Strings(r.kinds)
	return r, nil
}

// Get returns the definition for a pipeline kind.
func (r *Registry) Get(kind string) (Definition, bool) {
	def, ok := r.defs[kind]
	return def, ok
}

// Kinds lists known pipeline kinds, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// Definitions lists all definitions in kind order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, r.defs[k])
	}
	return out
}
