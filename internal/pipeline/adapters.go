package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"venturemill/internal/collab"
	"venturemill/internal/scoring"
)

// Stage names recognized by runnerFor. Config references these.
const (
	StageTrendScan      = "trend-scan"
	StageIdeaGeneration = "idea-generation"
	StageMVPBuild       = "mvp-build"
	StageMarketing      = "marketing"
	StageSales          = "sales"
)

func runnerFor(name string, c Collaborators, now func() time.Time) (RunnerFunc, error) {
	switch name {
	case StageTrendScan:
		return trendRunner(c.Trends, now), nil
	case StageIdeaGeneration:
		return ideaRunner(c.Ideas, now), nil
	case StageMVPBuild:
		return buildRunner(c.Builder, now), nil
	case StageMarketing:
		return marketingRunner(c.Marketing, now), nil
	case StageSales:
		return salesRunner(c.Sales, now), nil
	default:
		return nil, fmt.Errorf("unknown stage %s", name)
	}
}

func trendRunner(scanner TrendScanner, now func() time.Time) RunnerFunc {
	return func(ctx context.Context, _ []scoring.Item, p Params) ([]scoring.Item, error) {
		trends, err := scanner.Scan(ctx, collab.ScanParams{Sources: p.Sources, Limit: p.Limit})
		if err != nil {
			return nil, err
		}
		items := make([]scoring.Item, 0, len(trends))
		for _, t := range trends {
			it, err := newItem(t, t.Name, t.DiscoveredAt, collab.TrendFactors(t, now()))
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
		return items, nil
	}
}

func ideaRunner(gen IdeaGenerator, now func() time.Time) RunnerFunc {
	return func(ctx context.Context, carry []scoring.Item, p Params) ([]scoring.Item, error) {
		// Fan out from at most the top three trends, like the original
		// full-pipeline behavior.
		top := carry
		if len(top) > 3 {
			top = top[:3]
		}
		gp := collab.GenerateParams{IdeasPerTrend: p.IdeasPerTrend}
		for _, it := range top {
			var t collab.Trend
			if err := json.Unmarshal(it.Payload, &t); err != nil {
				return nil, fmt.Errorf("decode trend payload: %w", err)
			}
			gp.Trends = append(gp.Trends, t)
			gp.TrendScores = append(gp.TrendScores, it.Score)
		}
		ideas, err := gen.Generate(ctx, gp)
		if err != nil {
			return nil, err
		}
		ts := now().UTC().Format(time.RFC3339)
		items := make([]scoring.Item, 0, len(ideas))
		for _, idea := range ideas {
			it, err := newItem(idea, idea.Name, ts, collab.IdeaFactors(idea))
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
		return items, nil
	}
}

func buildRunner(b Builder, now func() time.Time) RunnerFunc {
	return func(ctx context.Context, carry []scoring.Item, p Params) ([]scoring.Item, error) {
		if len(carry) == 0 {
			return nil, fmt.Errorf("no idea to build")
		}
		var idea collab.Idea
		if err := json.Unmarshal(carry[0].Payload, &idea); err != nil {
			return nil, fmt.Errorf("decode idea payload: %w", err)
		}
		autoDeploy := true
		if p.AutoDeploy != nil {
			autoDeploy = *p.AutoDeploy
		}
		artifact, err := b.Build(ctx, collab.BuildParams{Idea: idea, AutoDeploy: autoDeploy})
		if err != nil {
			return nil, err
		}
		it, err := newItem(artifact, artifact.Name, now().UTC().Format(time.RFC3339), collab.ArtifactFactors(artifact))
		if err != nil {
			return nil, err
		}
		return []scoring.Item{it}, nil
	}
}

func marketingRunner(planner CampaignPlanner, now func() time.Time) RunnerFunc {
	return func(ctx context.Context, carry []scoring.Item, p Params) ([]scoring.Item, error) {
		if len(carry) == 0 {
			return nil, fmt.Errorf("no artifact to market")
		}
		var artifact collab.Artifact
		if err := json.Unmarshal(carry[0].Payload, &artifact); err != nil {
			return nil, fmt.Errorf("decode artifact payload: %w", err)
		}
		campaign, err := planner.Plan(ctx, collab.PlanParams{
			Artifact:      artifact,
			Channels:      p.Channels,
			BudgetUSD:     p.BudgetUSD,
			DurationWeeks: p.DurationWeeks,
		})
		if err != nil {
			return nil, err
		}
		it, err := newItem(campaign, campaign.Name, now().UTC().Format(time.RFC3339), collab.CampaignFactors(campaign))
		if err != nil {
			return nil, err
		}
		return []scoring.Item{it}, nil
	}
}

func salesRunner(src LeadSource, _ func() time.Time) RunnerFunc {
	return func(ctx context.Context, carry []scoring.Item, p Params) ([]scoring.Item, error) {
		if len(carry) == 0 {
			return nil, fmt.Errorf("no campaign to sell from")
		}
		var campaign collab.Campaign
		if err := json.Unmarshal(carry[0].Payload, &campaign); err != nil {
			return nil, fmt.Errorf("decode campaign payload: %w", err)
		}
		leads, err := src.Capture(ctx, collab.LeadParams{Campaign: campaign, TargetMRR: p.TargetMRR})
		if err != nil {
			return nil, err
		}
		items := make([]scoring.Item, 0, len(leads))
		for _, l := range leads {
			it, err := newItem(l, l.Name, l.CapturedAt, collab.LeadFactors(l))
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
		return items, nil
	}
}

func newItem(payload any, label, at string, factors map[string]float64) (scoring.Item, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return scoring.Item{}, fmt.Errorf("encode %s payload: %w", label, err)
	}
	return scoring.Item{Payload: raw, Label: label, At: at, Factors: factors}, nil
}
