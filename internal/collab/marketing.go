package collab

import (
	"context"
	"fmt"
)

// Campaign is the deliverable of the marketing stage.
type Campaign struct {
	Name          string   `json:"name"`
	LandingURL    string   `json:"landing_url"`
	Channels      []string `json:"channels"`
	BudgetUSD     int      `json:"budget_usd"`
	DurationWeeks int      `json:"duration_weeks"`
	ContentPieces int      `json:"content_pieces"`
	SEOKeywords   []string `json:"seo_keywords"`
}

// PlanParams carries the deployed artifact plus campaign knobs.
type PlanParams struct {
	Artifact      Artifact `json:"artifact"`
	Channels      []string `json:"channels,omitempty"`
	BudgetUSD     int      `json:"budget_usd,omitempty"`
	DurationWeeks int      `json:"duration_weeks,omitempty"`
}

// CampaignPlanner assembles a launch campaign. A production deployment swaps
// this for content-generation and ad-platform clients.
type CampaignPlanner struct{}

var defaultChannels = []string{"blog", "email", "social"}

// Plan derives a campaign sized to the budget and channel mix.
func (p CampaignPlanner) Plan(ctx context.Context, in PlanParams) (Campaign, error) {
	if err := ctx.Err(); err != nil {
		return Campaign{}, err
	}
	if in.Artifact.DeployURL == "" {
		return Campaign{}, fmt.Errorf("plan: artifact has no deployment url")
	}
	channels := in.Channels
	if len(channels) == 0 {
		channels = defaultChannels
	}
	budget := in.BudgetUSD
	if budget <= 0 {
		budget = 500
	}
	weeks := in.DurationWeeks
	if weeks <= 0 {
		weeks = 4
	}
	return Campaign{
		Name:          in.Artifact.Name + " launch",
		LandingURL:    in.Artifact.DeployURL,
		Channels:      channels,
		BudgetUSD:     budget,
		DurationWeeks: weeks,
		ContentPieces: weeks * len(channels),
		SEOKeywords: []string{
			in.Artifact.Slug,
			in.Artifact.Slug + " pricing",
			in.Artifact.Slug + " alternative",
		},
	}, nil
}

// CampaignFactors maps a campaign onto the marketing weight profile's keys.
func CampaignFactors(c Campaign) map[string]float64 {
	return map[string]float64{
		"channel_coverage": clamp01(float64(len(c.Channels)) / 3),
		"budget_fit":       clamp01(float64(c.BudgetUSD) / 500),
		"content_volume":   clamp01(float64(c.ContentPieces) / 12),
		"seo_readiness":    clamp01(float64(len(c.SEOKeywords)) / 3),
	}
}
