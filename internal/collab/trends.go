package collab

import (
	"context"
	"time"
)

// Trend is one discovered market signal.
type Trend struct {
	Name         string  `json:"name"`
	Source       string  `json:"source"`
	Category     string  `json:"category"`
	MarketSize   string  `json:"market_size"`
	Popularity   float64 `json:"popularity"`
	Engagement   float64 `json:"engagement"`
	DiscoveredAt string  `json:"discovered_at" format:"date-time"`
}

// ScanParams selects which sources to scan and caps the result count.
type ScanParams struct {
	Sources []string `json:"sources,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// TrendScanner serves trends from a built-in catalog. A production deployment
// swaps this for clients of the search-trends and forum APIs.
type TrendScanner struct {
	Now func() time.Time
}

func (s TrendScanner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type catalogTrend struct {
	name       string
	source     string
	category   string
	marketSize string
	popularity float64
	engagement float64
	ageHours   int
}

var trendCatalog = []catalogTrend{
	{"AI meeting summaries", "google_trends", "productivity", "large", 0.92, 0.65, 6},
	{"Personal finance copilots", "product_hunt", "finance", "large", 0.81, 0.74, 12},
	{"Sleep tracking wearables", "reddit", "health", "medium", 0.68, 0.82, 20},
	{"No-code internal tools", "product_hunt", "technology", "large", 0.77, 0.58, 30},
	{"Microlearning platforms", "google_trends", "education", "medium", 0.64, 0.41, 42},
	{"Local-first note apps", "reddit", "productivity", "small", 0.52, 0.9, 70},
	{"Carbon accounting SaaS", "google_trends", "finance", "medium", 0.47, 0.3, 110},
	{"Home barista gear", "reddit", "lifestyle", "small", 0.58, 0.61, 200},
}

// Scan returns catalog trends matching the requested sources, newest first in
// catalog order, up to Limit.
func (s TrendScanner) Scan(ctx context.Context, p ScanParams) ([]Trend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, src := range p.Sources {
		wanted[src] = true
	}
	now := s.now().UTC()
	var out []Trend
	for _, c := range trendCatalog {
		if len(wanted) > 0 && !wanted[c.source] {
			continue
		}
		out = append(out, Trend{
			Name:         c.name,
			Source:       c.source,
			Category:     c.category,
			MarketSize:   c.marketSize,
			Popularity:   c.popularity,
			Engagement:   c.engagement,
			DiscoveredAt: now.Add(-time.Duration(c.ageHours) * time.Hour).Format(time.RFC3339),
		})
		if p.Limit > 0 && len(out) >= p.Limit {
			break
		}
	}
	return out, nil
}

// TrendFactors maps a trend onto the trend-scan weight profile's factor keys.
func TrendFactors(t Trend, now time.Time) map[string]float64 {
	return map[string]float64{
		"popularity":  clamp01(t.Popularity),
		"engagement":  clamp01(t.Engagement),
		"market_size": marketFactor(t.MarketSize),
		"category":    categoryFactor(t.Category),
		"novelty":     noveltyFactor(t.DiscoveredAt, now),
	}
}

func noveltyFactor(discoveredAt string, now time.Time) float64 {
	ts, err := time.Parse(time.RFC3339, discoveredAt)
	if err != nil {
		return 0.8
	}
	age := now.Sub(ts)
	switch {
	case age < 24*time.Hour:
		return 1.0
	case age < 48*time.Hour:
		return 0.9
	case age < 7*24*time.Hour:
		return 0.7
	default:
		return 0.4
	}
}
