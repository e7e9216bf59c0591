package collab

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Idea is one business idea derived from a trend.
type Idea struct {
	Name                string  `json:"name"`
	Tagline             string  `json:"tagline"`
	TrendName           string  `json:"trend_name"`
	TrendScore          float64 `json:"trend_score"`
	RevenuePotential    string  `json:"revenue_potential"`
	TechnicalComplexity string  `json:"technical_complexity" enum:"low,medium,high"`
	TimeToMVPWeeks      int     `json:"time_to_mvp_weeks"`
	CompetitionLevel    string  `json:"competition_level" enum:"low,medium,high"`
	MarketSize          string  `json:"market_size"`
	Pricing             string  `json:"pricing"`
}

// GenerateParams carries the upstream trends and fan-out per trend.
type GenerateParams struct {
	Trends        []Trend   `json:"trends"`
	TrendScores   []float64 `json:"trend_scores,omitempty"`
	IdeasPerTrend int       `json:"ideas_per_trend,omitempty"`
}

// IdeaGenerator derives ideas from templates. A production deployment swaps
// this for a language-model client.
type IdeaGenerator struct{}

type ideaTemplate struct {
	nameSuffix  string
	tagline     string
	revenue     string
	complexity  string
	mvpWeeks    int
	competition string
	pricing     string
}

var ideaTemplates = []ideaTemplate{
	{"Copilot", "assistant that does the busywork for %s", "$20k-50k/mo", "medium", 6, "medium", "$29/month"},
	{"Analytics", "dashboards and alerts for %s", "$10k-30k/mo", "low", 4, "high", "$19/month"},
	{"Marketplace", "supply meets demand around %s", "$50k-100k/mo", "high", 12, "medium", "$99/month"},
	{"API", "developer building blocks for %s", "$5k-20k/mo", "medium", 8, "low", "$49/month"},
	{"Academy", "cohort courses teaching %s", "$5k-10k/mo", "low", 3, "medium", "$15/month"},
}

// Generate produces IdeasPerTrend ideas per upstream trend, template-rotated
// so repeated runs are stable.
func (g IdeaGenerator) Generate(ctx context.Context, p GenerateParams) ([]Idea, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	per := p.IdeasPerTrend
	if per <= 0 {
		per = 3
	}
	if per > len(ideaTemplates) {
		per = len(ideaTemplates)
	}
	var out []Idea
	for ti, t := range p.Trends {
		score := 0.0
		if ti < len(p.TrendScores) {
			score = p.TrendScores[ti]
		}
		for i := 0; i < per; i++ {
			tpl := ideaTemplates[(ti+i)%len(ideaTemplates)]
			out = append(out, Idea{
				Name:                fmt.Sprintf("%s %s", t.Name, tpl.nameSuffix),
				Tagline:             fmt.Sprintf(tpl.tagline, strings.ToLower(t.Name)),
				TrendName:           t.Name,
				TrendScore:          score,
				RevenuePotential:    tpl.revenue,
				TechnicalComplexity: tpl.complexity,
				TimeToMVPWeeks:      tpl.mvpWeeks,
				CompetitionLevel:    tpl.competition,
				MarketSize:          t.MarketSize,
				Pricing:             tpl.pricing,
			})
		}
	}
	return out, nil
}

// IdeaFactors maps an idea onto the idea-generation weight profile's keys.
func IdeaFactors(i Idea) map[string]float64 {
	return map[string]float64{
		"revenue_potential": revenueFactor(i.RevenuePotential),
		"feasibility":       feasibilityFactor(i.TechnicalComplexity, i.TimeToMVPWeeks),
		"competition":       competitionFactor(i.CompetitionLevel),
		"market_size":       marketFactor(i.MarketSize),
		"trend_strength":    clamp01(i.TrendScore / 100),
	}
}

var revenueRe = regexp.MustCompile(`(\d+)k`)

// revenueFactor parses ranges like "$20k-50k/mo" and rates the upper bound.
func revenueFactor(potential string) float64 {
	matches := revenueRe.FindAllStringSubmatch(strings.ToLower(potential), -1)
	if len(matches) == 0 {
		return 0.5
	}
	max, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0.5
	}
	switch {
	case max >= 100:
		return 1.0
	case max >= 50:
		return 0.8
	case max >= 20:
		return 0.65
	case max >= 10:
		return 0.5
	case max >= 5:
		return 0.3
	default:
		return 0.2
	}
}

func feasibilityFactor(complexity string, mvpWeeks int) float64 {
	c := 0.6
	switch strings.ToLower(complexity) {
	case "low":
		c = 0.9
	case "medium":
		c = 0.7
	case "high":
		c = 0.4
	}
	t := 0.3
	switch {
	case mvpWeeks <= 4:
		t = 1.0
	case mvpWeeks <= 8:
		t = 0.7
	case mvpWeeks <= 12:
		t = 0.5
	}
	return (c + t) / 2
}

// competitionFactor scores low competition high.
func competitionFactor(level string) float64 {
	switch strings.ToLower(level) {
	case "low":
		return 0.9
	case "medium":
		return 0.6
	case "high":
		return 0.3
	default:
		return 0.5
	}
}
