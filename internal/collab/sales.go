package collab

import (
	"context"
	"fmt"
	"time"
)

// Lead is one captured sales prospect.
type Lead struct {
	Name            string `json:"name"`
	Company         string `json:"company"`
	CompanySize     string `json:"company_size"`
	Industry        string `json:"industry" enum:"target_industry,related_industry,other"`
	Role            string `json:"role" enum:"decision_maker,influencer,end_user"`
	EngagementLevel string `json:"engagement_level"`
	BudgetSignal    string `json:"budget_signal,omitempty"`
	CapturedAt      string `json:"captured_at" format:"date-time"`
}

// LeadParams carries the campaign feeding the funnel.
type LeadParams struct {
	Campaign  Campaign `json:"campaign"`
	TargetMRR int      `json:"target_mrr,omitempty"`
}

// LeadSource captures leads from the campaign funnel. A production deployment
// swaps this for CRM and form-capture clients.
type LeadSource struct {
	Now func() time.Time
}

func (s LeadSource) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type seedLead struct {
	name         string
	company      string
	companySize  string
	industry     string
	role         string
	engagement   string
	budgetSignal string
}

var leadSeeds = []seedLead{
	{"Dana Reyes", "Brightpath Ops", "21-50", "target_industry", "decision_maker", "visited_pricing_page", "asked_about_enterprise"},
	{"Miguel Chen", "Fern Studio", "6-20", "target_industry", "influencer", "watched_demo_video", "asked_about_pricing"},
	{"Priya Nair", "Cloudloom", "51+", "related_industry", "decision_maker", "downloaded_lead_magnet", "mentioned_budget"},
	{"Sam Okafor", "Tally & Post", "1-5", "other", "end_user", "opened_emails", ""},
	{"Lena Fischer", "Nordwind Labs", "21-50", "related_industry", "influencer", "visited_pricing_page", ""},
	{"Jon Park", "Halcyon Health", "6-20", "target_industry", "end_user", "opened_emails", ""},
}

// Capture returns the funnel's current leads.
func (s LeadSource) Capture(ctx context.Context, p LeadParams) ([]Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Campaign.LandingURL == "" {
		return nil, fmt.Errorf("capture: campaign has no landing url")
	}
	now := s.now().UTC()
	out := make([]Lead, 0, len(leadSeeds))
	for i, seed := range leadSeeds {
		out = append(out, Lead{
			Name:            seed.name,
			Company:         seed.company,
			CompanySize:     seed.companySize,
			Industry:        seed.industry,
			Role:            seed.role,
			EngagementLevel: seed.engagement,
			BudgetSignal:    seed.budgetSignal,
			CapturedAt:      now.Add(-time.Duration(i) * time.Hour).Format(time.RFC3339),
		})
	}
	return out, nil
}

// LeadFactors maps a lead onto the sales weight profile's keys. The value
// tables follow the BANT-style scoring model: engagement dominates, company
// size and role next, industry and budget signal round it out.
func LeadFactors(l Lead) map[string]float64 {
	return map[string]float64{
		"engagement":       engagementFactor(l.EngagementLevel),
		"company_size":     companySizeFactor(l.CompanySize),
		"role":             roleFactor(l.Role),
		"industry":         industryFactor(l.Industry),
		"budget_indicator": budgetFactor(l.BudgetSignal),
	}
}

func companySizeFactor(size string) float64 {
	switch size {
	case "21-50":
		return 1.0
	case "6-20":
		return 0.75
	case "51+":
		return 0.5
	case "1-5":
		return 0.25
	default:
		return 0.5
	}
}

func industryFactor(industry string) float64 {
	switch industry {
	case "target_industry":
		return 1.0
	case "related_industry":
		return 0.67
	default:
		return 0.33
	}
}

func engagementFactor(level string) float64 {
	switch level {
	case "visited_pricing_page":
		return 1.0
	case "watched_demo_video":
		return 0.8
	case "downloaded_lead_magnet":
		return 0.7
	case "opened_emails":
		return 0.5
	default:
		return 0.25
	}
}

func roleFactor(role string) float64 {
	switch role {
	case "decision_maker":
		return 1.0
	case "influencer":
		return 0.75
	case "end_user":
		return 0.5
	default:
		return 0.5
	}
}

func budgetFactor(signal string) float64 {
	switch signal {
	case "asked_about_enterprise":
		return 1.0
	case "mentioned_budget":
		return 0.8
	case "asked_about_pricing":
		return 0.67
	case "":
		return 0.2
	default:
		return 0.4
	}
}
