// Package collab holds the built-in stage collaborators. The real external
// systems (LLM providers, trend APIs, deployment providers, CRMs) live behind
// the same typed contracts; these implementations are deterministic local
// stand-ins so the pipeline is runnable and testable offline.
//
// Each stage kind has one explicit result type. Downstream code never
// pattern-matches on untyped structures.
package collab

// Market size buckets shared by trends and ideas.
var marketSizeFactor = map[string]float64{
	"large":   1.0,
	"medium":  0.7,
	"small":   0.4,
	"unknown": 0.5,
}

// Categories with historically strong conversion.
var highPotentialCategories = map[string]bool{
	"technology":   true,
	"health":       true,
	"finance":      true,
	"education":    true,
	"productivity": true,
}

func marketFactor(size string) float64 {
	if f, ok := marketSizeFactor[size]; ok {
		return f
	}
	return 0.5
}

func categoryFactor(category string) float64 {
	switch {
	case highPotentialCategories[category]:
		return 0.9
	case category == "unknown" || category == "":
		return 0.5
	default:
		return 0.7
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
