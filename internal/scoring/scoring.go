// Package scoring implements the weighted multi-factor scoring used by every
// pipeline stage: trend scoring, idea prioritization, and lead scoring all
// share the same formula and the same rank/filter semantics.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidInput marks malformed factor/weight maps. Rejected synchronously;
// never retried.
var ErrInvalidInput = errors.New("invalid scoring input")

// Item is a candidate payload annotated with its factors and computed score.
// Payload stays opaque here; the stage that produced it knows its shape.
type Item struct {
	Payload json.RawMessage    `json:"payload"`
	Label   string             `json:"label,omitempty"`
	At      string             `json:"at,omitempty" format:"date-time"`
	Factors map[string]float64 `json:"factors"`
	Weights map[string]float64 `json:"weights"`
	Score   float64            `json:"score"`
}

// Score computes 100 * sum(w_f * v_f) / sum(w_f). Factor values must lie in
// [0,1], weights must be non-negative, and both maps must have identical key
// sets. Weights need not sum to any particular total.
func Score(factors, weights map[string]float64) (float64, error) {
	if len(factors) == 0 {
		return 0, fmt.Errorf("%w: no factors", ErrInvalidInput)
	}
	if len(factors) != len(weights) {
		return 0, fmt.Errorf("%w: factor and weight keys differ", ErrInvalidInput)
	}
	var weighted, total float64
	for name, v := range factors {
		w, ok := weights[name]
		if !ok {
			return 0, fmt.Errorf("%w: no weight for factor %s", ErrInvalidInput, name)
		}
		if v < 0 || v > 1 {
			return 0, fmt.Errorf("%w: factor %s=%v outside [0,1]", ErrInvalidInput, name, v)
		}
		if w < 0 {
			return 0, fmt.Errorf("%w: negative weight for %s", ErrInvalidInput, name)
		}
		weighted += w * v
		total += w
	}
	if total == 0 {
		return 0, fmt.Errorf("%w: weights sum to zero", ErrInvalidInput)
	}
	return 100 * weighted / total, nil
}

// Apply attaches the weight profile to every item and recomputes its score.
// Items are modified in place; the first invalid item aborts.
func Apply(items []Item, weights map[string]float64) error {
	for i := range items {
		s, err := Score(items[i].Factors, weights)
		if err != nil {
			return fmt.Errorf("item %q: %w", items[i].Label, err)
		}
		items[i].Weights = weights
		items[i].Score = s
	}
	return nil
}

// Tie orders two items with equal score. Rank falls back to it so ordering
// stays deterministic.
type Tie func(a, b Item) bool

// ByRecency prefers the more recent item (RFC3339 At), then the lower label.
func ByRecency(a, b Item) bool {
	at, aerr := time.Parse(time.RFC3339, a.At)
	bt, berr := time.Parse(time.RFC3339, b.At)
	if aerr == nil && berr == nil && !at.Equal(bt) {
		return at.After(bt)
	}
	return a.Label < b.Label
}

// Rank returns a new slice sorted by score descending. Ties use the supplied
// comparator; the sort is stable, so items equal under both keys keep their
// input order.
func Rank(items []Item, tie Tie) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if tie != nil {
			return tie(out[i], out[j])
		}
		return false
	})
	return out
}

// Filter keeps items with score >= min, preserving order.
func Filter(items []Item, min float64) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Score >= min {
			out = append(out, it)
		}
	}
	return out
}
