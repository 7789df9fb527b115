package engine

import (
	"fmt"
	"sort"

	"github.com/lazypower/ember/internal/heat"
)

// Weights balances similarity against heat in the merged score. The two
// weights are normalized by their sum, so only their ratio matters.
type Weights struct {
	Similarity float64
	Heat       float64
}

// DefaultWeights favors relevance: heat breaks ties among plausible matches.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.7, Heat: 0.3}
}

// Validate rejects negative weights and an all-zero pair.
func (w Weights) Validate() error {
	if w.Similarity < 0 || w.Heat < 0 {
		return fmt.Errorf("rank weights must be >= 0, got similarity=%g heat=%g", w.Similarity, w.Heat)
	}
	if w.Similarity+w.Heat == 0 {
		return fmt.Errorf("rank weights must not both be zero")
	}
	return nil
}

func (w Weights) normalized() Weights {
	sum := w.Similarity + w.Heat
	if w.Validate() != nil {
		return DefaultWeights()
	}
	return Weights{Similarity: w.Similarity / sum, Heat: w.Heat / sum}
}

// Candidate is a memory eligible for ranking.
type Candidate struct {
	ID             string
	Similarity     float64
	Heat           float64
	LastAccessedAt int64 // unix ms, 0 when never accessed
}

// Scored is a candidate with its merged score.
type Scored struct {
	Candidate
	Score float64
}

// Merge scores candidates and orders them best first. Ties go to the more
// recently accessed candidate, then to the smaller id.
func Merge(candidates []Candidate, w Weights, p heat.Policy) []Scored {
	w = w.normalized()
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		sim := min(1, max(0, c.Similarity))
		out[i] = Scored{
			Candidate: c,
			Score:     w.Similarity*sim + w.Heat*p.Normalize(c.Heat),
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.LastAccessedAt != b.LastAccessedAt {
			return a.LastAccessedAt > b.LastAccessedAt
		}
		return a.ID < b.ID
	})
	return out
}
