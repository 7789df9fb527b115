package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lazypower/ember/internal/heat"
)

func TestMergeDefaultWeights(t *testing.T) {
	p := heat.DefaultPolicy()
	out := Merge([]Candidate{
		{ID: "a", Similarity: 0.9, Heat: 0.2},
		{ID: "b", Similarity: 0.85, Heat: 2.0},
	}, DefaultWeights(), p)

	assert.Equal(t, "b", out[0].ID)
	assert.InDelta(t, 0.895, out[0].Score, 0.001)
	assert.InDelta(t, 0.653, out[1].Score, 0.001)
}

func TestMergeEmpty(t *testing.T) {
	out := Merge(nil, DefaultWeights(), heat.DefaultPolicy())
	assert.Empty(t, out)
}

func TestMergeWeightsNormalized(t *testing.T) {
	p := heat.DefaultPolicy()
	cands := []Candidate{{ID: "a", Similarity: 0.4, Heat: 1.3}}

	base := Merge(cands, Weights{Similarity: 0.7, Heat: 0.3}, p)
	scaled := Merge(cands, Weights{Similarity: 7, Heat: 3}, p)
	assert.InDelta(t, base[0].Score, scaled[0].Score, 1e-12)
}

func TestMergePureRelevance(t *testing.T) {
	p := heat.DefaultPolicy()
	out := Merge([]Candidate{
		{ID: "hot", Similarity: 0.2, Heat: 2.0},
		{ID: "relevant", Similarity: 0.8, Heat: 0.05},
	}, Weights{Similarity: 1, Heat: 0}, p)

	assert.Equal(t, "relevant", out[0].ID)
	assert.InDelta(t, 0.8, out[0].Score, 1e-12)
}

func TestMergePureHeat(t *testing.T) {
	p := heat.DefaultPolicy()
	out := Merge([]Candidate{
		{ID: "relevant", Similarity: 0.99, Heat: 0.05},
		{ID: "hot", Similarity: 0.01, Heat: 2.0},
	}, Weights{Similarity: 0, Heat: 1}, p)

	assert.Equal(t, "hot", out[0].ID)
	assert.Equal(t, 1.0, out[0].Score)
}

func TestMergeTieBreaksDeterministic(t *testing.T) {
	p := heat.DefaultPolicy()
	cands := []Candidate{
		{ID: "z", Similarity: 0.5, Heat: 1.0},
		{ID: "m", Similarity: 0.5, Heat: 1.0, LastAccessedAt: 100},
		{ID: "a", Similarity: 0.5, Heat: 1.0},
		{ID: "q", Similarity: 0.5, Heat: 1.0, LastAccessedAt: 200},
	}

	for i := 0; i < 5; i++ {
		out := Merge(cands, DefaultWeights(), p)
		ids := []string{out[0].ID, out[1].ID, out[2].ID, out[3].ID}
		assert.Equal(t, []string{"q", "m", "a", "z"}, ids)
		// Reverse input order to show the order does not depend on it.
		for l, r := 0, len(cands)-1; l < r; l, r = l+1, r-1 {
			cands[l], cands[r] = cands[r], cands[l]
		}
	}
}

func TestMergeClampsSimilarity(t *testing.T) {
	p := heat.DefaultPolicy()
	out := Merge([]Candidate{{ID: "a", Similarity: 1.7, Heat: p.Floor}}, Weights{Similarity: 1}, p)
	assert.Equal(t, 1.0, out[0].Score)
}

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.Error(t, Weights{Similarity: -1, Heat: 1}.Validate())
	assert.Error(t, Weights{}.Validate())
}
