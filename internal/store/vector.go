package store

import (
	"math"
	"sort"

	"github.com/orthopilot/claimpilot/internal/model"
)

// cosineDistance returns 1 - cosine similarity. Smaller is more similar.
// Mismatched or zero-length vectors rank last.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return math.MaxFloat64
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.MaxFloat64
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// rankNearest ranks the embedded codes by ascending cosine distance from
// the query vector and returns the top k as CodeRefs.
func rankNearest(codes []*model.MedicalCode, vector []float32, k int) []model.CodeRef {
	type scored struct {
		code model.CodeRef
		dist float64
	}

	ranked := make([]scored, 0, len(codes))
	for _, c := range codes {
		if len(c.Embedding) == 0 {
			continue
		}
		ranked = append(ranked, scored{
			code: model.CodeRef{Code: c.Value, Description: c.Description},
			dist: cosineDistance(vector, c.Embedding),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]model.CodeRef, 0, k)
	for _, s := range ranked[:k] {
		out = append(out, s.code)
	}
	return out
}
