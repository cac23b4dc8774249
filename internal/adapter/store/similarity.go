package store

import (
	"math"
	"sort"

	"webrag/internal/domain"
)

// Similarity scores two vectors under the given metric. Higher is always
// more similar, so l2-squared is returned negated.
func Similarity(metric domain.Distance, a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(-1)
	}

	switch metric {
	case domain.DistanceDot:
		return dotProduct(a, b)
	case domain.DistanceEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return -sum
	default:
		return cosineSimilarity(a, b)
	}
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TopK scores every record against query and keeps the k best, ordered by
// descending score. Ties keep their input order.
func TopK(metric domain.Distance, query []float32, records []domain.EmbeddedRecord, k int) []domain.ScoredRecord {
	if k <= 0 || len(records) == 0 {
		return nil
	}

	scored := make([]domain.ScoredRecord, 0, len(records))
	for _, r := range records {
		scored = append(scored, domain.ScoredRecord{
			Record: r,
			Score:  Similarity(metric, query, r.Vector),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}
