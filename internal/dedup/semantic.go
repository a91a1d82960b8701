// Package dedup finds prior items whose embedding is close to a new one.
package dedup

import (
	"github.com/xiy/brief-engine/internal/embeddings"
	"github.com/xiy/brief-engine/pkg/types"
)

// DefaultThreshold is the minimum cosine similarity for a duplicate.
const DefaultThreshold = 0.85

// Match is the closest prior item at or above the threshold.
type Match struct {
	Item       types.ItemMemory
	Similarity float64
}

// Deduplicator compares an embedding against a bounded candidate window.
type Deduplicator struct {
	Threshold float64
}

// New returns a Deduplicator; a non-positive threshold means DefaultThreshold.
func New(threshold float64) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Deduplicator{Threshold: threshold}
}

// FindDuplicate returns the best candidate with similarity >= Threshold.
// Highest similarity wins; ties go to the most recently seen, then the
// lower fingerprint. Candidates without a usable embedding, and the
// excluded fingerprint, are skipped.
func (d *Deduplicator) FindDuplicate(embedding []float32, candidates []types.ItemMemory, exclude string) (Match, bool) {
	if len(embedding) == 0 || embeddings.IsZero(embedding) {
		return Match{}, false
	}

	var (
		best  Match
		found bool
	)
	for _, c := range candidates {
		if c.Fingerprint == exclude || len(c.Embedding) != len(embedding) {
			continue
		}
		sim := embeddings.CosineSimilarity(embedding, c.Embedding)
		if sim < d.Threshold {
			continue
		}
		if !found || better(sim, c, best) {
			best = Match{Item: c, Similarity: sim}
			found = true
		}
	}
	return best, found
}

func better(sim float64, c types.ItemMemory, best Match) bool {
	if sim != best.Similarity {
		return sim > best.Similarity
	}
	if !c.LastSeenAt.Equal(best.Item.LastSeenAt) {
		return c.LastSeenAt.After(best.Item.LastSeenAt)
	}
	return c.Fingerprint < best.Item.Fingerprint
}
