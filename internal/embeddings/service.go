package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Service wraps a Provider with blank-text and positional guarantees.
type Service struct {
	provider Provider
	dim      int
}

// NewService resolves the provider's dimension, probing once if it is unknown.
func NewService(ctx context.Context, p Provider) (*Service, error) {
	if p == nil {
		return nil, ErrNoProvider
	}
	dim := p.Dimension()
	if dim <= 0 {
		v, err := p.Embed(ctx, "dimension probe")
		if err != nil {
			return nil, fmt.Errorf("probe %s dimension: %w", p.Name(), err)
		}
		dim = len(v)
	}
	if dim <= 0 {
		return nil, errors.New("provider returned empty probe vector")
	}
	return &Service{provider: p, dim: dim}, nil
}

// ProviderName reports which backend is in use.
func (s *Service) ProviderName() string { return s.provider.Name() }

// Dimension is the length of every vector returned by the service.
func (s *Service) Dimension() int { return s.dim }

// EmbedText embeds one text; blank text yields a zero vector.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, s.dim), nil
	}
	v, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// EmbedBatch returns one vector per input, at the same index. Blank inputs
// get zero vectors; the rest go to the provider in a single call.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make([]string, 0, len(texts))
	index := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make([]float32, s.dim)
			continue
		}
		pending = append(pending, t)
		index = append(index, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	vectors, err := s.provider.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(pending) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(pending))
	}
	for j, v := range vectors {
		out[index[j]] = v
	}
	return out, nil
}

// CosineSimilarity returns a value in [-1, 1]; zero-norm or mismatched vectors give 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim))
}

// IsZero reports whether v carries no direction.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
