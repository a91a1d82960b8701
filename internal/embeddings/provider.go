// Package embeddings turns text into vectors for semantic duplicate detection.
//
// Two providers are available:
//   - hosted: any OpenAI-compatible /v1/embeddings endpoint (needs an API key)
//   - local:  an Ollama server running an embedding model
//
// NewProvider picks the hosted provider when credentials are present and falls
// back to the local one; Service adds zero-vector handling on top.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/brief-engine/internal/config"
)

// ErrNoProvider means neither the hosted nor the local provider could be built.
var ErrNoProvider = errors.New("no embedding provider available")

// Provider generates embedding vectors from text.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// HTTPError is a non-200 answer from a provider endpoint.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// NewProvider selects the first available provider. Construction failures are
// fatal configuration errors; per-call failures are handled by callers.
func NewProvider(ctx context.Context, cfg config.EmbeddingConfig, logger *log.Logger) (Provider, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var errs []error

	if cfg.APIKey != "" {
		p, err := NewHostedProvider(HostedOptions{
			Endpoint:       cfg.HostedEndpoint,
			Model:          cfg.HostedModel,
			APIKey:         cfg.APIKey,
			Dimension:      cfg.Dimension,
			RequestsPerSec: cfg.RequestsPerSec,
			Timeout:        timeout,
		})
		if err == nil {
			logger.Info("embedding provider selected", "provider", p.Name(), "model", cfg.HostedModel)
			return p, nil
		}
		errs = append(errs, fmt.Errorf("hosted: %w", err))
	} else {
		errs = append(errs, errors.New("hosted: no API key configured"))
	}

	p, err := NewLocalProvider(ctx, LocalOptions{
		BaseURL:   cfg.LocalEndpoint,
		Model:     cfg.LocalModel,
		Dimension: cfg.Dimension,
		Timeout:   timeout,
	})
	if err == nil {
		logger.Info("embedding provider selected", "provider", p.Name(), "model", cfg.LocalModel)
		return p, nil
	}
	errs = append(errs, fmt.Errorf("local: %w", err))

	return nil, fmt.Errorf("%w: %w", ErrNoProvider, errors.Join(errs...))
}
