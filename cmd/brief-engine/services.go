package main

import (
	"context"
	"fmt"
	"time"

	"github.com/xiy/brief-engine/internal/brief"
	"github.com/xiy/brief-engine/internal/consolidate"
	"github.com/xiy/brief-engine/internal/dedup"
	"github.com/xiy/brief-engine/internal/embeddings"
	"github.com/xiy/brief-engine/internal/entity"
	"github.com/xiy/brief-engine/internal/memory"
	"github.com/xiy/brief-engine/internal/novelty"
	"github.com/xiy/brief-engine/internal/store"
)

// services is the wired service graph shared by the subcommands.
type services struct {
	store        *store.SQLiteStore
	memory       *memory.Service
	classifier   novelty.Classifier
	pipeline     *brief.Pipeline
	consolidator *consolidate.Consolidator
}

func (r *services) Close() error { return r.store.Close() }

func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	st, err := store.OpenSQLite(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// openServices wires the store, memory and consolidator. With withNovelty it
// also builds the classifier and pipeline, probing the embedding provider.
func openServices(ctx context.Context, withNovelty bool) (*services, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	mem, err := memory.NewService(st, cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	rt := &services{
		store:        st,
		memory:       mem,
		consolidator: consolidate.New(st, consolidate.OptionsFromConfig(cfg.Consolidation), logger),
	}
	if !withNovelty {
		return rt, nil
	}

	rt.classifier, err = newClassifier(ctx, mem)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	rt.pipeline = brief.New(rt.classifier, st, cfg.Ranking, logger,
		brief.WithTimeout(time.Duration(cfg.RunTimeoutSeconds)*time.Second))
	return rt, nil
}

func newClassifier(ctx context.Context, mem *memory.Service) (novelty.Classifier, error) {
	if !cfg.Embedding.Enabled {
		logger.Info("semantic features disabled, using exact novelty detection")
		return novelty.NewDetector(mem, logger), nil
	}
	provider, err := embeddings.NewProvider(ctx, cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	svc, err := embeddings.NewService(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	logger.Info("semantic novelty enabled", "provider", svc.ProviderName(), "dim", svc.Dimension())
	return novelty.NewEnhancedDetector(mem, svc, dedup.New(cfg.Novelty.SemanticThreshold), entity.NewTracker(), logger), nil
}
