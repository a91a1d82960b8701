// Package brief runs one user's brief: novelty detection, ranking and
// selection under caps. Each stage returns new items; callers' values are
// never modified.
package brief

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/brief-engine/internal/config"
	"github.com/xiy/brief-engine/internal/novelty"
	"github.com/xiy/brief-engine/internal/ranking"
	"github.com/xiy/brief-engine/pkg/types"
)

// PreferenceReader loads the preferences ranking uses.
type PreferenceReader interface {
	GetPreferences(ctx context.Context, userID string) (types.UserPreferences, error)
}

// Input is one batch of normalized items with their raw source records,
// index aligned.
type Input struct {
	Items []types.BriefItem `json:"items"`
	Raws  []types.RawRecord `json:"raws"`
	// ExcludeRepeats drops REPEAT and SEMANTIC_DUPLICATE items before ranking.
	ExcludeRepeats bool `json:"exclude_repeats"`
}

// Result is the outcome of one run.
type Result struct {
	UserID       string                     `json:"user_id"`
	GeneratedAt  time.Time                  `json:"generated_at_utc"`
	Annotated    []types.BriefItem          `json:"annotated"`
	Selection    ranking.Selection          `json:"selection"`
	NoveltyStats map[types.NoveltyLabel]int `json:"novelty_stats"`
}

// Pipeline composes a classifier and a ranker configuration.
type Pipeline struct {
	classifier novelty.Classifier
	prefs      PreferenceReader
	ranking    config.RankingConfig
	timeout    time.Duration
	logger     *log.Logger
	now        func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source used for ranking and timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithTimeout bounds each Run. Zero means no bound beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// New returns a Pipeline.
func New(classifier novelty.Classifier, prefs PreferenceReader, rankingCfg config.RankingConfig, logger *log.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		classifier: classifier,
		prefs:      prefs,
		ranking:    rankingCfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run classifies, ranks and selects one user's items.
func (p *Pipeline) Run(ctx context.Context, userID string, in Input) (Result, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	started := p.now()
	t0 := time.Now()

	annotated, err := p.classifier.DetectBatch(ctx, userID, in.Items, in.Raws)
	if err != nil {
		return Result{}, fmt.Errorf("detect novelty: %w", err)
	}
	candidates := annotated
	if in.ExcludeRepeats {
		candidates = novelty.FilterByNovelty(annotated)
	}

	prefs, err := p.prefs.GetPreferences(ctx, userID)
	if err != nil {
		p.logger.Warn("load preferences failed, ranking without them", "user", userID, "err", err)
		prefs = types.UserPreferences{UserID: userID}
	}

	caps, weights, opts := ranking.FromConfig(p.ranking)
	opts = append(opts, ranking.WithClock(p.now))
	ranker, err := ranking.NewRanker(prefs, caps, weights, opts...)
	if err != nil {
		return Result{}, fmt.Errorf("build ranker: %w", err)
	}
	sel := ranker.Assemble(candidates)

	res := Result{
		UserID:       userID,
		GeneratedAt:  started,
		Annotated:    annotated,
		Selection:    sel,
		NoveltyStats: novelty.Stats(annotated),
	}
	p.logger.Info("brief assembled",
		"user", userID,
		"input", len(in.Items),
		"annotated", len(annotated),
		"selected", len(sel.Items),
		"highlights", len(sel.Highlights),
		"took", time.Since(t0).Round(time.Millisecond),
	)
	return res, nil
}
