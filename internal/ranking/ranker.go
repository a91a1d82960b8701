// Package ranking scores brief items on five factors, orders them and
// selects highlights and per-module subsets under caps.
package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xiy/brief-engine/internal/config"
	"github.com/xiy/brief-engine/pkg/types"
)

// Neutral is the factor value used when an item lacks the fields a factor needs.
const Neutral = 0.5

// Caps bound the size of a brief.
type Caps struct {
	MaxHighlights     int
	MaxItemsPerModule int
	MaxTotalItems     int
}

// DefaultCaps returns 3 highlights, 5 items per module and 20 in total.
func DefaultCaps() Caps {
	return Caps{MaxHighlights: 3, MaxItemsPerModule: 5, MaxTotalItems: 20}
}

// Weights combine the factors into the final score. They must be
// non-negative and sum to 1.
type Weights struct {
	Relevance     float64
	Urgency       float64
	Credibility   float64
	Impact        float64
	Actionability float64
}

// DefaultWeights returns .30/.25/.15/.15/.15.
func DefaultWeights() Weights {
	return Weights{Relevance: 0.30, Urgency: 0.25, Credibility: 0.15, Impact: 0.15, Actionability: 0.15}
}

// Validate checks the weights form a convex combination.
func (w Weights) Validate() error {
	return config.WeightsConfig(w).Validate()
}

// Combine returns the weighted sum of the factors, clamped to [0,1].
func (w Weights) Combine(s types.RankingScores) float64 {
	f := w.Relevance*s.Relevance +
		w.Urgency*s.Urgency +
		w.Credibility*s.Credibility +
		w.Impact*s.Impact +
		w.Actionability*s.Actionability
	return clamp(f)
}

// FromConfig converts the ranking section of the configuration.
func FromConfig(cfg config.RankingConfig) (Caps, Weights, []Option) {
	caps := Caps{
		MaxHighlights:     cfg.MaxHighlights,
		MaxItemsPerModule: cfg.MaxItemsPerModule,
		MaxTotalItems:     cfg.MaxTotalItems,
	}
	opts := []Option{WithModules(cfg.Modules), WithTrustedSources(cfg.TrustedSources)}
	return caps, Weights(cfg.Weights), opts
}

// Option customizes a Ranker.
type Option func(*Ranker)

// WithClock overrides the time source used by urgency scoring.
func WithClock(now func() time.Time) Option {
	return func(r *Ranker) { r.now = now }
}

// WithModules sets the source to module map. Unmapped sources fall back to
// the item type.
func WithModules(m map[string]string) Option {
	return func(r *Ranker) {
		r.modules = make(map[string]string, len(m))
		for k, v := range m {
			r.modules[strings.ToLower(k)] = v
		}
	}
}

// WithTrustedSources marks sources whose items get a credibility boost.
func WithTrustedSources(sources []string) Option {
	return func(r *Ranker) {
		r.trusted = make(map[string]bool, len(sources))
		for _, s := range sources {
			r.trusted[strings.ToLower(s)] = true
		}
	}
}

// Ranker scores and orders items for one user.
type Ranker struct {
	prefs   types.UserPreferences
	caps    Caps
	weights Weights
	modules map[string]string
	trusted map[string]bool
	now     func() time.Time

	interests []interest
	vips      map[string]float64
}

type interest struct {
	name   string
	terms  []string
	weight float64
}

// NewRanker validates caps and weights and indexes the user's preferences.
func NewRanker(prefs types.UserPreferences, caps Caps, weights Weights, opts ...Option) (*Ranker, error) {
	if caps.MaxHighlights < 0 || caps.MaxItemsPerModule < 0 || caps.MaxTotalItems < 0 {
		return nil, errors.New("caps must be >= 0")
	}
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("ranking weights: %w", err)
	}
	r := &Ranker{
		prefs:   prefs,
		caps:    caps,
		weights: weights,
		modules: map[string]string{},
		trusted: map[string]bool{},
		now:     func() time.Time { return time.Now().UTC() },
		vips:    map[string]float64{},
	}
	for _, o := range opts {
		o(r)
	}

	// A name that is both a topic and a project counts once, at its higher weight.
	index := map[string]int{}
	addInterests := func(names []string, weights map[string]float64) {
		for _, name := range names {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			w, ok := weights[name]
			if !ok {
				w = 1
			}
			if i, dup := index[key]; dup {
				r.interests[i].weight = math.Max(r.interests[i].weight, w)
				continue
			}
			index[key] = len(r.interests)
			r.interests = append(r.interests, interest{name: key, terms: tokenize(key), weight: w})
		}
	}
	addInterests(prefs.Topics, prefs.TopicWeights)
	addInterests(prefs.Projects, prefs.ProjectWeights)
	for _, v := range prefs.VIPPeople {
		w, ok := prefs.VIPWeights[v]
		if !ok {
			w = 1
		}
		r.vips[strings.ToLower(strings.TrimSpace(v))] = w
	}
	return r, nil
}

// Caps returns the ranker's caps.
func (r *Ranker) Caps() Caps { return r.caps }

// Score computes all factors and the final score for one item.
func (r *Ranker) Score(item types.BriefItem) types.RankingScores {
	now := r.now()
	s := types.RankingScores{
		Relevance:     r.relevance(item),
		Urgency:       urgency(item, now),
		Credibility:   r.credibility(item),
		Impact:        impact(item),
		Actionability: actionability(item),
	}
	s.Final = r.weights.Combine(s)
	return s
}

// RankItems scores every item and returns copies ordered by final score,
// then by newer timestamp, then by input order.
func (r *Ranker) RankItems(items []types.BriefItem) []types.BriefItem {
	out := make([]types.BriefItem, len(items))
	for i, item := range items {
		s := r.Score(item)
		item.Ranking = &s
		out[i] = item
	}
	SortRanked(out)
	return out
}

// SortRanked orders already scored items in place with the ranking
// tie-breaks. Unscored items sort as if their final score were 0.
func SortRanked(items []types.BriefItem) {
	sort.SliceStable(items, func(i, j int) bool {
		fi, fj := finalOf(items[i]), finalOf(items[j])
		if fi != fj {
			return fi > fj
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
}

// ModuleOf names the brief section an item belongs to.
func (r *Ranker) ModuleOf(item types.BriefItem) string {
	if m, ok := r.modules[strings.ToLower(item.Source)]; ok && m != "" {
		return m
	}
	if item.Type != "" {
		return strings.ToLower(item.Type)
	}
	return "other"
}

func finalOf(item types.BriefItem) float64 {
	if item.Ranking == nil {
		return 0
	}
	return item.Ranking.Final
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return Neutral
	}
	return math.Max(0, math.Min(1, v))
}
