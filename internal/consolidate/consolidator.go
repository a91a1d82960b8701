// Package consolidate learns user preferences from accumulated feedback.
package consolidate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xiy/brief-engine/internal/config"
	"github.com/xiy/brief-engine/internal/store"
	"github.com/xiy/brief-engine/pkg/types"
)

// Options are the promotion and reweighting thresholds. Signal units: a
// thumb_up or save is 1 positive, an open is OpenWeight positive, a
// thumb_down or less_like_this is 1 negative and a dismiss is 0.5 negative.
type Options struct {
	// MinPositive is the positive signal a new key needs to be promoted.
	MinPositive float64
	// MinPositiveRatio is the share of positive signal required for promotion
	// or an upward reweight.
	MinPositiveRatio float64
	// MinNegative is the negative signal needed before a weight is lowered.
	MinNegative float64
	OpenWeight  float64
	WeightStep  float64
	MinWeight   float64
	MaxWeight   float64
	Concurrency int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Consolidation)
}

// OptionsFromConfig converts the consolidation section of the configuration.
func OptionsFromConfig(cfg config.ConsolidationConfig) Options {
	return Options{
		MinPositive:      cfg.MinPositive,
		MinPositiveRatio: cfg.MinPositiveRatio,
		MinNegative:      cfg.MinNegative,
		OpenWeight:       cfg.OpenWeight,
		WeightStep:       cfg.WeightStep,
		MinWeight:        cfg.MinWeight,
		MaxWeight:        cfg.MaxWeight,
		Concurrency:      cfg.Concurrency,
	}
}

// Store is the persistence the consolidator needs.
type Store interface {
	store.FeedbackStore
	store.PreferenceStore
}

// Consolidator turns feedback history into preference updates.
type Consolidator struct {
	store  Store
	opts   Options
	logger *log.Logger
	now    func() time.Time
}

// New returns a Consolidator.
func New(st Store, opts Options, logger *log.Logger) *Consolidator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Consolidator{
		store:  st,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ConsolidateAllUsers consolidates every user with at least minEvents events
// since the given time. Users below the threshold, and users whose
// consolidation failed, are absent from the result.
func (c *Consolidator) ConsolidateAllUsers(ctx context.Context, since time.Time, minEvents int) (map[string]types.ConsolidationResult, error) {
	users, err := c.store.FeedbackUsers(ctx, since, minEvents)
	if err != nil {
		return nil, fmt.Errorf("list feedback users: %w", err)
	}

	var mu sync.Mutex
	results := make(map[string]types.ConsolidationResult, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			events, err := c.store.FeedbackForUser(gctx, userID, since)
			if err != nil {
				c.logger.Error("load feedback failed", "user", userID, "err", err)
				return nil
			}
			if len(events) < minEvents {
				return nil
			}
			res, err := c.ConsolidateUser(gctx, userID, events)
			if err != nil {
				c.logger.Error("consolidation failed", "user", userID, "err", err)
				return nil
			}
			mu.Lock()
			results[userID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}

	c.logger.Info("consolidation finished", "candidates", len(users), "consolidated", len(results))
	return results, nil
}

// ConsolidateUser applies one user's events to their stored preferences,
// saves the result and logs the run.
func (c *Consolidator) ConsolidateUser(ctx context.Context, userID string, events []types.FeedbackEvent) (types.ConsolidationResult, error) {
	started := c.now()
	res := types.ConsolidationResult{UserID: userID}

	tallies := map[key]*tally{}
	for _, ev := range events {
		keys, err := keysOf(ev)
		if err != nil {
			res.EventsSkipped++
			c.logger.Warn("skipping feedback event", "user", userID, "event", ev.ID, "err", err)
			continue
		}
		res.EventsProcessed++
		pos, neg := c.opts.signal(ev.EventType)
		for _, k := range keys {
			t := tallies[k]
			if t == nil {
				t = &tally{}
				tallies[k] = t
			}
			t.positive += pos
			t.negative += neg
			t.events++
		}
	}

	prefs, err := c.store.GetPreferences(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("load preferences: %w", err)
	}
	sets := newPreferenceSets(prefs)

	for _, k := range sortedKeys(tallies) {
		c.apply(&res, sets, k, *tallies[k])
	}

	after := sets.preferences(userID)
	if err := c.store.SavePreferences(ctx, after, c.now()); err != nil {
		return res, fmt.Errorf("save preferences: %w", err)
	}
	res.PreferencesAfter = after

	run := store.ConsolidationRun{
		ID:              uuid.NewString(),
		UserID:          userID,
		StartedAt:       started,
		EventsProcessed: res.EventsProcessed,
		Result:          res,
	}
	if err := c.store.InsertConsolidationRun(ctx, run); err != nil {
		// The preferences are already saved; a missing log row is not fatal.
		c.logger.Warn("log consolidation run failed", "user", userID, "err", err)
	}

	c.logger.Debug("user consolidated",
		"user", userID,
		"events", res.EventsProcessed,
		"skipped", res.EventsSkipped,
		"topics_added", res.TopicsAdded,
		"projects_added", res.ProjectsAdded,
		"vips_added", res.VIPsAdded,
		"sources_updated", res.SourcesUpdated,
	)
	return res, nil
}

func (c *Consolidator) apply(res *types.ConsolidationResult, sets *preferenceSets, k key, t tally) {
	o := c.opts
	promote := t.positive >= o.MinPositive && t.ratio() >= o.MinPositiveRatio
	demote := t.negative >= o.MinNegative && t.negative > t.positive

	if k.kind == store.KindSource {
		w, ok := sets.sources[k.name]
		if !ok {
			w = 1
		}
		next := w
		switch {
		case promote:
			next = c.clampWeight(w + o.WeightStep)
		case demote:
			next = c.clampWeight(w - o.WeightStep)
		}
		if next != w || (!ok && (promote || demote)) {
			sets.sources[k.name] = next
			res.SourcesUpdated++
		}
		return
	}

	weights := sets.weights(k.kind)
	w, present := weights[k.name]
	switch {
	case !present && promote:
		weights[k.name] = 1
		switch k.kind {
		case store.KindTopic:
			res.TopicsAdded++
		case store.KindProject:
			res.ProjectsAdded++
		case store.KindVIP:
			res.VIPsAdded++
		}
	case present && promote:
		if next := c.clampWeight(w + o.WeightStep); next != w {
			weights[k.name] = next
			res.TopicsUpdated++
		}
	case present && demote:
		next := w - o.WeightStep
		if next < o.MinWeight && k.kind != store.KindVIP {
			delete(weights, k.name)
			res.TopicsRemoved++
			return
		}
		if next = c.clampWeight(next); next != w {
			weights[k.name] = next
			res.TopicsUpdated++
		}
	}
}

func (c *Consolidator) clampWeight(w float64) float64 {
	w = math.Round(w*1000) / 1000
	return math.Max(c.opts.MinWeight, math.Min(c.opts.MaxWeight, w))
}

// preferenceSets is a mutable view of UserPreferences keyed by kind.
type preferenceSets struct {
	topics   map[string]float64
	projects map[string]float64
	vips     map[string]float64
	sources  map[string]float64
}

func newPreferenceSets(p types.UserPreferences) *preferenceSets {
	s := &preferenceSets{
		topics:   map[string]float64{},
		projects: map[string]float64{},
		vips:     map[string]float64{},
		sources:  map[string]float64{},
	}
	fill := func(dst map[string]float64, names []string, weights map[string]float64) {
		for _, n := range names {
			w, ok := weights[n]
			if !ok {
				w = 1
			}
			dst[n] = w
		}
	}
	fill(s.topics, p.Topics, p.TopicWeights)
	fill(s.projects, p.Projects, p.ProjectWeights)
	fill(s.vips, p.VIPPeople, p.VIPWeights)
	for k, w := range p.SourceWeights {
		s.sources[k] = w
	}
	return s
}

func (s *preferenceSets) weights(kind string) map[string]float64 {
	switch kind {
	case store.KindTopic:
		return s.topics
	case store.KindProject:
		return s.projects
	case store.KindVIP:
		return s.vips
	}
	return s.topics
}

func (s *preferenceSets) preferences(userID string) types.UserPreferences {
	p := types.UserPreferences{
		UserID:         userID,
		Topics:         names(s.topics),
		Projects:       names(s.projects),
		VIPPeople:      names(s.vips),
		TopicWeights:   map[string]float64{},
		ProjectWeights: map[string]float64{},
		VIPWeights:     map[string]float64{},
		SourceWeights:  map[string]float64{},
	}
	for k, w := range s.topics {
		p.TopicWeights[k] = w
	}
	for k, w := range s.projects {
		p.ProjectWeights[k] = w
	}
	for k, w := range s.vips {
		p.VIPWeights[k] = w
	}
	for k, w := range s.sources {
		p.SourceWeights[k] = w
	}
	return p
}

func names(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
