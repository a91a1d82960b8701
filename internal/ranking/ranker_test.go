package ranking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiy/brief-engine/internal/config"
	"github.com/xiy/brief-engine/pkg/types"
)

var now = time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

func newRanker(t *testing.T, prefs types.UserPreferences, caps Caps) *Ranker {
	t.Helper()
	_, _, opts := FromConfig(config.Default().Ranking)
	opts = append(opts, WithClock(func() time.Time { return now }))
	r, err := NewRanker(prefs, caps, DefaultWeights(), opts...)
	require.NoError(t, err)
	return r
}

func scored(ref string, final float64, ts time.Time) types.BriefItem {
	return types.BriefItem{ItemRef: ref, Timestamp: ts, Ranking: &types.RankingScores{Final: final}}
}

func refs(items []types.BriefItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ItemRef)
	}
	return out
}

func TestNewRanker_RejectsBadWeights(t *testing.T) {
	t.Parallel()
	w := DefaultWeights()
	w.Relevance = 0.5
	_, err := NewRanker(types.UserPreferences{}, DefaultCaps(), w)
	require.Error(t, err)

	w = DefaultWeights()
	w.Impact, w.Actionability = -0.05, 0.35
	_, err = NewRanker(types.UserPreferences{}, DefaultCaps(), w)
	require.Error(t, err)
}

func TestWeights_CombineIsLinear(t *testing.T) {
	t.Parallel()
	s := types.RankingScores{Relevance: 1, Urgency: 0.5, Credibility: 0, Impact: 1, Actionability: 0.2}
	got := DefaultWeights().Combine(s)
	assert.InDelta(t, 0.30+0.125+0+0.15+0.03, got, 1e-9)
	assert.Equal(t, got, DefaultWeights().Combine(s))
}

func TestSortRanked_DeterministicWithTieBreaks(t *testing.T) {
	t.Parallel()
	items := []types.BriefItem{
		scored("a", 0.5, now.Add(-2*time.Hour)),
		scored("b", 0.9, now.Add(-5*time.Hour)),
		scored("c", 0.5, now.Add(-1*time.Hour)),
		scored("d", 0.5, now.Add(-1*time.Hour)),
		scored("e", 0.7, now),
	}
	first := append([]types.BriefItem(nil), items...)
	SortRanked(first)
	assert.Equal(t, []string{"b", "e", "c", "d", "a"}, refs(first))

	for i := 0; i < 20; i++ {
		again := append([]types.BriefItem(nil), items...)
		SortRanked(again)
		assert.Equal(t, refs(first), refs(again))
	}
}

func TestSelectTopHighlights_Caps(t *testing.T) {
	t.Parallel()
	var ten []types.BriefItem
	for i := 0; i < 10; i++ {
		ten = append(ten, scored(fmt.Sprint(i), 1-float64(i)/10, now))
	}
	got := SelectTopHighlights(ten, 3)
	assert.Equal(t, []string{"0", "1", "2"}, refs(got))

	two := ten[:2]
	assert.Len(t, SelectTopHighlights(two, 3), 2)
	assert.Empty(t, SelectTopHighlights(ten, 0))
}

func TestScore_NeutralDefaultsForBareItem(t *testing.T) {
	t.Parallel()
	r := newRanker(t, types.UserPreferences{}, DefaultCaps())
	s := r.Score(types.BriefItem{ItemRef: "bare"})
	assert.Equal(t, Neutral, s.Relevance)
	assert.Equal(t, Neutral, s.Urgency)
	assert.Equal(t, Neutral, s.Credibility)
	assert.Equal(t, Neutral, s.Impact)
	assert.Equal(t, Neutral, s.Actionability)
	assert.InDelta(t, Neutral, s.Final, 1e-9)
}

func TestScore_ProjectWeightsApplyToProjects(t *testing.T) {
	t.Parallel()
	item := types.BriefItem{Title: "Atlas rollout"}

	project := newRanker(t, types.UserPreferences{
		Projects:       []string{"atlas"},
		TopicWeights:   map[string]float64{"atlas": 2},
		ProjectWeights: map[string]float64{"atlas": 0.5},
	}, DefaultCaps())
	assert.InDelta(t, 0.55, project.Score(item).Relevance, 1e-9)

	both := newRanker(t, types.UserPreferences{
		Topics:         []string{"atlas"},
		Projects:       []string{"atlas"},
		TopicWeights:   map[string]float64{"atlas": 0.5},
		ProjectWeights: map[string]float64{"atlas": 1},
	}, DefaultCaps())
	assert.InDelta(t, 0.7, both.Score(item).Relevance, 1e-9, "shared name counts once at its higher weight")
}

func TestScore_Factors(t *testing.T) {
	t.Parallel()
	prefs := types.UserPreferences{
		Topics:        []string{"machine learning"},
		Projects:      []string{"alpha"},
		VIPPeople:     []string{"ceo@example.com"},
		SourceWeights: map[string]float64{"reddit": 0.5},
	}
	r := newRanker(t, prefs, DefaultCaps())

	t.Run("relevance", func(t *testing.T) {
		hit := r.Score(types.BriefItem{Title: "Machine learning for project alpha"})
		one := r.Score(types.BriefItem{Title: "Alpha launch notes"})
		miss := r.Score(types.BriefItem{Title: "Lunch menu"})
		assert.Greater(t, hit.Relevance, one.Relevance)
		assert.Greater(t, one.Relevance, miss.Relevance)
		assert.LessOrEqual(t, hit.Relevance, 1.0)

		byEntity := r.Score(types.BriefItem{Title: "Status", Entities: []types.Entity{{Kind: "project", Key: "Alpha"}}})
		assert.Equal(t, one.Relevance, byEntity.Relevance)
	})

	t.Run("urgency", func(t *testing.T) {
		soon := r.Score(types.BriefItem{Type: "meeting", Metadata: map[string]any{"start_time": now.Add(30 * time.Minute)}})
		later := r.Score(types.BriefItem{Type: "meeting", Metadata: map[string]any{"start_time": now.Add(72 * time.Hour).Format(time.RFC3339)}})
		overdue := r.Score(types.BriefItem{Type: "task", Metadata: map[string]any{"due": "2026-10-01"}})
		info := r.Score(types.BriefItem{Title: "FYI", Timestamp: now.Add(-72 * time.Hour)})
		assert.Equal(t, 1.0, soon.Urgency)
		assert.Less(t, later.Urgency, 0.05)
		assert.Equal(t, 0.95, overdue.Urgency)
		assert.Equal(t, 0.1, info.Urgency)
	})

	t.Run("credibility", func(t *testing.T) {
		vip := r.Score(types.BriefItem{Source: "gmail", Metadata: map[string]any{"sender": "CEO@example.com"}})
		trusted := r.Score(types.BriefItem{Source: "gmail", Metadata: map[string]any{"sender": "someone@example.com"}})
		generic := r.Score(types.BriefItem{Source: "rss"})
		downweighted := r.Score(types.BriefItem{Source: "reddit"})
		assert.Greater(t, vip.Credibility, trusted.Credibility)
		assert.Greater(t, trusted.Credibility, generic.Credibility)
		assert.InDelta(t, 0.2, downweighted.Credibility, 1e-9)
	})

	t.Run("impact", func(t *testing.T) {
		money := r.Score(types.BriefItem{Title: "Invoice for $12,500 attached"})
		big := r.Score(types.BriefItem{Title: "All hands", Metadata: map[string]any{"attendee_count": 40}})
		urgent := r.Score(types.BriefItem{Title: "URGENT: production outage"})
		plain := r.Score(types.BriefItem{Title: "Photos from the weekend"})
		assert.Greater(t, money.Impact, plain.Impact)
		assert.Greater(t, big.Impact, plain.Impact)
		assert.Greater(t, urgent.Impact, plain.Impact)
	})

	t.Run("actionability", func(t *testing.T) {
		ask := r.Score(types.BriefItem{Type: "email", Title: "Please approve the Q4 budget"})
		news := r.Score(types.BriefItem{Type: "email", Title: "Weekly digest", Summary: "Click to unsubscribe"})
		design := r.Score(types.BriefItem{Type: "email", Title: "New design mockups"})
		assert.Equal(t, 0.8, ask.Actionability)
		assert.Equal(t, 0.1, news.Actionability)
		assert.Equal(t, 0.3, design.Actionability)
	})
}

func TestRankItems_ReturnsScoredCopies(t *testing.T) {
	t.Parallel()
	r := newRanker(t, types.UserPreferences{Projects: []string{"alpha"}}, DefaultCaps())
	items := []types.BriefItem{
		{ItemRef: "news", Source: "rss", Title: "Weekly digest", Timestamp: now},
		{ItemRef: "task", Source: "todoist", Type: "task", Title: "Approve alpha launch", Metadata: map[string]any{"due": now.Add(2 * time.Hour)}},
	}
	ranked := r.RankItems(items)
	assert.Equal(t, []string{"task", "news"}, refs(ranked))
	require.NotNil(t, ranked[0].Ranking)
	assert.Nil(t, items[1].Ranking, "inputs are not modified")
	assert.Equal(t, refs(ranked), refs(r.RankItems(items)))
}

func TestAssemble_AppliesCapsWithoutDroppingHighlights(t *testing.T) {
	t.Parallel()
	caps := Caps{MaxHighlights: 2, MaxItemsPerModule: 2, MaxTotalItems: 4}
	r := newRanker(t, types.UserPreferences{}, caps)

	var items []types.BriefItem
	for i := 0; i < 4; i++ {
		items = append(items,
			types.BriefItem{ItemRef: fmt.Sprintf("mail-%d", i), Source: "gmail", Type: "email", Title: "note", Timestamp: now.Add(-time.Duration(i) * time.Minute)},
			types.BriefItem{ItemRef: fmt.Sprintf("cal-%d", i), Source: "gcal", Type: "meeting", Title: "sync", Metadata: map[string]any{"start_time": now.Add(time.Duration(30+i*60) * time.Minute)}},
		)
	}
	sel := r.Assemble(items)

	require.Len(t, sel.Highlights, 2)
	assert.Equal(t, []string{"cal-0", "cal-1"}, refs(sel.Highlights))
	assert.Len(t, sel.Items, 4)
	assert.Equal(t, refs(sel.Highlights), refs(sel.Items[:2]))
	for m, its := range sel.Modules {
		assert.LessOrEqual(t, len(its), caps.MaxItemsPerModule, m)
		for _, it := range its {
			assert.NotContains(t, refs(sel.Highlights), it.ItemRef)
		}
	}
	assert.Equal(t, len(items)-4, sel.Dropped)
}

func TestAssemble_TiesAcrossModulesKeepInputOrder(t *testing.T) {
	t.Parallel()
	r := newRanker(t, types.UserPreferences{}, Caps{MaxHighlights: 0, MaxItemsPerModule: 5, MaxTotalItems: 10})
	paper := types.BriefItem{ItemRef: "paper", Source: "arxiv", Type: "paper", Title: "weekly note", Timestamp: now}
	mail := types.BriefItem{ItemRef: "mail", Source: "gmail", Type: "email", Title: "weekly note", Timestamp: now}

	sel := r.Assemble([]types.BriefItem{paper, mail})
	require.Equal(t, sel.Items[0].Ranking.Final, sel.Items[1].Ranking.Final)
	assert.Equal(t, []string{"paper", "mail"}, refs(sel.Items))

	sel = r.Assemble([]types.BriefItem{mail, paper})
	assert.Equal(t, []string{"mail", "paper"}, refs(sel.Items))
	assert.Equal(t, []string{"paper"}, refs(sel.Modules["papers"]))
}

func TestSelectItemsPerModule_TruncatesAndRanks(t *testing.T) {
	t.Parallel()
	r := newRanker(t, types.UserPreferences{}, Caps{MaxHighlights: 1, MaxItemsPerModule: 2, MaxTotalItems: 10})
	items := []types.BriefItem{
		scored("old", 0.4, now.Add(-time.Hour)),
		scored("top", 0.8, now),
		scored("new", 0.4, now),
		{ItemRef: "other", Source: "gcal", Ranking: &types.RankingScores{Final: 0.99}},
	}
	for i := range items[:3] {
		items[i].Source = "gmail"
	}
	got := r.SelectItemsPerModule(items, "email")
	assert.Equal(t, []string{"top", "new"}, refs(got))
}
