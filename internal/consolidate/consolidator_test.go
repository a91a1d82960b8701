package consolidate

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiy/brief-engine/internal/store"
	"github.com/xiy/brief-engine/pkg/types"
)

var base = time.Date(2026, 10, 10, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*store.SQLiteStore, *Consolidator) {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "brief.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, New(st, DefaultOptions(), logger)
}

func feed(t *testing.T, st *store.SQLiteStore, userID string, n int, typ types.FeedbackType, payload map[string]any) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, st.InsertFeedback(context.Background(), types.FeedbackEvent{
			UserID:    userID,
			ItemID:    "item",
			EventType: typ,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Payload:   payload,
		}))
	}
}

func events(n int, typ types.FeedbackType, payload map[string]any) []types.FeedbackEvent {
	out := make([]types.FeedbackEvent, n)
	for i := range out {
		out[i] = types.FeedbackEvent{UserID: "u1", EventType: typ, CreatedAt: base, Payload: payload}
	}
	return out
}

func TestConsolidateAllUsers_SkipsUsersBelowMinEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, c := setup(t)
	feed(t, st, "few", 3, types.FeedbackThumbUp, map[string]any{"topic": "go"})
	feed(t, st, "many", 6, types.FeedbackThumbUp, map[string]any{"topic": "go"})

	results, err := c.ConsolidateAllUsers(ctx, base.Add(-time.Hour), 5)
	require.NoError(t, err)
	_, ok := results["few"]
	assert.False(t, ok, "users without enough data are absent, not zero")
	require.Contains(t, results, "many")
	assert.Equal(t, 6, results["many"].EventsProcessed)
	assert.Equal(t, 1, results["many"].TopicsAdded)
}

func TestConsolidateAllUsers_PromotesProject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, c := setup(t)
	feed(t, st, "u1", 10, types.FeedbackThumbUp, map[string]any{"entities": []any{"project:alpha"}})

	results, err := c.ConsolidateAllUsers(ctx, base.Add(-time.Hour), 5)
	require.NoError(t, err)
	res, ok := results["u1"]
	require.True(t, ok)
	assert.Contains(t, res.PreferencesAfter.Projects, "alpha")
	assert.GreaterOrEqual(t, res.ProjectsAdded, 1)

	prefs, err := st.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, prefs.Projects)

	runs, err := st.RecentConsolidationRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "u1", runs[0].UserID)
	assert.Equal(t, 10, runs[0].EventsProcessed)
}

func TestConsolidateUser_SingleEventDoesNotPromote(t *testing.T) {
	t.Parallel()
	_, c := setup(t)
	res, err := c.ConsolidateUser(context.Background(), "u1", events(1, types.FeedbackThumbUp, map[string]any{"sender": "a@x.io"}))
	require.NoError(t, err)
	assert.Zero(t, res.VIPsAdded)
	assert.Empty(t, res.PreferencesAfter.VIPPeople)
}

func TestConsolidateUser_OpensNeedRepetition(t *testing.T) {
	t.Parallel()
	_, c := setup(t)
	// With OpenWeight 0.34, eight opens fall short of MinPositive 3 and nine reach it.
	res, err := c.ConsolidateUser(context.Background(), "u1", events(8, types.FeedbackOpen, map[string]any{"topics": []any{"rust"}}))
	require.NoError(t, err)
	assert.Zero(t, res.TopicsAdded)

	res, err = c.ConsolidateUser(context.Background(), "u1", events(9, types.FeedbackOpen, map[string]any{"topics": []any{"rust"}}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.TopicsAdded)
	assert.Equal(t, []string{"rust"}, res.PreferencesAfter.Topics)
}

func TestConsolidateUser_SkipsMalformedPayloads(t *testing.T) {
	t.Parallel()
	_, c := setup(t)
	evs := events(4, types.FeedbackSave, map[string]any{"project": "beta"})
	evs = append(evs,
		types.FeedbackEvent{UserID: "u1", EventType: types.FeedbackSave},
		types.FeedbackEvent{UserID: "u1", EventType: types.FeedbackSave, Payload: map[string]any{"entities": "project:beta"}},
		types.FeedbackEvent{UserID: "u1", EventType: "star", Payload: map[string]any{"project": "beta"}},
	)
	res, err := c.ConsolidateUser(context.Background(), "u1", evs)
	require.NoError(t, err)
	assert.Equal(t, 4, res.EventsProcessed)
	assert.Equal(t, 3, res.EventsSkipped)
	assert.Equal(t, 1, res.ProjectsAdded)
}

func TestConsolidateUser_NegativeSignalReweightsAndRemoves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, c := setup(t)
	require.NoError(t, st.SavePreferences(ctx, types.UserPreferences{
		UserID:       "u1",
		Topics:       []string{"crypto", "go"},
		VIPPeople:    []string{"boss@x.io"},
		TopicWeights: map[string]float64{"crypto": 0.15, "go": 1.0},
		VIPWeights:   map[string]float64{"boss@x.io": 0.1},
	}, base))

	// One thumb_down is not sustained signal.
	res, err := c.ConsolidateUser(ctx, "u1", events(1, types.FeedbackThumbDown, map[string]any{"topic": "go"}))
	require.NoError(t, err)
	assert.Zero(t, res.TopicsUpdated)
	assert.Equal(t, 1.0, res.PreferencesAfter.TopicWeights["go"])

	var evs []types.FeedbackEvent
	evs = append(evs, events(3, types.FeedbackThumbDown, map[string]any{"topic": "go"})...)
	evs = append(evs, events(3, types.FeedbackLessLikeThis, map[string]any{"topic": "crypto"})...)
	evs = append(evs, events(4, types.FeedbackThumbDown, map[string]any{"sender": "Boss@x.io"})...)
	res, err = c.ConsolidateUser(ctx, "u1", evs)
	require.NoError(t, err)

	after := res.PreferencesAfter
	assert.Equal(t, []string{"go"}, after.Topics)
	assert.InDelta(t, 0.9, after.TopicWeights["go"], 1e-9)
	assert.Equal(t, 1, res.TopicsRemoved)
	assert.Equal(t, []string{"boss@x.io"}, after.VIPPeople, "VIPs are clamped, never removed")
	assert.InDelta(t, 0.1, after.VIPWeights["boss@x.io"], 1e-9)
}

func TestConsolidateUser_ProjectDoesNotClobberSameNamedTopic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, c := setup(t)
	require.NoError(t, st.SavePreferences(ctx, types.UserPreferences{
		UserID:       "u1",
		Topics:       []string{"atlas"},
		TopicWeights: map[string]float64{"atlas": 0.5},
	}, base))

	res, err := c.ConsolidateUser(ctx, "u1", events(6, types.FeedbackThumbUp, map[string]any{"project": "Atlas"}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProjectsAdded)

	prefs, err := st.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"atlas"}, prefs.Topics)
	assert.Equal(t, []string{"atlas"}, prefs.Projects)
	assert.Equal(t, 0.5, prefs.TopicWeights["atlas"])
	assert.Contains(t, prefs.ProjectWeights, "atlas")
}

func TestConsolidateUser_SourceWeights(t *testing.T) {
	t.Parallel()
	_, c := setup(t)
	var evs []types.FeedbackEvent
	evs = append(evs, events(3, types.FeedbackSave, map[string]any{"source": "arxiv"})...)
	evs = append(evs, events(3, types.FeedbackDismiss, map[string]any{"source": "reddit"})...)
	evs = append(evs, events(3, types.FeedbackThumbDown, map[string]any{"source": "reddit"})...)

	res, err := c.ConsolidateUser(context.Background(), "u1", evs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SourcesUpdated)
	assert.InDelta(t, 1.1, res.PreferencesAfter.SourceWeights["arxiv"], 1e-9)
	assert.InDelta(t, 0.9, res.PreferencesAfter.SourceWeights["reddit"], 1e-9)
}

func TestKeysOf_PayloadShapes(t *testing.T) {
	t.Parallel()
	keys, err := keysOf(types.FeedbackEvent{EventType: types.FeedbackOpen, Payload: map[string]any{
		"entities": []any{"project:Alpha", map[string]any{"kind": "person", "key": "a@x.io"}, "golang", "weird:thing"},
		"source":   "gmail",
	}})
	require.NoError(t, err)
	var got []string
	for _, k := range keys {
		got = append(got, k.String())
	}
	assert.Equal(t, []string{"project:alpha", "vip:a@x.io", "topic:golang", "source:gmail"}, got)
}
