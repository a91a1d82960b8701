package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	t.Parallel()
	got := ExpandPath("~/brief.db")
	if got == "~/brief.db" {
		t.Fatalf("expected home-expanded path, got %q", got)
	}
	if !strings.Contains(got, "brief.db") {
		t.Fatalf("expected expanded path to contain file name, got %q", got)
	}
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 1.0, cfg.Ranking.Weights.Sum(), 1e-9)
}

func TestWeightsValidate_RejectsNonConvex(t *testing.T) {
	t.Parallel()
	w := Default().Ranking.Weights
	w.Relevance = 0.5
	require.Error(t, w.Validate())

	w = Default().Ranking.Weights
	w.Impact = -0.15
	w.Relevance = 0.60
	require.Error(t, w.Validate())
}

func TestLoad_MergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brief-engine.yaml")
	body := `
db_path: ` + filepath.Join(dir, "brief.db") + `
env_file: ""
novelty:
  semantic_threshold: 0.9
  lookback_days: 7
  lookback_items: 50
ranking:
  max_highlights: 4
  max_items_per_module: 6
  max_total_items: 25
  weights:
    relevance: 0.2
    urgency: 0.2
    credibility: 0.2
    impact: 0.2
    actionability: 0.2
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("BRIEF_EMBED_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Novelty.SemanticThreshold)
	assert.Equal(t, 4, cfg.Ranking.MaxHighlights)
	assert.Equal(t, 0.2, cfg.Ranking.Weights.Urgency)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, 5, cfg.Consolidation.MinEvents, "unset sections keep defaults")
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("BRIEF_EMBED_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "brief-engine", cfg.ServerName)
	assert.Empty(t, cfg.Embedding.APIKey)
}
