package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiy/brief-engine/pkg/types"
)

func mem(fp string, v []float32, seen time.Time) types.ItemMemory {
	return types.ItemMemory{Fingerprint: fp, Embedding: v, LastSeenAt: seen}
}

func TestFindDuplicate_BestAboveThreshold(t *testing.T) {
	t.Parallel()
	now := time.Now()
	d := New(0.85)
	cands := []types.ItemMemory{
		mem("fp_far", []float32{0, 1}, now),
		mem("fp_close", []float32{1, 0.1}, now),
		mem("fp_exact", []float32{2, 0}, now.Add(-time.Hour)),
	}
	m, ok := d.FindDuplicate([]float32{1, 0}, cands, "")
	require.True(t, ok)
	assert.Equal(t, "fp_exact", m.Item.Fingerprint)
	assert.InDelta(t, 1.0, m.Similarity, 1e-9)
}

func TestFindDuplicate_BelowThresholdIsNoMatch(t *testing.T) {
	t.Parallel()
	d := New(0.85)
	_, ok := d.FindDuplicate([]float32{1, 0}, []types.ItemMemory{mem("fp", []float32{1, 1}, time.Now())}, "")
	assert.False(t, ok)
}

func TestFindDuplicate_TieGoesToMostRecent(t *testing.T) {
	t.Parallel()
	now := time.Now()
	d := New(0.9)
	cands := []types.ItemMemory{
		mem("fp_old", []float32{1, 0}, now.Add(-48*time.Hour)),
		mem("fp_new", []float32{3, 0}, now),
		mem("fp_mid", []float32{2, 0}, now.Add(-time.Hour)),
	}
	m, ok := d.FindDuplicate([]float32{1, 0}, cands, "")
	require.True(t, ok)
	assert.Equal(t, "fp_new", m.Item.Fingerprint)
}

func TestFindDuplicate_SkipsUnusableCandidates(t *testing.T) {
	t.Parallel()
	d := New(0.5)
	cands := []types.ItemMemory{
		mem("fp_self", []float32{1, 0}, time.Now()),
		mem("fp_nil", nil, time.Now()),
		mem("fp_dim", []float32{1, 0, 0}, time.Now()),
	}
	_, ok := d.FindDuplicate([]float32{1, 0}, cands, "fp_self")
	assert.False(t, ok)

	_, ok = d.FindDuplicate([]float32{0, 0}, []types.ItemMemory{mem("fp", []float32{0, 0}, time.Now())}, "")
	assert.False(t, ok, "zero vectors never match")
}

func TestNew_DefaultsThreshold(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultThreshold, New(0).Threshold)
	assert.Equal(t, 0.9, New(0.9).Threshold)
}
