package memory

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiy/brief-engine/internal/config"
	"github.com/xiy/brief-engine/internal/store"
	"github.com/xiy/brief-engine/pkg/types"
)

type fakeStore struct {
	upserts   []types.RecordInput
	recentArg time.Time
	limitArg  int
}

func (f *fakeStore) UpsertItem(_ context.Context, in types.RecordInput, now time.Time) (types.ItemMemory, error) {
	f.upserts = append(f.upserts, in)
	return types.ItemMemory{UserID: in.UserID, Fingerprint: in.Fingerprint, SeenCount: 1, FirstSeenAt: now, LastSeenAt: now}, nil
}
func (f *fakeStore) GetItem(context.Context, string, string) (types.ItemMemory, error) {
	return types.ItemMemory{}, sql.ErrNoRows
}
func (f *fakeStore) RecentItems(_ context.Context, _ string, since time.Time, limit int) ([]types.ItemMemory, error) {
	f.recentArg, f.limitArg = since, limit
	return nil, nil
}
func (f *fakeStore) ItemStats(context.Context, string) (types.MemoryStats, error) {
	return types.MemoryStats{}, nil
}
func (f *fakeStore) DeleteUserItems(context.Context, string) (int64, error) { return 0, nil }

func discard() *log.Logger { return log.NewWithOptions(io.Discard, log.Options{}) }

func TestRecordItem_ValidatesUser(t *testing.T) {
	t.Parallel()
	svc, err := NewService(&fakeStore{}, config.Default(), discard())
	require.NoError(t, err)

	_, err = svc.RecordItem(context.Background(), types.RecordInput{UserID: "bad user", Fingerprint: "fp", ContentHash: "h"})
	require.Error(t, err)
	_, err = svc.RecordItem(context.Background(), types.RecordInput{UserID: "", Fingerprint: "fp", ContentHash: "h"})
	require.Error(t, err)
	_, err = svc.RecordItem(context.Background(), types.RecordInput{UserID: "u1", ContentHash: "h"})
	require.Error(t, err)
}

func TestHasSeen_UnknownUserIsFalse(t *testing.T) {
	t.Parallel()
	svc, err := NewService(&fakeStore{}, config.Default(), discard())
	require.NoError(t, err)

	seen, err := svc.HasSeen(context.Background(), "never-written", "fp_x")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRecent_UsesLookbackWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	cfg := config.Default()
	cfg.Novelty.LookbackDays = 7
	cfg.Novelty.LookbackItems = 42
	fs := &fakeStore{}
	svc, err := NewService(fs, cfg, discard(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = svc.Recent(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(-7*24*time.Hour), fs.recentArg)
	assert.Equal(t, 42, fs.limitArg)
}

func TestRecordItem_ConcurrentSameFingerprintCountsEverySighting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "brief.db"), discard())
	require.NoError(t, err)
	defer st.Close()

	svc, err := NewService(st, config.Default(), discard())
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordItem(ctx, types.RecordInput{UserID: "u1", Fingerprint: "fp_same", ContentHash: "h"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, ok, err := svc.Get(ctx, "u1", "fp_same")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, writers, rec.SeenCount)

	stats, err := svc.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalItems)
	assert.EqualValues(t, writers, stats.TotalSightings)

	n, err := svc.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	seen, err := svc.HasSeen(ctx, "u1", "fp_same")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestLock_SerializesPerUser(t *testing.T) {
	t.Parallel()
	svc, err := NewService(&fakeStore{}, config.Default(), discard())
	require.NoError(t, err)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := svc.Lock("u1")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
