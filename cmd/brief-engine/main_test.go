package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiy/brief-engine/internal/store"
)

// Commands share package-level state; these tests run sequentially.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "brief.db")
	path := filepath.Join(dir, "brief-engine.yaml")
	body := "db_path: " + db + "\nenv_file: \"\"\nlog_level: error\nembedding:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, db
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, log.WarnLevel, parseLevel("warning"))
	assert.Equal(t, log.ErrorLevel, parseLevel("error"))
	assert.Equal(t, log.InfoLevel, parseLevel(""))
}

func TestVersion_SkipsConfig(t *testing.T) {
	out, err := execute(t, "version", "--config", "/nonexistent/dir/none.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "brief-engine "+version)
}

func TestStatsAndClear(t *testing.T) {
	path, _ := writeConfig(t)

	out, err := execute(t, "stats", "--config", path)
	require.NoError(t, err)
	var totals store.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &totals))
	assert.Zero(t, totals.Items)

	_, err = execute(t, "clear", "u1", "--config", path)
	assert.ErrorContains(t, err, "--yes")

	out, err = execute(t, "clear", "u1", "--yes", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "cleared 0 items for u1")
}

func TestConsolidate_EmptyDatabase(t *testing.T) {
	path, _ := writeConfig(t)

	out, err := execute(t, "consolidate", "--config", path, "--user", "u1")
	require.NoError(t, err)
	assert.JSONEq(t, "{}", out)

	_, err = execute(t, "consolidate", "--config", path, "--user", "bad user")
	assert.Error(t, err)
}
