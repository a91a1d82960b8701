package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/xiy/brief-engine/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// Fixed-width UTC timestamps keep lexical order equal to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Stats summarizes database counters for admin dashboards.
type Stats struct {
	Users          int64
	Items          int64
	Sightings      int64
	FeedbackEvents int64
	Runs           int64
}

// MCPRequestLog captures one incoming MCP request handled by the server.
type MCPRequestLog struct {
	ID         int64
	Method     string
	ToolName   string
	Success    bool
	ErrorText  string
	DurationMS int64
	CreatedAt  time.Time
}

// RecentItem is a compact summary row for admin dashboards.
type RecentItem struct {
	UserID     string
	Source     string
	ItemType   string
	Title      string
	SeenCount  int
	LastSeenAt time.Time
}

// ConsolidationRun is one logged consolidation pass for one user.
type ConsolidationRun struct {
	ID              string
	UserID          string
	StartedAt       time.Time
	EventsProcessed int
	Result          types.ConsolidationResult
}

// ItemStore persists per-user item memory.
type ItemStore interface {
	UpsertItem(ctx context.Context, in types.RecordInput, now time.Time) (types.ItemMemory, error)
	GetItem(ctx context.Context, userID, fingerprint string) (types.ItemMemory, error)
	RecentItems(ctx context.Context, userID string, since time.Time, limit int) ([]types.ItemMemory, error)
	ItemStats(ctx context.Context, userID string) (types.MemoryStats, error)
	DeleteUserItems(ctx context.Context, userID string) (int64, error)
}

// FeedbackStore persists feedback events.
type FeedbackStore interface {
	InsertFeedback(ctx context.Context, ev types.FeedbackEvent) error
	FeedbackUsers(ctx context.Context, since time.Time, minEvents int) ([]string, error)
	FeedbackForUser(ctx context.Context, userID string, since time.Time) ([]types.FeedbackEvent, error)
}

// PreferenceStore persists learned user preferences.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (types.UserPreferences, error)
	SavePreferences(ctx context.Context, prefs types.UserPreferences, now time.Time) error
	InsertConsolidationRun(ctx context.Context, run ConsolidationRun) error
}

// Store is everything the SQLite backend offers.
type Store interface {
	ItemStore
	FeedbackStore
	PreferenceStore
	Close() error
}

// SQLiteStore is a SQLite-backed store.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens and initializes the SQLite store.
func OpenSQLite(ctx context.Context, dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection serializes writers, including same-fingerprint upserts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		s.logger.Warn("could not set busy_timeout", "error", err)
	}
	for _, stmt := range splitSQLStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run schema stmt: %w", err)
		}
	}
	return nil
}

func splitSQLStatements(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}

// Stats returns global counters.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(DISTINCT user_id), count(*), COALESCE(sum(seen_count), 0) FROM item_memory`,
	).Scan(&st.Users, &st.Items, &st.Sightings); err != nil {
		return st, fmt.Errorf("item stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM feedback_events`).Scan(&st.FeedbackEvents); err != nil {
		return st, fmt.Errorf("feedback stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM consolidation_runs`).Scan(&st.Runs); err != nil {
		return st, fmt.Errorf("run stats: %w", err)
	}
	return st, nil
}

// InsertMCPRequestLog stores one request event for admin observability.
func (s *SQLiteStore) InsertMCPRequestLog(ctx context.Context, rec MCPRequestLog) error {
	ts := rec.CreatedAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	success := 0
	if rec.Success {
		success = 1
	}
	q, args, err := sq.Insert("mcp_requests").
		Columns("method", "tool_name", "success", "error_text", "duration_ms", "created_at").
		Values(
			strings.TrimSpace(rec.Method),
			strings.TrimSpace(rec.ToolName),
			success,
			strings.TrimSpace(rec.ErrorText),
			rec.DurationMS,
			formatTime(ts),
		).ToSql()
	if err != nil {
		return fmt.Errorf("build request log insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert mcp request log: %w", err)
	}
	return nil
}

// RecentMCPRequestLogs returns most recent request events in newest-first order.
func (s *SQLiteStore) RecentMCPRequestLogs(ctx context.Context, limit int) ([]MCPRequestLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, method, tool_name, success, error_text, duration_ms, created_at
FROM mcp_requests
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list mcp request logs: %w", err)
	}
	defer rows.Close()

	items := make([]MCPRequestLog, 0, limit)
	for rows.Next() {
		var (
			row          MCPRequestLog
			successAsInt int
			createdAt    string
		)
		if err := rows.Scan(&row.ID, &row.Method, &row.ToolName, &successAsInt, &row.ErrorText, &row.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan mcp request log: %w", err)
		}
		row.Success = successAsInt == 1
		row.CreatedAt, _ = parseTime(createdAt)
		items = append(items, row)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Parse(time.RFC3339Nano, v)
	}
	return t, nil
}
