package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/xiy/brief-engine/pkg/types"
)

// Preference entry kinds.
const (
	KindTopic   = "topic"
	KindProject = "project"
	KindVIP     = "vip"
	KindSource  = "source"
)

// InsertFeedback stores one feedback event; an empty ID gets a new uuid.
func (s *SQLiteStore) InsertFeedback(ctx context.Context, ev types.FeedbackEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	q, args, err := sq.Insert("feedback_events").
		Columns("id", "user_id", "item_id", "event_type", "created_at", "payload_json").
		Values(ev.ID, ev.UserID, ev.ItemID, string(ev.EventType), formatTime(ev.CreatedAt), string(b)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build feedback insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// FeedbackUsers lists users with at least minEvents events since the given time.
func (s *SQLiteStore) FeedbackUsers(ctx context.Context, since time.Time, minEvents int) ([]string, error) {
	q, args, err := sq.Select("user_id").
		From("feedback_events").
		Where(sq.GtOrEq{"created_at": formatTime(since)}).
		GroupBy("user_id").
		Having("count(*) >= ?", minEvents).
		OrderBy("user_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build feedback users: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("feedback users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan feedback user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FeedbackForUser returns a user's events since the given time, oldest first.
// Rows whose payload is not valid JSON come back with a nil Payload.
func (s *SQLiteStore) FeedbackForUser(ctx context.Context, userID string, since time.Time) ([]types.FeedbackEvent, error) {
	q, args, err := sq.Select("id", "user_id", "item_id", "event_type", "created_at", "payload_json").
		From("feedback_events").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.GtOrEq{"created_at": formatTime(since)}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build feedback query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("feedback for user: %w", err)
	}
	defer rows.Close()

	var out []types.FeedbackEvent
	for rows.Next() {
		var (
			ev        types.FeedbackEvent
			eventType string
			createdAt string
			payload   string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.ItemID, &eventType, &createdAt, &payload); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		ev.EventType = types.FeedbackType(eventType)
		ev.CreatedAt, _ = parseTime(createdAt)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			ev.Payload = nil
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetPreferences loads a user's preferences. Unknown users get empty sets.
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (types.UserPreferences, error) {
	prefs := types.UserPreferences{
		UserID:         userID,
		Topics:         []string{},
		VIPPeople:      []string{},
		Projects:       []string{},
		TopicWeights:   map[string]float64{},
		ProjectWeights: map[string]float64{},
		VIPWeights:     map[string]float64{},
		SourceWeights:  map[string]float64{},
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, key, weight FROM preference_entries WHERE user_id = ? ORDER BY kind, key`, userID)
	if err != nil {
		return prefs, fmt.Errorf("get preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind, key string
			weight    float64
		)
		if err := rows.Scan(&kind, &key, &weight); err != nil {
			return prefs, fmt.Errorf("scan preference: %w", err)
		}
		switch kind {
		case KindTopic:
			prefs.Topics = append(prefs.Topics, key)
			prefs.TopicWeights[key] = weight
		case KindProject:
			prefs.Projects = append(prefs.Projects, key)
			prefs.ProjectWeights[key] = weight
		case KindVIP:
			prefs.VIPPeople = append(prefs.VIPPeople, key)
			prefs.VIPWeights[key] = weight
		case KindSource:
			prefs.SourceWeights[key] = weight
		}
	}
	return prefs, rows.Err()
}

// SavePreferences replaces a user's preference entries in one transaction.
func (s *SQLiteStore) SavePreferences(ctx context.Context, prefs types.UserPreferences, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin preferences tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM preference_entries WHERE user_id = ?`, prefs.UserID); err != nil {
		return fmt.Errorf("clear preferences: %w", err)
	}

	b := sq.Insert("preference_entries").Columns("user_id", "kind", "key", "weight", "updated_at")
	n := 0
	add := func(kind string, keys []string, weights map[string]float64) {
		for _, k := range uniqueSorted(keys) {
			w, ok := weights[k]
			if !ok {
				w = 1.0
			}
			b = b.Values(prefs.UserID, kind, k, w, formatTime(now))
			n++
		}
	}
	add(KindTopic, prefs.Topics, prefs.TopicWeights)
	add(KindProject, prefs.Projects, prefs.ProjectWeights)
	add(KindVIP, prefs.VIPPeople, prefs.VIPWeights)
	sources := make([]string, 0, len(prefs.SourceWeights))
	for k := range prefs.SourceWeights {
		sources = append(sources, k)
	}
	add(KindSource, sources, prefs.SourceWeights)

	if n > 0 {
		q, args, err := b.ToSql()
		if err != nil {
			return fmt.Errorf("build preferences insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert preferences: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit preferences: %w", err)
	}
	return nil
}

// InsertConsolidationRun logs one consolidation pass.
func (s *SQLiteStore) InsertConsolidationRun(ctx context.Context, run ConsolidationRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	b, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("marshal consolidation result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consolidation_runs (id, user_id, started_at, events_processed, result_json) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.UserID, formatTime(run.StartedAt), run.EventsProcessed, string(b))
	if err != nil {
		return fmt.Errorf("insert consolidation run: %w", err)
	}
	return nil
}

// RecentConsolidationRuns returns logged runs, newest first.
func (s *SQLiteStore) RecentConsolidationRuns(ctx context.Context, limit int) ([]ConsolidationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, started_at, events_processed, result_json
FROM consolidation_runs
ORDER BY started_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list consolidation runs: %w", err)
	}
	defer rows.Close()

	var out []ConsolidationRun
	for rows.Next() {
		var (
			run       ConsolidationRun
			startedAt string
			result    sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.UserID, &startedAt, &run.EventsProcessed, &result); err != nil {
			return nil, fmt.Errorf("scan consolidation run: %w", err)
		}
		run.StartedAt, _ = parseTime(startedAt)
		if result.Valid {
			_ = json.Unmarshal([]byte(result.String), &run.Result)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
