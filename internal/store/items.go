package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/xiy/brief-engine/pkg/types"
)

var itemColumns = []string{
	"user_id", "fingerprint", "content_hash", "source", "item_type", "title",
	"first_seen_at", "last_seen_at", "seen_count", "embedding", "entity_snapshot",
}

// UpsertItem records one sighting. The first sighting creates the row with
// seen_count=1; later ones bump the counter and overwrite the mutable view.
// A nil embedding or snapshot keeps the stored one.
func (s *SQLiteStore) UpsertItem(ctx context.Context, in types.RecordInput, now time.Time) (types.ItemMemory, error) {
	var snapshot sql.NullString
	if in.EntitySnapshot != nil {
		b, err := json.Marshal(in.EntitySnapshot)
		if err != nil {
			return types.ItemMemory{}, fmt.Errorf("marshal entity snapshot: %w", err)
		}
		snapshot = sql.NullString{String: string(b), Valid: true}
	}
	ts := formatTime(now)

	q, args, err := sq.Insert("item_memory").
		Columns(itemColumns...).
		Values(in.UserID, in.Fingerprint, in.ContentHash, in.Source, in.ItemType, in.Title,
			ts, ts, 1, vectorArg(in.Embedding), snapshot).
		Suffix(`ON CONFLICT(user_id, fingerprint) DO UPDATE SET
	content_hash = excluded.content_hash,
	source = excluded.source,
	item_type = excluded.item_type,
	title = excluded.title,
	last_seen_at = CASE WHEN excluded.last_seen_at > item_memory.first_seen_at
		THEN excluded.last_seen_at ELSE item_memory.first_seen_at END,
	seen_count = item_memory.seen_count + 1,
	embedding = COALESCE(excluded.embedding, item_memory.embedding),
	entity_snapshot = COALESCE(excluded.entity_snapshot, item_memory.entity_snapshot)
RETURNING ` + strings.Join(itemColumns, ", ")).
		ToSql()
	if err != nil {
		return types.ItemMemory{}, fmt.Errorf("build upsert: %w", err)
	}

	rec, err := scanItem(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return types.ItemMemory{}, fmt.Errorf("upsert item: %w", err)
	}
	return rec, nil
}

// GetItem returns sql.ErrNoRows when the user has never seen the fingerprint.
func (s *SQLiteStore) GetItem(ctx context.Context, userID, fingerprint string) (types.ItemMemory, error) {
	q, args, err := sq.Select(itemColumns...).
		From("item_memory").
		Where(sq.Eq{"user_id": userID, "fingerprint": fingerprint}).
		Limit(1).
		ToSql()
	if err != nil {
		return types.ItemMemory{}, fmt.Errorf("build get item: %w", err)
	}
	rec, err := scanItem(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("get item: %w", err)
	}
	return rec, nil
}

// RecentItems returns a user's items seen at or after since, newest first.
func (s *SQLiteStore) RecentItems(ctx context.Context, userID string, since time.Time, limit int) ([]types.ItemMemory, error) {
	b := sq.Select(itemColumns...).
		From("item_memory").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("last_seen_at DESC", "fingerprint ASC")
	if !since.IsZero() {
		b = b.Where(sq.GtOrEq{"last_seen_at": formatTime(since)})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent items: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recent items: %w", err)
	}
	defer rows.Close()

	var out []types.ItemMemory
	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ItemStats aggregates a user's memory by source and type.
func (s *SQLiteStore) ItemStats(ctx context.Context, userID string) (types.MemoryStats, error) {
	st := types.MemoryStats{UserID: userID, BySource: map[string]int{}, ByType: map[string]int{}}

	var oldest, newest sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(sum(seen_count), 0), min(first_seen_at), max(last_seen_at)
FROM item_memory WHERE user_id = ?`, userID,
	).Scan(&st.TotalItems, &st.TotalSightings, &oldest, &newest); err != nil {
		return st, fmt.Errorf("item totals: %w", err)
	}
	if oldest.Valid {
		if t, err := parseTime(oldest.String); err == nil {
			st.OldestSeenAt = &t
		}
	}
	if newest.Valid {
		if t, err := parseTime(newest.String); err == nil {
			st.NewestSeenAt = &t
		}
	}

	for col, dst := range map[string]map[string]int{"source": st.BySource, "item_type": st.ByType} {
		q, args, err := sq.Select(col, "count(*)").
			From("item_memory").
			Where(sq.Eq{"user_id": userID}).
			GroupBy(col).
			ToSql()
		if err != nil {
			return st, fmt.Errorf("build %s distribution: %w", col, err)
		}
		if err := s.countInto(ctx, dst, q, args...); err != nil {
			return st, fmt.Errorf("%s distribution: %w", col, err)
		}
	}
	return st, nil
}

func (s *SQLiteStore) countInto(ctx context.Context, dst map[string]int, q string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dst[key] = n
	}
	return rows.Err()
}

// DeleteUserItems wipes a user's item memory and returns the number of rows removed.
func (s *SQLiteStore) DeleteUserItems(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM item_memory WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete rows affected: %w", err)
	}
	return n, nil
}

// RecentItemsAll returns compact rows across users, newest first.
func (s *SQLiteStore) RecentItemsAll(ctx context.Context, limit int) ([]RecentItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, source, item_type, title, seen_count, last_seen_at
FROM item_memory
ORDER BY last_seen_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent items: %w", err)
	}
	defer rows.Close()

	items := make([]RecentItem, 0, limit)
	for rows.Next() {
		var (
			row      RecentItem
			lastSeen string
		)
		if err := rows.Scan(&row.UserID, &row.Source, &row.ItemType, &row.Title, &row.SeenCount, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan recent item: %w", err)
		}
		row.LastSeenAt, _ = parseTime(lastSeen)
		items = append(items, row)
	}
	return items, rows.Err()
}

func scanItem(sc scanner) (types.ItemMemory, error) {
	var (
		rec                 types.ItemMemory
		firstSeen, lastSeen string
		embedding           []byte
		snapshot            sql.NullString
	)
	if err := sc.Scan(
		&rec.UserID,
		&rec.Fingerprint,
		&rec.ContentHash,
		&rec.Source,
		&rec.ItemType,
		&rec.Title,
		&firstSeen,
		&lastSeen,
		&rec.SeenCount,
		&embedding,
		&snapshot,
	); err != nil {
		return rec, err
	}

	var err error
	if rec.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return rec, err
	}
	if rec.LastSeenAt, err = parseTime(lastSeen); err != nil {
		return rec, err
	}
	rec.Embedding = decodeVector(embedding)
	if snapshot.Valid && snapshot.String != "" {
		if err := json.Unmarshal([]byte(snapshot.String), &rec.EntitySnapshot); err != nil {
			rec.EntitySnapshot = nil
		}
	}
	return rec, nil
}

// vectorArg returns NULL for an empty vector so COALESCE keeps the stored one.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return encodeVector(v)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
