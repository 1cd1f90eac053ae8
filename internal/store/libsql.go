package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowsketch/pkg/schema"
)

const metaLastReset = "last_reset"

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowsketch.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Shares ---

func (s *LibSQLStore) CreateShare(ctx context.Context, share *Share) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shares (id, title, flowchart_code, svg_content, is_public, views, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		share.ID, share.Title, share.FlowchartCode, share.SVGContent,
		boolInt(share.IsPublic), share.Views, timeOrNow(share.CreatedAt),
	)
	if isUniqueViolation(err) {
		return storeConflict("share", share.ID)
	}
	if err != nil {
		return storeFailure("create share", err)
	}
	return nil
}

func (s *LibSQLStore) GetShare(ctx context.Context, id string) (*Share, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, flowchart_code, svg_content, is_public, views, created_at
		 FROM shares WHERE id = ?`, id)
	sh, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("share", id)
	}
	if err != nil {
		return nil, storeFailure("get share", err)
	}
	return sh, nil
}

func (s *LibSQLStore) IncrementShareViews(ctx context.Context, id string) (int64, error) {
	var views int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE shares SET views = views + 1 WHERE id = ? RETURNING views`, id,
	).Scan(&views)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storeNotFound("share", id)
	}
	if err != nil {
		return 0, storeFailure("increment views", err)
	}
	return views, nil
}

func (s *LibSQLStore) ListShares(ctx context.Context, filter ShareFilter) ([]*Share, error) {
	var (
		where []string
		args  []any
	)
	if filter.PublicOnly {
		where = append(where, "is_public = 1")
	}

	q := `SELECT id, title, flowchart_code, svg_content, is_public, views, created_at FROM shares`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		q += " LIMIT -1"
	}
	if filter.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeFailure("list shares", err)
	}
	defer rows.Close()

	var out []*Share
	for rows.Next() {
		sh, err := scanShare(rows)
		if err != nil {
			return nil, storeFailure("scan share", err)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShare(r rowScanner) (*Share, error) {
	sh := &Share{}
	var public int
	if err := r.Scan(&sh.ID, &sh.Title, &sh.FlowchartCode, &sh.SVGContent, &public, &sh.Views, &sh.CreatedAt); err != nil {
		return nil, err
	}
	sh.IsPublic = public != 0
	return sh, nil
}

// --- Counters ---

func (s *LibSQLStore) IncrementCounter(ctx context.Context, name string, delta int64) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = value + excluded.value
		 RETURNING value`, name, delta,
	).Scan(&value)
	if err != nil {
		return 0, storeFailure("increment counter", err)
	}
	return value, nil
}

func (s *LibSQLStore) Counters(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return nil, storeFailure("read counters", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, storeFailure("scan counter", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

func (s *LibSQLStore) MarkUserActive(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO active_users (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`, userID)
	if err != nil {
		return false, storeFailure("mark user active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeFailure("mark user active", err)
	}
	return n > 0, nil
}

func (s *LibSQLStore) ActiveUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM active_users`).Scan(&n); err != nil {
		return 0, storeFailure("count active users", err)
	}
	return n, nil
}

func (s *LibSQLStore) SetPeak(ctx context.Context, candidate int64) (int64, error) {
	var peak int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)
		 RETURNING value`, schema.CounterPeakUsers, candidate,
	).Scan(&peak)
	if err != nil {
		return 0, storeFailure("set peak", err)
	}
	return peak, nil
}

func (s *LibSQLStore) ResetActiveUsers(ctx context.Context, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeFailure("reset active users", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_users`); err != nil {
		return storeFailure("reset active users", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastReset, timeOrNow(at).Format(time.RFC3339Nano),
	); err != nil {
		return storeFailure("record last reset", err)
	}
	if err := tx.Commit(); err != nil {
		return storeFailure("reset active users", err)
	}
	return nil
}

func (s *LibSQLStore) LastReset(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaLastReset).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storeFailure("read last reset", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, storeFailure("parse last reset", err)
	}
	return t, nil
}

// --- Subscribers ---

func (s *LibSQLStore) AddSubscriber(ctx context.Context, sub *Subscriber) error {
	interests, err := json.Marshal(nonNil(sub.Interests))
	if err != nil {
		return fmt.Errorf("marshal interests: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscribers (email, interests, confirmed, subscribed_at) VALUES (?, ?, ?, ?)`,
		sub.Email, string(interests), boolInt(sub.Confirmed), timeOrNow(sub.SubscribedAt),
	)
	if isUniqueViolation(err) {
		return storeConflict("subscriber", sub.Email)
	}
	if err != nil {
		return storeFailure("add subscriber", err)
	}
	return nil
}

func (s *LibSQLStore) CountSubscribers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers`).Scan(&n); err != nil {
		return 0, storeFailure("count subscribers", err)
	}
	return n, nil
}

func (s *LibSQLStore) RecentSubscribers(ctx context.Context, limit int) ([]*Subscriber, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, interests, confirmed, subscribed_at FROM subscribers
		 ORDER BY subscribed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storeFailure("list subscribers", err)
	}
	defer rows.Close()

	var out []*Subscriber
	for rows.Next() {
		sub := &Subscriber{}
		var (
			interests string
			confirmed int
		)
		if err := rows.Scan(&sub.Email, &interests, &confirmed, &sub.SubscribedAt); err != nil {
			return nil, storeFailure("scan subscriber", err)
		}
		_ = json.Unmarshal([]byte(interests), &sub.Interests)
		sub.Confirmed = confirmed != 0
		out = append(out, sub)
	}
	return out, rows.Err()
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return storeFailure("store secret", err)
	}
	return nil
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("secret", key)
	}
	if err != nil {
		return nil, storeFailure("get secret", err)
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return storeFailure("delete secret", err)
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, storeFailure("list secrets", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storeFailure("scan secret key", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- helpers ---

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
