package logstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "loggram/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeLayout is a fixed-width RFC 3339 form so that string comparison
// in SQL matches chronological order. All values are stored in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one immutable log row.
type Entry struct {
	ID        string         `json:"id"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Tags      []string       `json:"tags"`
	Extra     map[string]any `json:"extra"`
	Timestamp time.Time      `json:"timestamp"`
	CreatedAt time.Time      `json:"created_at"`
}

// AppendRequest carries a validated entry to persist. Level must
// already be parsed; a zero Timestamp defaults to now.
type AppendRequest struct {
	Level     Level
	Message   string
	Tags      []string
	Extra     map[string]any
	Timestamp time.Time
}

// QueryOptions filters Query results. Since is strictly exclusive.
type QueryOptions struct {
	Since *time.Time
	Level *Level
	Limit int
}

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 100
)

// Stats summarizes ingestion volume. Window counts use created_at
// (server ingestion time), not the caller-supplied timestamp.
type Stats struct {
	Total         int64
	ByLevel       map[Level]int64
	Last24h       int64
	Last7d        int64
	LastTimestamp *time.Time
}

// Store persists log entries in a per-project sqlite database.
// Writes are serialized (single connection); reads are cheap.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("logstore: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping performs a trivial round-trip for health probes.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Append persists a new immutable row and returns its generated id.
func (s *Store) Append(ctx context.Context, req AppendRequest) (string, error) {
	id := uuid.NewString()

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	now := time.Now()

	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	extra := req.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("logstore: encode tags: %w", err)
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("logstore: encode extra: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO logs(id, level, message, tags, extra, timestamp, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		id, string(req.Level), req.Message, string(tagsJSON), string(extraJSON),
		formatTime(ts), formatTime(now),
	)
	if err != nil {
		return "", fmt.Errorf("logstore: append: %w", err)
	}
	return id, nil
}

// Query returns entries ordered by timestamp descending plus the total
// count matching the filter (not just the returned page).
func (s *Store) Query(ctx context.Context, opt QueryOptions) ([]Entry, int64, error) {
	limit := opt.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	where := "WHERE 1=1"
	args := make([]any, 0, 3)
	if opt.Since != nil {
		where += " AND timestamp > ?"
		args = append(args, formatTime(*opt.Since))
	}
	if opt.Level != nil {
		where += " AND level = ?"
		args = append(args, string(*opt.Level))
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, level, message, tags, extra, timestamp, created_at FROM logs "+
			where+" ORDER BY timestamp DESC LIMIT ?",
		append(append([]any{}, args...), limit)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("logstore: query: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                 Entry
			lvl, tags, extra  string
			tsRaw, createdRaw string
		)
		if err := rows.Scan(&e.ID, &lvl, &e.Message, &tags, &extra, &tsRaw, &createdRaw); err != nil {
			return nil, 0, fmt.Errorf("logstore: scan: %w", err)
		}
		e.Level = Level(lvl)
		e.Tags = decodeTags(tags)
		e.Extra = decodeExtra(extra)
		e.Timestamp = parseStoredTime(tsRaw)
		e.CreatedAt = parseStoredTime(createdRaw)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("logstore: query: %w", err)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM logs "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("logstore: count: %w", err)
	}
	return entries, total, nil
}

// Stats summarizes the store by ingestion time.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByLevel: map[Level]int64{}}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs").Scan(&st.Total); err != nil {
		return Stats{}, fmt.Errorf("logstore: stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT level, COUNT(*) FROM logs GROUP BY level ORDER BY COUNT(*) DESC")
	if err != nil {
		return Stats{}, fmt.Errorf("logstore: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			lvl string
			n   int64
		)
		if err := rows.Scan(&lvl, &n); err != nil {
			return Stats{}, fmt.Errorf("logstore: stats: %w", err)
		}
		st.ByLevel[Level(lvl)] = n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("logstore: stats: %w", err)
	}

	now := time.Now()
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM logs WHERE created_at > ?",
		formatTime(now.Add(-24*time.Hour)),
	).Scan(&st.Last24h); err != nil {
		return Stats{}, fmt.Errorf("logstore: stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM logs WHERE created_at > ?",
		formatTime(now.Add(-7*24*time.Hour)),
	).Scan(&st.Last7d); err != nil {
		return Stats{}, fmt.Errorf("logstore: stats: %w", err)
	}

	var lastRaw string
	err = s.db.QueryRowContext(ctx,
		"SELECT timestamp FROM logs ORDER BY created_at DESC LIMIT 1").Scan(&lastRaw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Stats{}, fmt.Errorf("logstore: stats: %w", err)
	default:
		t := parseStoredTime(lastRaw)
		st.LastTimestamp = &t
	}
	return st, nil
}

// Cleanup deletes rows whose created_at is older than the cutoff.
// seconds takes precedence over days when both are given; days
// defaults to 30.
func (s *Store) Cleanup(ctx context.Context, days, seconds int) (int64, error) {
	var cutoff time.Time
	if seconds > 0 {
		cutoff = time.Now().Add(-time.Duration(seconds) * time.Second)
	} else {
		if days <= 0 {
			days = 30
		}
		cutoff = time.Now().AddDate(0, 0, -days)
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM logs WHERE created_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("logstore: cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("logstore: cleanup: %w", err)
	}
	if n > 0 {
		s.log.Info("old logs removed", logx.Int64("deleted", n), logx.Time("cutoff", cutoff))
	}
	return n, nil
}

// insertAt is a test hook that backdates created_at.
func (s *Store) insertAt(ctx context.Context, req AppendRequest, createdAt time.Time) (string, error) {
	id, err := s.Append(ctx, req)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE logs SET created_at = ? WHERE id = ?", formatTime(createdAt), id)
	return id, err
}

func decodeTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || tags == nil {
		// Malformed stored tags degrade to empty instead of failing
		// the whole query.
		return []string{}
	}
	return tags
}

func decodeExtra(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var extra map[string]any
	if err := json.Unmarshal([]byte(raw), &extra); err != nil || extra == nil {
		return map[string]any{}
	}
	return extra
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseStoredTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

// ParseTimestamp accepts the ISO 8601-ish forms callers send.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
