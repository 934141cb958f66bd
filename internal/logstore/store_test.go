package logstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "loggram/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "logs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendQueryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ts := time.Date(2025, 4, 2, 9, 30, 0, 123456789, time.UTC)
	id, err := s.Append(ctx, AppendRequest{
		Level:     LevelWarning,
		Message:   "disk filling up",
		Tags:      []string{"infra", "disk"},
		Extra:     map[string]any{"free_gb": 4.5},
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	entries, total, err := s.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("total=%d len=%d, want 1/1", total, len(entries))
	}
	e := entries[0]
	if e.ID != id || e.Level != LevelWarning || e.Message != "disk filling up" {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Tags) != 2 || e.Tags[0] != "infra" {
		t.Errorf("tags = %v", e.Tags)
	}
	if e.Extra["free_gb"] != 4.5 {
		t.Errorf("extra = %v", e.Extra)
	}
	if !e.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, ts)
	}
	if e.CreatedAt.IsZero() {
		t.Error("created_at not assigned")
	}
}

func TestAppendDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	if _, err := s.Append(ctx, AppendRequest{Level: LevelInfo, Message: "m"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, _, err := s.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	e := entries[0]
	if e.Timestamp.Before(before) {
		t.Errorf("zero timestamp should default to now, got %v", e.Timestamp)
	}
	if e.Tags == nil || e.Extra == nil {
		t.Error("tags/extra should decode to empty containers, not nil")
	}
}

func TestQuerySinceStrictlyExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boundary := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		boundary.Add(-time.Minute),
		boundary,
		boundary.Add(time.Minute),
	}
	for _, ts := range times {
		if _, err := s.Append(ctx, AppendRequest{Level: LevelInfo, Message: "m", Timestamp: ts}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, total, err := s.Query(ctx, QueryOptions{Since: &boundary})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("since=boundary returned %d/%d, want exactly the later entry", len(entries), total)
	}
	if !entries[0].Timestamp.After(boundary) {
		t.Errorf("returned entry at %v is not after the boundary", entries[0].Timestamp)
	}
}

func TestQueryOrderLimitAndTotal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if _, err := s.Append(ctx, AppendRequest{
			Level:     LevelInfo,
			Message:   "m",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, total, err := s.Query(ctx, QueryOptions{Limit: 3})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if total != 10 {
		t.Errorf("total = %d, want full filtered count 10", total)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.After(entries[i-1].Timestamp) {
			t.Errorf("entries not in descending timestamp order")
		}
	}

	// Limit is capped.
	entries, _, err = s.Query(ctx, QueryOptions{Limit: 10_000})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 10 {
		t.Errorf("len = %d", len(entries))
	}
}

func TestQueryLevelFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, lvl := range []Level{LevelError, LevelInfo, LevelError} {
		if _, err := s.Append(ctx, AppendRequest{Level: lvl, Message: "m"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	lvl := LevelError
	entries, total, err := s.Query(ctx, QueryOptions{Level: &lvl})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("got %d/%d errors, want 2/2", len(entries), total)
	}
	for _, e := range entries {
		if e.Level != LevelError {
			t.Errorf("level = %v", e.Level)
		}
	}
}

func TestMalformedStoredPayloadDegrades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, AppendRequest{Level: LevelInfo, Message: "m"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE logs SET tags = 'not json', extra = '{broken' WHERE id = ?", id); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	entries, _, err := s.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("query over corrupt row: %v", err)
	}
	e := entries[0]
	if len(e.Tags) != 0 || len(e.Extra) != 0 {
		t.Errorf("corrupt payloads should decode empty, got tags=%v extra=%v", e.Tags, e.Extra)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	// Two recent, one old (by ingestion time).
	if _, err := s.Append(ctx, AppendRequest{Level: LevelError, Message: "recent"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, AppendRequest{Level: LevelInfo, Message: "recent"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.insertAt(ctx, AppendRequest{Level: LevelInfo, Message: "old"}, now.AddDate(0, 0, -10)); err != nil {
		t.Fatalf("insertAt: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 3 {
		t.Errorf("total = %d, want 3", st.Total)
	}
	if st.ByLevel[LevelInfo] != 2 || st.ByLevel[LevelError] != 1 {
		t.Errorf("by level = %v", st.ByLevel)
	}
	if st.Last24h != 2 {
		t.Errorf("last24h = %d, want 2 (windows use ingestion time)", st.Last24h)
	}
	if st.Last7d != 2 {
		t.Errorf("last7d = %d, want 2", st.Last7d)
	}
	if st.LastTimestamp == nil {
		t.Error("last timestamp missing")
	}
}

func TestCleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	if _, err := s.insertAt(ctx, AppendRequest{Level: LevelInfo, Message: "ancient"}, now.AddDate(0, 0, -40)); err != nil {
		t.Fatalf("insertAt: %v", err)
	}
	if _, err := s.insertAt(ctx, AppendRequest{Level: LevelInfo, Message: "recent"}, now.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("insertAt: %v", err)
	}

	deleted, err := s.Cleanup(ctx, 30, 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	entries, total, err := s.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 1 || entries[0].Message != "recent" {
		t.Errorf("survivor = %+v (total %d)", entries, total)
	}
}

func TestCleanupSecondsPrecedence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	if _, err := s.insertAt(ctx, AppendRequest{Level: LevelInfo, Message: "hour old"}, now.Add(-time.Hour)); err != nil {
		t.Fatalf("insertAt: %v", err)
	}

	// days alone would keep it; seconds wins when both are set.
	deleted, err := s.Cleanup(ctx, 30, 60)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1 (seconds takes precedence)", deleted)
	}
}
