package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "loggram/pkg/logx"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRegistry(t *testing.T) (*Registry, *DB) {
	t.Helper()
	db := openTestDB(t)
	r, err := New(db, logx.Nop())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r, db
}

func TestAddAndGet(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.Add(ctx, "api-server", "http://127.0.0.1:8113/", 42, []string{"prod", " backend "})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if p.APIURL != "http://127.0.0.1:8113" {
		t.Errorf("trailing slash not trimmed: %q", p.APIURL)
	}
	if len(p.Tags) != 2 || p.Tags[1] != "backend" {
		t.Errorf("tags not normalized: %v", p.Tags)
	}
	if p.LastCheck.IsZero() {
		t.Error("cursor should start at registration time")
	}

	got, ok := r.Get("api-server")
	if !ok {
		t.Fatal("project not found after add")
	}
	if got.ChannelID != 42 {
		t.Errorf("channel id = %d, want 42", got.ChannelID)
	}
}

func TestAddDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Add(ctx, "svc", "http://a", 1, nil); err != nil {
		t.Fatalf("first add: %v", err)
	}
	_, err := r.Add(ctx, "svc", "http://b", 2, nil)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate add err = %v, want ErrAlreadyExists", err)
	}

	// Original settings untouched.
	p, _ := r.Get("svc")
	if p.APIURL != "http://a" || p.ChannelID != 1 {
		t.Errorf("duplicate add mutated project: %+v", p)
	}
}

func TestRemoveAndReAdd(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Add(ctx, "svc", "http://a", 1, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Remove(ctx, "svc"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := r.Remove(ctx, "svc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove err = %v, want ErrNotFound", err)
	}
	if _, ok := r.Get("svc"); ok {
		t.Fatal("removed project still visible")
	}

	// Soft delete keeps the row behind.
	var n int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM projects WHERE name = 'svc'").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("row count after remove = %d, want 1", n)
	}

	// Re-adding reactivates with the new settings.
	p, err := r.Add(ctx, "svc", "http://b", 2, []string{"x"})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if p.APIURL != "http://b" || p.ChannelID != 2 {
		t.Errorf("re-add kept stale settings: %+v", p)
	}
	if p.ID == 0 {
		t.Error("re-add lost the row id")
	}
}

func TestReAddKeepsCreatedAt(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Add(ctx, "svc", "http://a", 1, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Remove(ctx, "svc"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	again, err := r.Add(ctx, "svc", "http://b", 2, nil)
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	// The row's created_at is kept; reactivation must mirror it instead
	// of stamping a new one.
	if !again.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at after re-add = %v, want original %v", again.CreatedAt, first.CreatedAt)
	}
}

func TestListOrdered(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := r.Add(ctx, name, "http://x", 1, nil); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	got := r.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("list len = %d, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("list[%d] = %s, want %s", i, got[i].Name, name)
		}
	}
}

func TestCursorMonotonic(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Add(ctx, "svc", "http://a", 1, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	p, _ := r.Get("svc")
	newer := p.LastCheck.Add(time.Minute)
	older := p.LastCheck.Add(-time.Minute)

	if err := r.UpdateCursor(ctx, "svc", newer); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := r.UpdateCursor(ctx, "svc", older); err != nil {
		t.Fatalf("stale update: %v", err)
	}
	got, _ := r.Get("svc")
	if !got.LastCheck.Equal(newer) {
		t.Errorf("cursor = %v, want %v (never rewinds)", got.LastCheck, newer)
	}

	if err := r.UpdateCursor(ctx, "nope", newer); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown project err = %v, want ErrNotFound", err)
	}
}

func TestCursorSurvivesReload(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Add(ctx, "svc", "http://a", 1, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	p, _ := r.Get("svc")
	newer := p.LastCheck.Add(time.Hour)
	if err := r.UpdateCursor(ctx, "svc", newer); err != nil {
		t.Fatalf("advance: %v", err)
	}

	r2, err := New(db, logx.Nop())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := r2.Get("svc")
	if !ok {
		t.Fatal("project lost on reload")
	}
	if !got.LastCheck.Equal(newer) {
		t.Errorf("cursor after reload = %v, want %v", got.LastCheck, newer)
	}
}

func TestHistoryIdempotent(t *testing.T) {
	_, db := newTestRegistry(t)
	h := NewHistory(db)
	ctx := context.Background()

	sent, err := h.Delivered(ctx, "svc", "log-1")
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if sent {
		t.Fatal("unseen entry reported as delivered")
	}

	if err := h.MarkDelivered(ctx, "svc", "log-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := h.MarkDelivered(ctx, "svc", "log-1"); err != nil {
		t.Fatalf("second mark: %v", err)
	}

	sent, err = h.Delivered(ctx, "svc", "log-1")
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if !sent {
		t.Fatal("marked entry not reported as delivered")
	}

	n, err := h.DeliveredCount(ctx, "svc")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("delivered count = %d, want 1 (marks are idempotent)", n)
	}

	// Same log id for a different project is independent.
	sent, _ = h.Delivered(ctx, "other", "log-1")
	if sent {
		t.Error("history leaked across projects")
	}
}
