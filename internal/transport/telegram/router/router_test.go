package router

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"loggram/internal/eventbus"
	"loggram/internal/monitor"
	"loggram/internal/registry"
	kit "loggram/internal/transport"
	logx "loggram/pkg/logx"
)

type captureAdapter struct {
	mu    sync.Mutex
	texts []string
}

func (a *captureAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *captureAdapter) Stop(context.Context) error                     { return nil }

func (a *captureAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.texts)}, nil
}

func (a *captureAdapter) last(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.texts) == 0 {
		t.Fatal("no reply sent")
	}
	return a.texts[len(a.texts)-1]
}

func newTestRouter(t *testing.T) (*Router, *captureAdapter, *registry.History) {
	t.Helper()
	db, err := registry.Open(registry.Config{Path: filepath.Join(t.TempDir(), "bot.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	reg, err := registry.New(db, logx.Nop())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	ad := &captureAdapter{}
	hist := registry.NewHistory(db)
	mon := monitor.New(monitor.Config{}, monitor.Deps{
		Registry: reg,
		History:  hist,
		Fetcher:  nil,
		Sink:     ad,
		Bus:      eventbus.New(),
		Log:      logx.Nop(),
	})
	r := New(Deps{
		Adapter:  ad,
		Registry: reg,
		History:  hist,
		Monitor:  mon,
		Owners:   []int64{100},
		Log:      logx.Nop(),
	})
	return r, ad, hist
}

func msg(from int64, text string) *kit.Message {
	return &kit.Message{ID: 1, ChatID: 5, FromID: from, Text: text}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in    string
		name  string
		args  []string
		isCmd bool
	}{
		{"/add svc http://a 1", "add", []string{"svc", "http://a", "1"}, true},
		{"/list@loggram_bot", "list", nil, true},
		{"  /STATUS  ", "status", nil, true},
		{"hello", "", nil, false},
		{"/", "", nil, false},
	}
	for _, c := range cases {
		name, args, ok := parseCommand(c.in)
		if ok != c.isCmd {
			t.Errorf("parseCommand(%q) ok = %v", c.in, ok)
			continue
		}
		if !ok {
			continue
		}
		if name != c.name || len(args) != len(c.args) {
			t.Errorf("parseCommand(%q) = %q %v", c.in, name, args)
		}
	}
}

func TestOwnerOnly(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(999, "/list"))
	if !strings.Contains(ad.last(t), "not allowed") {
		t.Errorf("non-owner should be denied, got %q", ad.last(t))
	}
}

func TestAddRemoveFlow(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(100, "/add svc http://127.0.0.1:8113 42 prod,backend"))
	if !strings.Contains(ad.last(t), "added") {
		t.Fatalf("add reply = %q", ad.last(t))
	}

	r.handleMessage(ctx, msg(100, "/add svc http://other 7"))
	if !strings.Contains(ad.last(t), "already exists") {
		t.Errorf("duplicate add reply = %q", ad.last(t))
	}

	r.handleMessage(ctx, msg(100, "/list"))
	if !strings.Contains(ad.last(t), "svc") || !strings.Contains(ad.last(t), "prod") {
		t.Errorf("list reply = %q", ad.last(t))
	}

	r.handleMessage(ctx, msg(100, "/remove nope"))
	if !strings.Contains(ad.last(t), "not found") {
		t.Errorf("remove unknown reply = %q", ad.last(t))
	}

	r.handleMessage(ctx, msg(100, "/remove svc"))
	if !strings.Contains(ad.last(t), "removed") {
		t.Errorf("remove reply = %q", ad.last(t))
	}
}

func TestListShowsDeliveredCount(t *testing.T) {
	r, ad, hist := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(100, "/add svc http://a 1"))
	if err := hist.MarkDelivered(ctx, "svc", "log-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := hist.MarkDelivered(ctx, "svc", "log-2"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	r.handleMessage(ctx, msg(100, "/list"))
	if !strings.Contains(ad.last(t), "Delivered: 2") {
		t.Errorf("list should show the delivered count, got %q", ad.last(t))
	}
}

func TestMonitorCommands(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(100, "/start_monitor"))
	if !strings.Contains(ad.last(t), "No projects") {
		t.Errorf("start with empty registry reply = %q", ad.last(t))
	}

	r.handleMessage(ctx, msg(100, "/stop_monitor"))
	if !strings.Contains(ad.last(t), "not running") {
		t.Errorf("stop while stopped reply = %q", ad.last(t))
	}

	r.handleMessage(ctx, msg(100, "/status"))
	if !strings.Contains(ad.last(t), "stopped") {
		t.Errorf("status reply = %q", ad.last(t))
	}

	r.handleMessage(ctx, msg(100, "/help"))
	if !strings.Contains(ad.last(t), "/add") {
		t.Errorf("help reply = %q", ad.last(t))
	}
}

func TestUnknownAndNonCommandIgnored(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(100, "just chatting"))
	r.handleMessage(ctx, msg(100, "/frobnicate"))

	ad.mu.Lock()
	n := len(ad.texts)
	ad.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no replies, got %d", n)
	}
}
