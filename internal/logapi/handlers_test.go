package logapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"loggram/internal/logstore"
	logx "loggram/pkg/logx"
)

func newTestServer(t *testing.T) (*httptest.Server, *logstore.Store) {
	t.Helper()
	store, err := logstore.Open(logstore.Config{
		Path: filepath.Join(t.TempDir(), "logs.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	srv := New(Options{ProjectName: "testproj", Store: store, Log: logx.Nop()})
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, m
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, m
}

func TestPostThenQuery(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/logs", map[string]any{
		"level":   "info",
		"message": "x",
		"tags":    []string{"deploy"},
		"extra":   map[string]any{"version": "1.0"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post status = %d, body %v", resp.StatusCode, body)
	}
	if body["success"] != true || body["log_id"] == "" {
		t.Fatalf("post body = %v", body)
	}

	resp, body = getJSON(t, ts.URL+"/logs?level=INFO&limit=10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	logs, _ := body["logs"].([]any)
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	first, _ := logs[0].(map[string]any)
	if first["level"] != "INFO" {
		t.Errorf("level = %v, want normalized INFO", first["level"])
	}
	if first["message"] != "x" {
		t.Errorf("message = %v, want unchanged", first["message"])
	}
	if body["total"] != float64(1) {
		t.Errorf("total = %v, want 1", body["total"])
	}
}

func TestPostInvalidLevelNoWrite(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/logs", map[string]any{
		"level":   "catastrophic",
		"message": "boom",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["success"] != false {
		t.Errorf("body = %v, want success=false", body)
	}

	// Nothing was written.
	_, got := getJSON(t, ts.URL+"/logs")
	if got["total"] != float64(0) {
		t.Errorf("total after rejected post = %v, want 0", got["total"])
	}
}

func TestQuerySinceExclusive(t *testing.T) {
	ts, _ := newTestServer(t)

	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	for _, ti := range []time.Time{t1, t2} {
		resp, _ := postJSON(t, ts.URL+"/logs", map[string]any{
			"level":     "error",
			"message":   "m",
			"timestamp": ti.Format(time.RFC3339),
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("post status = %d", resp.StatusCode)
		}
	}

	// since is strictly exclusive: asking at t1 returns only t2.
	_, body := getJSON(t, fmt.Sprintf("%s/logs?since=%s", ts.URL, t1.Format(time.RFC3339)))
	logs, _ := body["logs"].([]any)
	if len(logs) != 1 {
		t.Fatalf("got %d logs since t1, want 1", len(logs))
	}
}

func TestStats(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, lvl := range []string{"error", "error", "success"} {
		postJSON(t, ts.URL+"/logs", map[string]any{"level": lvl, "message": "m"})
	}

	resp, body := getJSON(t, ts.URL+"/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["project_name"] != "testproj" {
		t.Errorf("project_name = %v", body["project_name"])
	}
	if body["total_logs"] != float64(3) {
		t.Errorf("total_logs = %v, want 3", body["total_logs"])
	}
	stats, _ := body["level_stats"].(map[string]any)
	if stats["ERROR"] != float64(2) || stats["SUCCESS"] != float64(1) {
		t.Errorf("level_stats = %v", stats)
	}
	if body["last_log_timestamp"] == nil {
		t.Error("last_log_timestamp missing")
	}
}

func TestCleanupEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	postJSON(t, ts.URL+"/logs", map[string]any{"level": "info", "message": "fresh"})

	resp, body := postJSON(t, ts.URL+"/cleanup?days=30", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["success"] != true || body["deleted_count"] != float64(0) {
		t.Errorf("body = %v, want success with nothing deleted", body)
	}

	// GET is not allowed.
	resp2, err := http.Get(ts.URL + "/cleanup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /cleanup status = %d, want 405", resp2.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts, store := newTestServer(t)

	resp, body := getJSON(t, ts.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "healthy" || body["database"] != "connected" {
		t.Errorf("body = %v", body)
	}

	// A dead store turns the probe into 503.
	_ = store.Close()
	resp, body = getJSON(t, ts.URL+"/health")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status after close = %d, want 503", resp.StatusCode)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("body = %v", body)
	}
}

func TestIndex(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := getJSON(t, ts.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["project"] != "testproj" {
		t.Errorf("project = %v", body["project"])
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp2.StatusCode)
	}
}
