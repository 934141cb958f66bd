package logapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loggram/internal/logstore"
	logx "loggram/pkg/logx"
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/cleanup", s.handleCleanup)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "log api",
		"project": s.project,
		"endpoints": []string{
			"GET /logs", "POST /logs", "GET /stats", "POST /cleanup", "GET /health",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getLogs(w, r)
	case http.MethodPost:
		s.postLog(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opt logstore.QueryOptions

	sinceRaw := strings.TrimSpace(q.Get("since"))
	if sinceRaw != "" {
		t, err := logstore.ParseTimestamp(sinceRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		opt.Since = &t
	}
	if lvlRaw := q.Get("level"); lvlRaw != "" {
		lvl, err := logstore.ParseLevel(lvlRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opt.Level = &lvl
	}
	if limRaw := q.Get("limit"); limRaw != "" {
		n, err := strconv.Atoi(limRaw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opt.Limit = n
	}

	entries, total, err := s.store.Query(r.Context(), opt)
	if err != nil {
		s.log.Error("query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	var since any
	if sinceRaw != "" {
		since = sinceRaw
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"logs":    entries,
		"count":   len(entries),
		"total":   total,
		"since":   since,
	})
}

type postLogRequest struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Tags      []string       `json:"tags"`
	Extra     map[string]any `json:"extra"`
	Timestamp string         `json:"timestamp"`
}

func (s *Server) postLog(w http.ResponseWriter, r *http.Request) {
	var req postLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	lvl, err := logstore.ParseLevel(req.Level)
	if err != nil {
		// Rejected before any write happens.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ts time.Time
	if strings.TrimSpace(req.Timestamp) != "" {
		ts, err = logstore.ParseTimestamp(req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timestamp: "+err.Error())
			return
		}
	}

	id, err := s.store.Append(r.Context(), logstore.AppendRequest{
		Level:     lvl,
		Message:   req.Message,
		Tags:      req.Tags,
		Extra:     req.Extra,
		Timestamp: ts,
	})
	if err != nil {
		s.log.Error("append failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"log_id":  id,
		"message": "log stored",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Error("stats failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	levelStats := make(map[string]int64, len(st.ByLevel))
	for lvl, n := range st.ByLevel {
		levelStats[string(lvl)] = n
	}
	var lastTS any
	if st.LastTimestamp != nil {
		lastTS = st.LastTimestamp.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_name":       s.project,
		"total_logs":         st.Total,
		"level_stats":        levelStats,
		"last_24h":           st.Last24h,
		"last_7days":         st.Last7d,
		"last_log_timestamp": lastTS,
		"generated_at":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	days, err := intQuery(r, "days", 30)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid days")
		return
	}
	seconds, err := intQuery(r, "seconds", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid seconds")
		return
	}

	deleted, err := s.store.Cleanup(r.Context(), days, seconds)
	if err != nil {
		s.log.Error("cleanup failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"deleted_count": deleted,
		"message":       "cleanup completed",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"project":   s.project,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"database":  "error: " + err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"project":   s.project,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  "connected",
	})
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
