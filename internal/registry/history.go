package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// History records which log entries were already forwarded for each
// project. It is the exactly-once guard for the polling loop: checked
// before dispatch, written after a confirmed send.
type History struct {
	db *DB
}

func NewHistory(db *DB) *History { return &History{db: db} }

// Delivered reports whether the entry was already forwarded.
func (h *History) Delivered(ctx context.Context, project, logID string) (bool, error) {
	var one int
	err := h.db.db.QueryRowContext(ctx,
		"SELECT 1 FROM delivery_history WHERE project_name = ? AND log_id = ? LIMIT 1",
		project, logID).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("registry: history: %w", err)
	}
}

// MarkDelivered records a confirmed send. Marking the same entry twice
// is a harmless no-op, which keeps a redelivered cycle idempotent.
func (h *History) MarkDelivered(ctx context.Context, project, logID string) error {
	_, err := h.db.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO delivery_history(project_name, log_id, sent_at) VALUES(?,?,?)",
		project, logID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("registry: history: %w", err)
	}
	return nil
}

// DeliveredCount reports how many entries were forwarded for a project.
func (h *History) DeliveredCount(ctx context.Context, project string) (int64, error) {
	var n int64
	if err := h.db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM delivery_history WHERE project_name = ?", project).Scan(&n); err != nil {
		return 0, fmt.Errorf("registry: history: %w", err)
	}
	return n, nil
}
