package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	logx "loggram/pkg/logx"
)

var (
	ErrAlreadyExists = errors.New("project already exists")
	ErrNotFound      = errors.New("project not found")
)

// Project is a monitored log source. Tags are advisory labels shown in
// listings; LastCheck is the polling cursor.
type Project struct {
	ID        int64
	Name      string
	APIURL    string
	ChannelID int64
	Tags      []string
	LastCheck time.Time
	Active    bool
	CreatedAt time.Time
}

// Registry tracks monitored projects. Active projects are mirrored in
// memory so the polling loop and command handlers never touch sqlite
// on the read path.
type Registry struct {
	db  *sql.DB
	log logx.Logger

	mu       sync.RWMutex
	projects map[string]*Project
}

func New(db *DB, log logx.Logger) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{db: db.db, log: log, projects: make(map[string]*Project)}
	if err := r.loadActive(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadActive(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, api_url, channel_id, tags, last_check, created_at
		 FROM projects WHERE active = 1`)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	defer rows.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for rows.Next() {
		var (
			p                          Project
			tags, checkRaw, createdRaw string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.APIURL, &p.ChannelID, &tags, &checkRaw, &createdRaw); err != nil {
			return fmt.Errorf("registry: load: %w", err)
		}
		p.Tags = splitTags(tags)
		p.LastCheck = parseTime(checkRaw)
		p.CreatedAt = parseTime(createdRaw)
		p.Active = true
		r.projects[p.Name] = &p
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	r.log.Info("registry loaded", logx.Int("projects", len(r.projects)))
	return nil
}

// Add registers a project. The polling cursor starts at now so only
// entries logged after registration get forwarded. Re-adding a name
// that was removed earlier reactivates the old row with the new
// settings.
func (r *Registry) Add(ctx context.Context, name, apiURL string, channelID int64, tags []string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("registry: name is required")
	}
	apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if apiURL == "" {
		return nil, errors.New("registry: api url is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	now := time.Now()
	p := &Project{
		Name:      name,
		APIURL:    apiURL,
		ChannelID: channelID,
		Tags:      normalizeTags(tags),
		LastCheck: now,
		Active:    true,
		CreatedAt: now,
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO projects(name, api_url, channel_id, tags, last_check, active, created_at)
		 VALUES(?,?,?,?,?,1,?)`,
		p.Name, p.APIURL, p.ChannelID, joinTags(p.Tags), formatTime(p.LastCheck), formatTime(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			// A soft-deleted row is still holding the name.
			return r.reactivate(ctx, p)
		}
		return nil, fmt.Errorf("registry: add: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	r.projects[name] = p
	r.log.Info("project added",
		logx.String("project", name),
		logx.String("api_url", apiURL),
		logx.Int64("channel_id", channelID))
	return p.clone(), nil
}

// reactivate flips an inactive row back on. Caller holds r.mu.
func (r *Registry) reactivate(ctx context.Context, p *Project) (*Project, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE projects SET api_url=?, channel_id=?, tags=?, last_check=?, active=1
		 WHERE name=? AND active=0`,
		p.APIURL, p.ChannelID, joinTags(p.Tags), formatTime(p.LastCheck), p.Name)
	if err != nil {
		return nil, fmt.Errorf("registry: add: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, p.Name)
	}
	// The row keeps its original created_at; mirror it in memory.
	var createdRaw string
	if err := r.db.QueryRowContext(ctx,
		"SELECT id, created_at FROM projects WHERE name=?", p.Name).
		Scan(&p.ID, &createdRaw); err == nil {
		p.CreatedAt = parseTime(createdRaw)
	}
	r.projects[p.Name] = p
	r.log.Info("project reactivated", logx.String("project", p.Name))
	return p.clone(), nil
}

// Remove soft-deletes a project. The row and its delivery history stay
// behind for audit.
func (r *Registry) Remove(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if _, err := r.db.ExecContext(ctx,
		"UPDATE projects SET active = 0 WHERE name = ? AND active = 1", name); err != nil {
		return fmt.Errorf("registry: remove: %w", err)
	}
	delete(r.projects, name)
	r.log.Info("project removed", logx.String("project", name))
	return nil
}

// Get returns a copy of the named active project.
func (r *Registry) Get(name string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[name]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// List returns copies of all active projects ordered by name.
func (r *Registry) List() []Project {
	r.mu.RLock()
	out := make([]Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, *p.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count reports the number of active projects.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

// UpdateCursor advances the polling cursor. The cursor only ever moves
// forward; a stale timestamp is a no-op so a slow cycle can never
// rewind a newer one.
func (r *Registry) UpdateCursor(ctx context.Context, name string, t time.Time) error {
	r.mu.Lock()
	p, ok := r.projects[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !t.After(p.LastCheck) {
		r.mu.Unlock()
		return nil
	}
	p.LastCheck = t
	r.mu.Unlock()

	ft := formatTime(t)
	if _, err := r.db.ExecContext(ctx,
		"UPDATE projects SET last_check = ? WHERE name = ? AND active = 1 AND last_check < ?",
		ft, name, ft); err != nil {
		return fmt.Errorf("registry: cursor: %w", err)
	}
	return nil
}

func (p *Project) clone() *Project {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	return &cp
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func joinTags(tags []string) string { return strings.Join(tags, ",") }

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	return normalizeTags(strings.Split(raw, ","))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
