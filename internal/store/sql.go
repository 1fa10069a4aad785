package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/swarmd/swarmd/internal/db"
	"github.com/swarmd/swarmd/internal/db/dialect"
)

// Repository is the SQL-backed Store. Writes go through the pool's writer
// (a single connection for SQLite); reads use the reader pool.
type Repository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader
	ownsDB bool
}

// NewRepository creates a Repository over the given pool and initializes
// the schema. Schema creation is idempotent.
func NewRepository(pool *db.Pool) (*Repository, error) {
	r := &Repository{db: pool.Writer(), ro: pool.Reader(), ownsDB: false}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

// Close is a no-op when the repository does not own its pool.
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			agent_type TEXT NOT NULL DEFAULT '',
			agent_role TEXT NOT NULL DEFAULT '',
			specifications TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS handoffs (
			id TEXT PRIMARY KEY,
			from_agent TEXT NOT NULL,
			to_agent TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			type TEXT NOT NULL,
			task_details TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			workflow_id TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			embedding TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cleanup_schedule (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			scheduled_for TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS tool_usage (
			id TEXT PRIMARY KEY,
			tool_name TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)`,
		`CREATE INDEX IF NOT EXISTS idx_handoffs_workflow_id ON handoffs(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_handoffs_processed ON handoffs(processed)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_workflow_id ON memories(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cleanup_schedule_processed ON cleanup_schedule(processed)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Workflows

// UpsertWorkflow inserts or replaces a workflow row.
func (r *Repository) UpsertWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	// Stale detection ages rows by updated_at, so a caller-supplied
	// timestamp must survive the upsert.
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = now
	}

	query := `
		INSERT INTO workflows (id, name, status, agent_type, agent_role, specifications, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			agent_type = excluded.agent_type,
			agent_role = excluded.agent_role,
			specifications = excluded.specifications,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		wf.ID, wf.Name, wf.Status, wf.AgentType, wf.AgentRole, wf.Specifications,
		dialect.FormatTime(wf.CreatedAt), dialect.FormatTime(wf.UpdatedAt))
	return err
}

// GetWorkflow retrieves a workflow by ID.
func (r *Repository) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT id, name, status, agent_type, agent_role, specifications, created_at, updated_at
		FROM workflows WHERE id = ?`), id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow not found: %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var createdAt, updatedAt string
	err := row.Scan(&wf.ID, &wf.Name, &wf.Status, &wf.AgentType, &wf.AgentRole,
		&wf.Specifications, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if wf.CreatedAt, err = dialect.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if wf.UpdatedAt, err = dialect.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return wf, nil
}

// ListWorkflows returns workflows matching the filter, newest first.
func (r *Repository) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	query := `
		SELECT id, name, status, agent_type, agent_role, specifications, created_at, updated_at
		FROM workflows`
	var args []interface{}
	var where []string
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.AgentType != "" {
		where = append(where, "agent_type = ?")
		args = append(args, filter.AgentType)
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// UpdateWorkflowStatus sets the workflow status and bumps updated_at.
func (r *Repository) UpdateWorkflowStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`),
		status, dialect.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("workflow not found: %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountWorkflowsByStatus returns the number of workflows per status.
func (r *Repository) CountWorkflowsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.ro.QueryContext(ctx, `SELECT status, COUNT(*) FROM workflows GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// MarkStaleWorkflows marks active workflows older than the threshold as stale.
func (r *Repository) MarkStaleWorkflows(ctx context.Context, threshold time.Duration) ([]string, error) {
	cutoff := dialect.FormatTime(time.Now().UTC().Add(-threshold))

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, tx.Rebind(`
		SELECT id FROM workflows WHERE status = ? AND updated_at < ?`),
		WorkflowActive, cutoff)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	now := dialect.FormatTime(time.Now().UTC())
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`),
			WorkflowStale, now, id); err != nil {
			return nil, err
		}
	}
	return ids, tx.Commit()
}

// DeleteStaleWorkflows removes stale workflows older than the retention window.
func (r *Repository) DeleteStaleWorkflows(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := dialect.FormatTime(time.Now().UTC().Add(-retention))
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM workflows WHERE status = ? AND updated_at < ?`),
		WorkflowStale, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// Handoffs

// CreateHandoff persists a new handoff record.
func (r *Repository) CreateHandoff(ctx context.Context, h *Handoff) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO handoffs (id, from_agent, to_agent, workflow_id, type, task_details, created_at, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		h.ID, h.FromAgent, h.ToAgent, h.WorkflowID, h.Type, h.TaskDetails,
		dialect.FormatTime(h.CreatedAt), dialect.BoolToInt(h.Processed))
	return err
}

func scanHandoff(row rowScanner) (*Handoff, error) {
	h := &Handoff{}
	var createdAt string
	var processed int
	err := row.Scan(&h.ID, &h.FromAgent, &h.ToAgent, &h.WorkflowID, &h.Type,
		&h.TaskDetails, &createdAt, &processed)
	if err != nil {
		return nil, err
	}
	if h.CreatedAt, err = dialect.ParseTime(createdAt); err != nil {
		return nil, err
	}
	h.Processed = processed != 0
	return h, nil
}

// ListUnprocessedHandoffs returns unprocessed handoffs in creation order.
func (r *Repository) ListUnprocessedHandoffs(ctx context.Context) ([]*Handoff, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, from_agent, to_agent, workflow_id, type, task_details, created_at, processed
		FROM handoffs WHERE processed = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var handoffs []*Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		handoffs = append(handoffs, h)
	}
	return handoffs, rows.Err()
}

// ListHandoffsByWorkflow returns a workflow's handoffs in creation order.
func (r *Repository) ListHandoffsByWorkflow(ctx context.Context, workflowID string, includeProcessed bool) ([]*Handoff, error) {
	query := `
		SELECT id, from_agent, to_agent, workflow_id, type, task_details, created_at, processed
		FROM handoffs WHERE workflow_id = ?`
	if !includeProcessed {
		query += " AND processed = 0"
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), workflowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var handoffs []*Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		handoffs = append(handoffs, h)
	}
	return handoffs, rows.Err()
}

// MarkHandoffProcessed flips the processed flag. Monotonic: never unset.
func (r *Repository) MarkHandoffProcessed(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE handoffs SET processed = 1 WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("handoff not found: %s: %w", id, ErrNotFound)
	}
	return nil
}

// Memories

// InsertMemory persists a memory record. Tags, metadata and the embedding
// vector are stored as JSON text.
func (r *Repository) InsertMemory(ctx context.Context, m *MemoryRecord) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}
	var embedding interface{}
	if len(m.Embedding) > 0 {
		raw, err := json.Marshal(m.Embedding)
		if err != nil {
			return err
		}
		embedding = string(raw)
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO memories (id, content, type, tags, workflow_id, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.Content, m.Type, string(tags), m.WorkflowID, string(metadata),
		embedding, dialect.FormatTime(m.CreatedAt))
	return err
}

// ListMemories returns memory records matching the filter, newest first.
// Tag filtering happens in memory: the tag set is small and JSON-encoded.
func (r *Repository) ListMemories(ctx context.Context, filter MemoryFilter) ([]*MemoryRecord, error) {
	query := `
		SELECT id, content, type, tags, workflow_id, metadata, embedding, created_at
		FROM memories`
	var args []interface{}
	var where []string
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*MemoryRecord
	for rows.Next() {
		m := &MemoryRecord{}
		var tags, metadata, createdAt string
		var embedding sql.NullString
		if err := rows.Scan(&m.ID, &m.Content, &m.Type, &tags, &m.WorkflowID,
			&metadata, &embedding, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return nil, err
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &m.Embedding); err != nil {
				return nil, err
			}
		}
		if m.CreatedAt, err = dialect.ParseTime(createdAt); err != nil {
			return nil, err
		}
		if !hasAllTags(m.Tags, filter.Tags) {
			continue
		}
		records = append(records, m)
		if filter.Limit > 0 && len(records) >= filter.Limit {
			break
		}
	}
	return records, rows.Err()
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Cleanup schedule

// ScheduleCleanup inserts a cleanup_schedule row.
func (r *Repository) ScheduleCleanup(ctx context.Context, e *CleanupEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO cleanup_schedule (id, workflow_id, scheduled_for, processed)
		VALUES (?, ?, ?, ?)`),
		e.ID, e.WorkflowID, dialect.FormatTime(e.ScheduledFor), dialect.BoolToInt(e.Processed))
	return err
}

// DueCleanups returns unprocessed entries scheduled at or before now.
func (r *Repository) DueCleanups(ctx context.Context, now time.Time) ([]*CleanupEntry, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT id, workflow_id, scheduled_for, processed
		FROM cleanup_schedule WHERE processed = 0 AND scheduled_for <= ?
		ORDER BY scheduled_for ASC`), dialect.FormatTime(now))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*CleanupEntry
	for rows.Next() {
		e := &CleanupEntry{}
		var scheduledFor string
		var processed int
		if err := rows.Scan(&e.ID, &e.WorkflowID, &scheduledFor, &processed); err != nil {
			return nil, err
		}
		if e.ScheduledFor, err = dialect.ParseTime(scheduledFor); err != nil {
			return nil, err
		}
		e.Processed = processed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkCleanupProcessed flips the processed flag on a cleanup_schedule row.
func (r *Repository) MarkCleanupProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE cleanup_schedule SET processed = 1 WHERE id = ?`), id)
	return err
}

// Tool usage

// RecordToolUsage appends a tool_usage row.
func (r *Repository) RecordToolUsage(ctx context.Context, toolName, sessionID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO tool_usage (id, tool_name, session_id, timestamp)
		VALUES (?, ?, ?, ?)`),
		uuid.New().String(), toolName, sessionID, dialect.FormatTime(time.Now().UTC()))
	return err
}
