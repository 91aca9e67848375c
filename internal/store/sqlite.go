// Package store provides the durable SQLite store behind the skill
// registry, the routing audit log, and the approval queue.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"valet/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.SkillStore, domain.AuditSink and
// domain.ApprovalStore on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS skills (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		description      TEXT,
		trigger_patterns TEXT NOT NULL DEFAULT '[]',
		required_inputs  TEXT NOT NULL DEFAULT '[]',
		outputs          TEXT NOT NULL DEFAULT '[]',
		dependencies     TEXT NOT NULL DEFAULT '[]',
		autonomy_level   TEXT NOT NULL DEFAULT 'full',
		enabled          INTEGER NOT NULL DEFAULT 1,
		position         INTEGER NOT NULL DEFAULT 0,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS routing_audit (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT,
		skill_id        TEXT NOT NULL,
		confidence      REAL NOT NULL,
		path            TEXT NOT NULL,
		message_preview TEXT,
		reasoning       TEXT,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON routing_audit(created_at);

	CREATE TABLE IF NOT EXISTS approvals (
		id          TEXT PRIMARY KEY,
		chat_id     TEXT NOT NULL,
		skill_id    TEXT NOT NULL,
		message     TEXT,
		state       TEXT NOT NULL DEFAULT 'pending',
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		resolved_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_state ON approvals(state);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- domain.SkillStore ---

// FetchEnabledSkills returns all enabled skill rows in insertion order.
// Classifier tie-breaking depends on this order being stable.
func (s *SQLiteStore) FetchEnabledSkills(ctx context.Context) ([]domain.SkillDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, trigger_patterns, required_inputs,
		       outputs, dependencies, autonomy_level, enabled
		FROM skills WHERE enabled = 1 ORDER BY position, created_at`)
	if err != nil {
		return nil, fmt.Errorf("fetch skills: %w", err)
	}
	defer rows.Close()

	var skills []domain.SkillDescriptor
	for rows.Next() {
		var sk domain.SkillDescriptor
		var patterns, inputs, outputs, deps string
		var enabled int
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.Description, &patterns,
			&inputs, &outputs, &deps, &sk.AutonomyLevel, &enabled); err != nil {
			return nil, fmt.Errorf("scan skill row: %w", err)
		}
		sk.Enabled = enabled == 1
		if err := unmarshalList(patterns, &sk.TriggerPatterns); err != nil {
			s.logger.Warn("invalid trigger_patterns, skipping skill", "id", sk.ID, "err", err)
			continue
		}
		// Informational columns: a parse failure here does not disqualify the row.
		_ = unmarshalList(inputs, &sk.RequiredInputs)
		_ = unmarshalList(outputs, &sk.Outputs)
		_ = unmarshalList(deps, &sk.Dependencies)
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

// SeedSkills inserts or replaces skill rows, preserving the given order.
func (s *SQLiteStore) SeedSkills(ctx context.Context, skills []domain.SkillDescriptor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback()

	for i, sk := range skills {
		patterns, _ := json.Marshal(sk.TriggerPatterns)
		inputs, _ := json.Marshal(sk.RequiredInputs)
		outputs, _ := json.Marshal(sk.Outputs)
		deps, _ := json.Marshal(sk.Dependencies)
		enabled := 0
		if sk.Enabled {
			enabled = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO skills
				(id, name, description, trigger_patterns, required_inputs,
				 outputs, dependencies, autonomy_level, enabled, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sk.ID, sk.Name, sk.Description, string(patterns), string(inputs),
			string(outputs), string(deps), string(sk.AutonomyLevel), enabled, i); err != nil {
			return fmt.Errorf("seed skill %s: %w", sk.ID, err)
		}
	}
	return tx.Commit()
}

func unmarshalList(raw string, dst *[]string) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

// --- domain.AuditSink ---

func (s *SQLiteStore) RecordRouting(ctx context.Context, e domain.AuditEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routing_audit
			(conversation_id, skill_id, confidence, path, message_preview, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ConversationID, e.SkillID, e.Confidence, e.Path, e.MessagePreview, e.Reasoning, createdAt)
	if err != nil {
		return fmt.Errorf("record routing audit: %w", err)
	}
	return nil
}

// RecentRoutings returns the newest audit entries, most recent first.
// Used by the status endpoint and the skills CLI command.
func (s *SQLiteStore) RecentRoutings(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, skill_id, confidence, path, message_preview, reasoning, created_at
		FROM routing_audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ConversationID, &e.SkillID, &e.Confidence,
			&e.Path, &e.MessagePreview, &e.Reasoning, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- domain.ApprovalStore ---

func (s *SQLiteStore) CreateApproval(ctx context.Context, a domain.Approval) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	state := a.State
	if state == "" {
		state = domain.ApprovalPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, chat_id, skill_id, message, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ChatID, a.SkillID, a.Message, string(state), createdAt)
	if err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

// ResolveApproval moves a pending approval to a terminal state. Resolving an
// already-resolved approval is an error.
func (s *SQLiteStore) ResolveApproval(ctx context.Context, id string, state domain.ApprovalState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET state = ?, resolved_at = ?
		WHERE id = ? AND state = 'pending'`,
		string(state), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("approval %s is not pending", id)
	}
	return nil
}

func (s *SQLiteStore) ListPendingApprovals(ctx context.Context) ([]domain.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, skill_id, message, state, created_at, resolved_at
		FROM approvals WHERE state = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	var approvals []domain.Approval
	for rows.Next() {
		var a domain.Approval
		var state string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.ChatID, &a.SkillID, &a.Message, &state,
			&a.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan approval row: %w", err)
		}
		a.State = domain.ApprovalState(state)
		if resolvedAt.Valid {
			a.ResolvedAt = &resolvedAt.Time
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}
