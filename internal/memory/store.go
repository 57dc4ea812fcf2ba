package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"clawgate/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	DefaultMaxHistory = 100
	recallCandidates  = 200
)

var ErrNotFound = errors.New("memory not found")

// SQLiteStore persists sessions, long-term memories and the audit log.
// It implements domain.SessionStore, domain.MemoryStore and
// domain.AuditLogger.
type SQLiteStore struct {
	db         *sql.DB
	maxHistory int
	logger     *slog.Logger
}

type Config struct {
	DBPath     string
	MaxHistory int // messages kept per session; oldest are dropped first
	Logger     *slog.Logger
}

func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, maxHistory: cfg.MaxHistory, logger: cfg.Logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- SessionStore ---

// SaveSession replaces the stored history of sess.ID with sess.Messages.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess domain.Session) error {
	msgs := trimHistory(sess.Messages, s.maxHistory)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, sender_id, channel_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET sender_id = excluded.sender_id, channel_id = excluded.channel_id, updated_at = excluded.updated_at`,
		sess.ID, sess.SenderID, sess.ChannelID, now, now,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear session messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_messages (session_id, seq, role, content, tool_calls, tool_call_id, tool_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range msgs {
		var toolCalls sql.NullString
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, sess.ID, i, m.Role, m.Content, toolCalls, m.ToolCallID, m.ToolName); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// LoadSession returns the stored history in order. An unknown session has
// an empty history.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, tool_name
		 FROM session_messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var content, toolCalls, toolCallID, toolName sql.NullString
		if err := rows.Scan(&m.Role, &content, &toolCalls, &toolCallID, &toolName); err != nil {
			return nil, err
		}
		m.Content = content.String
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SessionCount returns the number of stored sessions.
func (s *SQLiteStore) SessionCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// trimHistory keeps at most max messages, dropping the oldest. The kept
// window always starts at a user message so no tool result is left without
// the assistant turn that requested it.
func trimHistory(msgs []domain.Message, max int) []domain.Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	start := len(msgs) - max
	for start < len(msgs) && msgs[start].Role != domain.RoleUser {
		start++
	}
	return msgs[start:]
}

// --- MemoryStore ---

func (s *SQLiteStore) Store(ctx context.Context, content string, tags []string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("memory content is empty")
	}
	if tags == nil {
		tags = []string{}
	}
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, content, tags, created_at) VALUES (?, ?, ?, ?)`,
		id, content, string(tagJSON), time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return id, nil
}

// Recall returns up to limit memories matching the query's keywords, ranked
// by the number of distinct keywords matched and then by recency.
func (s *SQLiteStore) Recall(ctx context.Context, query string, limit int) ([]domain.MemoryEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := keywords(query)
	if len(terms) == 0 {
		return nil, nil
	}

	where := make([]string, len(terms))
	args := make([]any, 0, len(terms)+1)
	for i, t := range terms {
		where[i] = "lower(content) LIKE ? ESCAPE '\\'"
		args = append(args, "%"+escapeLike(t)+"%")
	}
	args = append(args, recallCandidates)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, tags, created_at FROM memories
		 WHERE `+strings.Join(where, " OR ")+`
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type scored struct {
		entry domain.MemoryEntry
		hits  int
	}
	var found []scored
	for rows.Next() {
		var e domain.MemoryEntry
		var tags sql.NullString
		if err := rows.Scan(&e.ID, &e.Content, &tags, &e.CreatedAt); err != nil {
			return nil, err
		}
		if tags.Valid && tags.String != "" {
			_ = json.Unmarshal([]byte(tags.String), &e.Tags)
		}
		lower := strings.ToLower(e.Content)
		hits := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		found = append(found, scored{entry: e, hits: hits})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Stable: rows arrive newest first, so equal scores keep recency order.
	sort.SliceStable(found, func(i, j int) bool { return found[i].hits > found[j].hits })
	if len(found) > limit {
		found = found[:limit]
	}
	out := make([]domain.MemoryEntry, len(found))
	for i, f := range found {
		out[i] = f.entry
	}
	return out, nil
}

func (s *SQLiteStore) Forget(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "you": true, "are": true, "was": true,
	"what": true, "with": true, "that": true, "this": true, "have": true, "about": true,
}

// keywords lower-cases query and returns its distinct words of three or more
// letters, minus common stop words.
func keywords(query string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r == '_' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r > 127)
	}) {
		if len([]rune(w)) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// --- AuditLogger ---

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, tool_name, command, result, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Action, entry.ToolName, entry.Command, entry.Result, entry.Details, time.Now().UTC(),
	)
	return err
}

// RecentAudit returns the newest audit entries first.
func (s *SQLiteStore) RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, tool_name, command, result, details FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var tool, cmd, result, details sql.NullString
		if err := rows.Scan(&e.Action, &tool, &cmd, &result, &details); err != nil {
			return nil, err
		}
		e.ToolName, e.Command, e.Result, e.Details = tool.String, cmd.String, result.String, details.String
		out = append(out, e)
	}
	return out, rows.Err()
}

var (
	_ domain.SessionStore = (*SQLiteStore)(nil)
	_ domain.MemoryStore  = (*SQLiteStore)(nil)
	_ domain.AuditLogger  = (*SQLiteStore)(nil)
)
