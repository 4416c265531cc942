package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
)

// SQLiteStore persists agents, channel membership and messages in one
// SQLite database. It implements both domain.AgentStore and domain.ChannelManager.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open orchestrator db: %w", err)
	}
	// Single writer; pragmas below apply to the one pooled connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate orchestrator db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			status          TEXT NOT NULL,
			channel_id      TEXT NOT NULL DEFAULT '',
			parent_agent_id TEXT NOT NULL DEFAULT '',
			data            TEXT NOT NULL,
			created_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
		CREATE INDEX IF NOT EXISTS idx_agents_parent ON agents(parent_agent_id);

		CREATE TABLE IF NOT EXISTS channel_participants (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			joined_at  TEXT NOT NULL,
			UNIQUE(channel_id, agent_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL UNIQUE,
			channel_id    TEXT NOT NULL,
			from_agent_id TEXT NOT NULL,
			to_agent_id   TEXT NOT NULL DEFAULT '',
			type          TEXT NOT NULL,
			data          TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, seq);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, a *domain.OrchestratedAgent) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, status, channel_id, parent_agent_id, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		a.ID, string(a.Status), a.ChannelID, a.ParentAgentID, string(data),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", a.ID, domain.ErrDuplicate)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, a *domain.OrchestratedAgent) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE agents SET status = ?, channel_id = ?, parent_agent_id = ?, data = ? WHERE id = ?",
		string(a.Status), a.ChannelID, a.ParentAgentID, string(data), a.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.OrchestratedAgent, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM agents WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeAgent(data)
}

func (s *SQLiteStore) List(ctx context.Context, f domain.AgentFilter) ([]*domain.OrchestratedAgent, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ChannelID != "" {
		where = append(where, "channel_id = ?")
		args = append(args, f.ChannelID)
	}
	if f.ParentAgentID != "" {
		where = append(where, "parent_agent_id = ?")
		args = append(args, f.ParentAgentID)
	}
	if f.ActiveOnly {
		where = append(where, "status != ?")
		args = append(args, string(domain.AgentStatusTerminated))
	}
	query := "SELECT data FROM agents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*domain.OrchestratedAgent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		a, err := decodeAgent(data)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *SQLiteStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents WHERE status != ?",
		string(domain.AgentStatusTerminated)).Scan(&n)
	return n, err
}

func decodeAgent(data string) (*domain.OrchestratedAgent, error) {
	var a domain.OrchestratedAgent
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, fmt.Errorf("unmarshal agent: %w", err)
	}
	return &a, nil
}

// AddParticipant joins agentID to channelID. Joining twice keeps the original position.
func (s *SQLiteStore) AddParticipant(ctx context.Context, channelID, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO channel_participants (channel_id, agent_id, joined_at) VALUES (?, ?, ?)",
		channelID, agentID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RemoveParticipant reports whether agentID was a member of channelID.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, channelID, agentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM channel_participants WHERE channel_id = ? AND agent_id = ?", channelID, agentID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) GetParticipants(ctx context.Context, channelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT agent_id FROM channel_participants WHERE channel_id = ? ORDER BY seq", channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StoreMessage records msg. Storing the same message id twice is a no-op.
func (s *SQLiteStore) StoreMessage(ctx context.Context, msg domain.AgentMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, channel_id, from_agent_id, to_agent_id, type, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.FromAgentID, msg.ToAgentID, string(msg.Type), string(data),
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Messages returns the stored history of channelID, oldest first.
func (s *SQLiteStore) Messages(ctx context.Context, channelID string) ([]domain.AgentMessage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM messages WHERE channel_id = ? ORDER BY seq", channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.AgentMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var m domain.AgentMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
