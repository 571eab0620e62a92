package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brokernomex/strategy-chat/internal/domain"
	"github.com/brokernomex/strategy-chat/internal/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; foreign keys for the message cascade.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		token_usage TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS trading_strategies (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		min_capital TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		configuration TEXT NOT NULL,
		reasoning TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trading_strategies_user ON trading_strategies(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a session and its welcome message in one transaction.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID, title string, welcome domain.ChatMessage) (*domain.ChatSession, error) {
	now := s.now()
	session := &domain.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if welcome.ID == "" {
		welcome.ID = uuid.NewString()
	}
	if welcome.CreatedAt.IsZero() {
		welcome.CreatedAt = now
	}

	err := shared.RetryOnConflict(ctx, "create_session", writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back create session", "error", rbErr)
			}
		}()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			session.ID, session.UserID, session.Title, now.UnixMilli(), now.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (id, session_id, role, content, token_usage, created_at) VALUES (?, ?, ?, ?, NULL, ?)`,
			welcome.ID, session.ID, string(welcome.Role), welcome.Content, welcome.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert welcome message: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	welcome.Transient = false
	session.Messages = []domain.ChatMessage{welcome}
	return session, nil
}

// ListSessionsByUser returns a user's sessions ordered by updated_at descending.
func (s *SQLiteStore) ListSessionsByUser(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM chat_sessions WHERE user_id = ?
		ORDER BY updated_at DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.ChatSession
	for rows.Next() {
		var session domain.ChatSession
		var createdAt, updatedAt int64
		if err := rows.Scan(&session.ID, &session.UserID, &session.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		session.CreatedAt = time.UnixMilli(createdAt)
		session.UpdatedAt = time.UnixMilli(updatedAt)
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionTitle renames a session owned by userID.
func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error {
	var affected int64
	err := shared.RetryOnConflict(ctx, "update_session_title", writeRetries, writeBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE chat_sessions SET title = ? WHERE id = ? AND user_id = ?`,
			title, sessionID, userID)
		if err != nil {
			return fmt.Errorf("update session title: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("update session title %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// TouchSession refreshes a session's updated_at.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	return shared.RetryOnConflict(ctx, "touch_session", writeRetries, writeBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, at.UnixMilli(), sessionID)
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
		}
		return nil
	})
}

// DeleteSession removes a session owned by userID together with its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	var affected int64
	err := shared.RetryOnConflict(ctx, "delete_session", writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back delete session", "error", rbErr)
			}
		}()

		result, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session messages: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("delete session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// InsertMessage appends a message to a session.
func (s *SQLiteStore) InsertMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	var usage interface{}
	if msg.Usage != nil {
		data, err := json.Marshal(msg.Usage)
		if err != nil {
			return fmt.Errorf("marshal token usage: %w", err)
		}
		usage = string(data)
	}

	return shared.RetryOnConflict(ctx, "insert_message", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO chat_messages (id, session_id, role, content, token_usage, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, sessionID, string(msg.Role), msg.Content, usage, msg.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

// ListMessagesBySession returns a session's messages in creation order.
func (s *SQLiteStore) ListMessagesBySession(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	query := `
		SELECT id, role, content, token_usage, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var role string
		var usage sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &usage, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt)
		if usage.Valid && usage.String != "" {
			var u domain.TokenUsage
			if err := json.Unmarshal([]byte(usage.String), &u); err != nil {
				slog.Warn("failed to decode token usage", "message_id", msg.ID, "error", err)
			} else {
				msg.Usage = &u
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// InsertStrategy persists a strategy and returns the stored record.
func (s *SQLiteStore) InsertStrategy(ctx context.Context, strategy domain.TradingStrategy) (*domain.TradingStrategy, error) {
	now := s.now()
	strategy.ID = uuid.NewString()
	strategy.CreatedAt = now
	strategy.UpdatedAt = now
	if strategy.Configuration == nil {
		strategy.Configuration = map[string]any{}
	}

	config, err := json.Marshal(strategy.Configuration)
	if err != nil {
		return nil, fmt.Errorf("marshal configuration: %w", err)
	}

	err = shared.RetryOnConflict(ctx, "insert_strategy", writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO trading_strategies (
				id, user_id, name, type, description, risk_level, min_capital,
				is_active, configuration, reasoning, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			strategy.ID, strategy.UserID, strategy.Name, string(strategy.Type), strategy.Description,
			string(strategy.RiskLevel), strategy.MinCapital.String(), strategy.IsActive,
			string(config), strategy.Reasoning, now.UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert strategy: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Round-trip the configuration so the returned record matches what a reload yields.
	stored := strategy
	stored.Configuration = map[string]any{}
	if err := json.Unmarshal(config, &stored.Configuration); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return &stored, nil
}

// ListStrategiesByUser returns a user's strategies in creation order.
func (s *SQLiteStore) ListStrategiesByUser(ctx context.Context, userID string) ([]domain.TradingStrategy, error) {
	query := `
		SELECT id, user_id, name, type, description, risk_level, min_capital,
		       is_active, configuration, reasoning, created_at, updated_at
		FROM trading_strategies WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close strategy rows", "error", closeErr)
		}
	}()

	var strategies []domain.TradingStrategy
	for rows.Next() {
		var st domain.TradingStrategy
		var typ, risk, capital, config string
		var reasoning sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&st.ID, &st.UserID, &st.Name, &typ, &st.Description, &risk, &capital,
			&st.IsActive, &config, &reasoning, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan strategy row: %w", err)
		}
		st.Type = domain.StrategyType(typ)
		st.RiskLevel = domain.RiskLevel(risk)
		st.MinCapital, err = decimal.NewFromString(capital)
		if err != nil {
			return nil, fmt.Errorf("parse min_capital for %s: %w", st.ID, err)
		}
		if err := json.Unmarshal([]byte(config), &st.Configuration); err != nil {
			return nil, fmt.Errorf("decode configuration for %s: %w", st.ID, err)
		}
		st.Reasoning = reasoning.String
		st.CreatedAt = time.UnixMilli(createdAt)
		st.UpdatedAt = time.UnixMilli(updatedAt)
		strategies = append(strategies, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategies: %w", err)
	}
	return strategies, nil
}

var _ Repository = (*SQLiteStore)(nil)
