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
	"sync"
	"time"

	"github.com/ashureev/freezone-advisor/internal/domain"
	"github.com/ashureev/freezone-advisor/internal/shared"
	"github.com/ashureev/freezone-advisor/internal/slots"
	_ "modernc.org/sqlite"
)

const (
	busyRetries   = 3
	busyBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes slot_sessions writes to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
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

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		user_id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, chat_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chats_user_created ON chats(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS slot_sessions (
		session_id TEXT PRIMARY KEY,
		slots_json TEXT NOT NULL,
		all_collected INTEGER NOT NULL DEFAULT 0,
		history_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_slot_sessions_updated ON slot_sessions(updated_at);
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

const userColumns = `user_id, email, password_hash, last_seen_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	if err := row.Scan(&user.UserID, &user.Email, &user.PasswordHash, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// CreateUser inserts a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	err := s.withBusyRetry(ctx, "create user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Email, user.PasswordHash,
			user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		return err
	})
	if shared.IsSQLiteUniqueError(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// EnsureChat inserts the chat unless the user already has one with that id.
func (s *SQLiteStore) EnsureChat(ctx context.Context, chat *domain.Chat) (bool, error) {
	query := `
	INSERT INTO chats (user_id, chat_id, name, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, chat_id) DO NOTHING`

	var created bool
	err := s.withBusyRetry(ctx, "ensure chat", func() error {
		result, err := s.db.ExecContext(ctx, query,
			chat.UserID, chat.ChatID, chat.Name,
			chat.CreatedAt.UnixNano(), chat.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		created = rows > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ensure chat: %w", err)
	}
	return created, nil
}

func scanChat(row interface{ Scan(...any) error }) (*domain.Chat, error) {
	var chat domain.Chat
	var createdAt, updatedAt int64
	if err := row.Scan(&chat.UserID, &chat.ChatID, &chat.Name, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	chat.CreatedAt = time.Unix(0, createdAt)
	chat.UpdatedAt = time.Unix(0, updatedAt)
	return &chat, nil
}

// GetChat returns one chat owned by userID.
func (s *SQLiteStore) GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, chat_id, name, created_at, updated_at
		FROM chats WHERE user_id = ? AND chat_id = ?`, userID, chatID)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}
	return chat, nil
}

// TouchChat bumps the chat's updated_at timestamp.
func (s *SQLiteStore) TouchChat(ctx context.Context, userID, chatID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE user_id = ? AND chat_id = ?`,
		at.UnixNano(), userID, chatID)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

// LatestChats returns the user's most recently created chats.
func (s *SQLiteStore) LatestChats(ctx context.Context, userID string, limit int) ([]*domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, chat_id, name, created_at, updated_at
		FROM chats WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest chats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close latest chats rows", "error", closeErr)
		}
	}()

	var chats []*domain.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan latest chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest chats: %w", err)
	}
	return chats, nil
}

// GetSession loads a slot session. Missing sessions yield slots.ErrSessionNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*slots.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, slots_json, all_collected, history_json, created_at, updated_at
		FROM slot_sessions WHERE session_id = ?`, id)

	var sess slots.Session
	var slotsJSON, historyJSON string
	var createdAt, updatedAt int64
	err := row.Scan(&sess.ID, &slotsJSON, &sess.AllCollected, &historyJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, slots.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan slot session: %w", err)
	}
	if err := json.Unmarshal([]byte(slotsJSON), &sess.Slots); err != nil {
		return nil, fmt.Errorf("decode slots for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &sess.History); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", id, err)
	}
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.UpdatedAt = time.Unix(0, updatedAt)
	return &sess, nil
}

// PutSession writes a slot session in a single statement, so a failed write
// leaves the previous row intact.
func (s *SQLiteStore) PutSession(ctx context.Context, sess *slots.Session) error {
	slotsJSON, err := json.Marshal(sess.Slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}
	history := sess.History
	if history == nil {
		history = []slots.Turn{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	query := `
	INSERT INTO slot_sessions (session_id, slots_json, all_collected, history_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		slots_json = excluded.slots_json,
		all_collected = excluded.all_collected,
		history_json = excluded.history_json,
		updated_at = excluded.updated_at`

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.withBusyRetry(ctx, "put slot session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.ID, string(slotsJSON), sess.AllCollected, string(historyJSON),
			sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
		)
		return err
	})
}

// withBusyRetry retries fn with exponential backoff while SQLite reports
// contention: 100ms, 200ms, then gives up.
func (s *SQLiteStore) withBusyRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < busyRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == busyRetries-1 {
			break
		}
		delay := busyBaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, busyRetries, err)
}
