package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/ashureev/freezone-advisor/internal/slots"
)

const sessionKeyPrefix = "slots/session/v1/"

// BadgerSessionStore keeps slot sessions in an embedded Badger key-value
// store. It only implements the session half of Repository; users and chats
// stay in SQLite.
type BadgerSessionStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens (or creates) a Badger session store at dir. An empty dir
// opens an in-memory store.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerSessionStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerSessionStore{db: db, logger: logger}, nil
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// GetSession loads a session or returns slots.ErrSessionNotFound.
func (b *BadgerSessionStore) GetSession(ctx context.Context, id string) (*slots.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, slots.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get session: %w", err)
	}

	var sess slots.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// PutSession writes the session in one transaction.
func (b *BadgerSessionStore) PutSession(ctx context.Context, sess *slots.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(sess.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("badger put session: %w", err)
	}
	b.logger.Debug("Session saved", "session_id", sess.ID, "bytes", len(raw))
	return nil
}

// Close flushes and closes the database.
func (b *BadgerSessionStore) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}
