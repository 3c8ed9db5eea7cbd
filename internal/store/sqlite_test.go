package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/freezone-advisor/internal/domain"
	"github.com/ashureev/freezone-advisor/internal/slots"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "advisor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteUsers(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	u := &domain.User{UserID: "u1", Email: "a@example.com", PasswordHash: "hash", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateUser(ctx, u))

	dup := *u
	dup.UserID = "u2"
	assert.ErrorIs(t, s.CreateUser(ctx, &dup), ErrUserExists)

	got, err := s.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "hash", got.PasswordHash)

	missing, err := s.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpdateLastSeen(ctx, "u1", now.Add(time.Hour)))
	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour).Unix(), got.LastSeenAt.Unix())
}

func TestSQLiteChats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"c1", "c2", "c3"} {
		at := base.Add(time.Duration(i) * time.Second)
		created, err := s.EnsureChat(ctx, &domain.Chat{ChatID: id, UserID: "u1", Name: "chat " + id, CreatedAt: at, UpdatedAt: at})
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err := s.EnsureChat(ctx, &domain.Chat{ChatID: "c1", UserID: "u1", Name: "renamed", CreatedAt: base, UpdatedAt: base})
	require.NoError(t, err)
	assert.False(t, created)

	chat, err := s.GetChat(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "chat c1", chat.Name)

	_, err = s.GetChat(ctx, "u2", "c1")
	assert.ErrorIs(t, err, ErrChatNotFound)

	latest, err := s.LatestChats(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "c3", latest[0].ChatID)
	assert.Equal(t, "c2", latest[1].ChatID)
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	schema := slots.DefaultSchema()

	_, err := s.GetSession(ctx, "u1:c1")
	require.ErrorIs(t, err, slots.ErrSessionNotFound)

	sess := slots.NewSession("u1:c1", schema, time.Now())
	sess.Slots["shareholders"] = slots.SlotValue{Name: "shareholders", Type: slots.TypeInt, Raw: "2", Value: int64(2), Present: true}
	sess.History = append(sess.History, slots.Turn{Sender: slots.SenderUser, Text: "two of us", Timestamp: time.Now()})
	require.NoError(t, s.PutSession(ctx, sess))

	got, err := s.GetSession(ctx, "u1:c1")
	require.NoError(t, err)
	n, ok := got.Slots["shareholders"].Int()
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
	assert.False(t, got.Present("visas"))
	require.Len(t, got.History, 1)
	assert.Equal(t, "two of us", got.History[0].Text)

	sess.History = append(sess.History, slots.Turn{Sender: slots.SenderAssistant, Text: "How many visas?", AskedFor: "visas"})
	require.NoError(t, s.PutSession(ctx, sess))
	got, err = s.GetSession(ctx, "u1:c1")
	require.NoError(t, err)
	assert.Equal(t, "visas", got.LastAskedFor())
}

func TestSQLiteBacksEngine(t *testing.T) {
	s := newTestSQLite(t)
	ex := slots.ExtractorFunc(func(context.Context, string, slots.Schema, []slots.Turn) (map[string]any, error) {
		return map[string]any{"shareholders": 1}, nil
	})
	engine, err := slots.NewEngine(slots.DefaultSchema(), s, ex, slots.Options{})
	require.NoError(t, err)

	res, err := engine.Submit(context.Background(), slots.SubmitRequest{SessionID: "u1:c1", Text: "just me", Create: true})
	require.NoError(t, err)
	assert.Equal(t, "visas", res.Action.Slot)

	stored, err := s.GetSession(context.Background(), "u1:c1")
	require.NoError(t, err)
	assert.True(t, stored.Present("shareholders"))
	assert.Len(t, stored.History, 2)
}
