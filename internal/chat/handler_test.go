package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/freezone-advisor/internal/domain"
	"github.com/ashureev/freezone-advisor/internal/identity"
	"github.com/ashureev/freezone-advisor/internal/slots"
	"github.com/ashureev/freezone-advisor/internal/store"
)

type fakeRepo struct {
	*slots.MemoryStore
	mu        sync.Mutex
	chats     map[string]*domain.Chat
	seq       int
	order     map[string]int
	ensureErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		MemoryStore: slots.NewMemoryStore(),
		chats:       make(map[string]*domain.Chat),
		order:       make(map[string]int),
	}
}

func (f *fakeRepo) GetUser(context.Context, string) (*domain.User, error)        { return nil, nil }
func (f *fakeRepo) GetUserByEmail(context.Context, string) (*domain.User, error) { return nil, nil }
func (f *fakeRepo) CreateUser(context.Context, *domain.User) error               { return nil }
func (f *fakeRepo) UpdateLastSeen(context.Context, string, time.Time) error      { return nil }
func (f *fakeRepo) Ping(context.Context) error                                   { return nil }
func (f *fakeRepo) Close() error                                                 { return nil }

func (f *fakeRepo) EnsureChat(_ context.Context, chat *domain.Chat) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return false, f.ensureErr
	}
	key := domain.SessionKey(chat.UserID, chat.ChatID)
	if _, ok := f.chats[key]; ok {
		return false, nil
	}
	c := *chat
	f.chats[key] = &c
	f.seq++
	f.order[key] = f.seq
	return true, nil
}

func (f *fakeRepo) GetChat(_ context.Context, userID, chatID string) (*domain.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[domain.SessionKey(userID, chatID)]
	if !ok {
		return nil, store.ErrChatNotFound
	}
	out := *c
	return &out, nil
}

func (f *fakeRepo) TouchChat(_ context.Context, userID, chatID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chats[domain.SessionKey(userID, chatID)]; ok {
		c.UpdatedAt = at
	}
	return nil
}

func (f *fakeRepo) LatestChats(_ context.Context, userID string, limit int) ([]*domain.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k, c := range f.chats {
		if c.UserID == userID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return f.order[keys[i]] > f.order[keys[j]] })
	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]*domain.Chat, 0, len(keys))
	for _, k := range keys {
		c := *f.chats[k]
		out = append(out, &c)
	}
	return out, nil
}

func testSchema() slots.Schema {
	return slots.MustSchema(
		slots.Definition{Name: "shareholders", Type: slots.TypeInt, Required: true},
		slots.Definition{Name: "visas", Type: slots.TypeInt, Required: true},
	)
}

var script = map[string]map[string]any{
	"two partners": {"shareholders": 2},
	"three visas":  {"visas": 3},
}

type testEnv struct {
	repo    *fakeRepo
	handler *Handler
	router  http.Handler
	tokens  *identity.Tokens
	token   string
}

func newTestEnv(t *testing.T, ex slots.Extractor, opts HandlerOptions) *testEnv {
	t.Helper()
	if ex == nil {
		ex = slots.ExtractorFunc(func(_ context.Context, text string, _ slots.Schema, _ []slots.Turn) (map[string]any, error) {
			return script[text], nil
		})
	}
	repo := newFakeRepo()
	engine, err := slots.NewEngine(testSchema(), repo, ex, slots.Options{ExtractionTimeout: time.Second})
	require.NoError(t, err)

	tokens := identity.NewTokens("0123456789abcdef", time.Hour)
	token, err := tokens.Issue("usr_1", "owner@example.com")
	require.NoError(t, err)

	h := NewHandler(NewService(repo, engine), tokens, opts)
	t.Cleanup(h.Close)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return &testEnv{repo: repo, handler: h, router: r, tokens: tokens, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestAskConversationFlow(t *testing.T) {
	env := newTestEnv(t, nil, HandlerOptions{})

	rec := env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"c1","message":"two partners"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[AskResponse](t, rec)
	assert.False(t, first.AllParametersCollected)
	assert.NotEmpty(t, first.Response)

	rec = env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"c1","message":"three visas"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[AskResponse](t, rec)
	assert.True(t, second.AllParametersCollected)
	assert.Contains(t, second.Response, "2")
	assert.Contains(t, second.Response, "3")

	rec = env.do(t, http.MethodGet, "/chatbot/chat-history?chat_id=c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[map[string][]domain.StoredMessage](t, rec)["chat_history"]
	require.Len(t, hist, 4)
	assert.Equal(t, SenderUser, hist[0].Sender)
	assert.Equal(t, "two partners", hist[0].Content)
	assert.Equal(t, SenderBot, hist[1].Sender)
	assert.Equal(t, second.Response, hist[3].Content)

	chat, err := env.repo.GetChat(context.Background(), "usr_1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "two partners", chat.Name)
}

func TestAskValidation(t *testing.T) {
	env := newTestEnv(t, nil, HandlerOptions{})

	for _, body := range []string{
		`{"message":"hi"}`,
		`{"chat_id":"c1"}`,
		`{"chat_id":"c1","message":""}`,
		`not json`,
		``,
	} {
		rec := env.do(t, http.MethodPost, "/chatbot/ask", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.Contains(t, rec.Body.String(), `"msg"`)
	}
}

func TestAskRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil, HandlerOptions{})
	req := httptest.NewRequest(http.MethodPost, "/chatbot/ask", strings.NewReader(`{"chat_id":"c1","message":"hi"}`))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAskRateLimited(t *testing.T) {
	env := newTestEnv(t, nil, HandlerOptions{RateLimiter: NewRateLimiter(0.001, 1)})

	rec := env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"c1","message":"hi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"c1","message":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAskErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "extraction_timeout", true},
		{"failure", errors.New("upstream 500"), http.StatusServiceUnavailable, "extraction_failed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := slots.ExtractorFunc(func(context.Context, string, slots.Schema, []slots.Turn) (map[string]any, error) {
				return nil, tt.err
			})
			env := newTestEnv(t, ex, HandlerOptions{})
			rec := env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"c1","message":"hi"}`)
			assert.Equal(t, tt.status, rec.Code)
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, FallbackResponse, body.Response)
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, tt.retryable, body.Retryable)
		})
	}
}

func TestFailedFirstTurnKeepsEmptyChat(t *testing.T) {
	fail := true
	ex := slots.ExtractorFunc(func(_ context.Context, text string, _ slots.Schema, _ []slots.Turn) (map[string]any, error) {
		if fail {
			return nil, context.DeadlineExceeded
		}
		return script[text], nil
	})
	env := newTestEnv(t, ex, HandlerOptions{})

	rec := env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"c1","message":"two partners"}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	rec = env.do(t, http.MethodGet, "/chatbot/latest-chats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []chatSummary{{ChatID: "c1", Name: "two partners"}},
		decode[map[string][]chatSummary](t, rec)["latest_chats"])

	rec = env.do(t, http.MethodGet, "/chatbot/chat-history?chat_id=c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]domain.StoredMessage](t, rec)["chat_history"])

	fail = false
	rec = env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"c1","message":"two partners"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/chatbot/chat-history?chat_id=c1", "")
	assert.Len(t, decode[map[string][]domain.StoredMessage](t, rec)["chat_history"], 2)
}

func TestAskStoreFailure(t *testing.T) {
	env := newTestEnv(t, nil, HandlerOptions{})
	env.repo.ensureErr = errors.New("database is locked")

	rec := env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"c1","message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "store_unavailable", body.Error)
	assert.True(t, body.Retryable)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{slots.ErrExtractionTimeout, http.StatusGatewayTimeout, "extraction_timeout"},
		{slots.ErrExtractionFailed, http.StatusServiceUnavailable, "extraction_failed"},
		{slots.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
		{slots.ErrSchemaMismatch, http.StatusUnprocessableEntity, "schema_mismatch"},
		{slots.ErrUnknownSession, http.StatusNotFound, "unknown_session"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestLatestChats(t *testing.T) {
	env := newTestEnv(t, nil, HandlerOptions{})
	for _, id := range []string{"a", "b", "c"} {
		rec := env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"`+id+`","message":"hello `+id+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/chatbot/latest-chats?x=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string][]chatSummary](t, rec)["latest_chats"]
	assert.Equal(t, []chatSummary{{ChatID: "c", Name: "hello c"}, {ChatID: "b", Name: "hello b"}}, got)

	rec = env.do(t, http.MethodGet, "/chatbot/latest-chats?x=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]chatSummary](t, rec)["latest_chats"], 3)
}

func TestHistoryUnknownChat(t *testing.T) {
	env := newTestEnv(t, nil, HandlerOptions{})

	rec := env.do(t, http.MethodGet, "/chatbot/chat-history?chat_id=nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/chatbot/chat-history", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryIsPerUser(t *testing.T) {
	env := newTestEnv(t, nil, HandlerOptions{})
	rec := env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"shared","message":"two partners"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	other, err := env.tokens.Issue("usr_2", "other@example.com")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/chatbot/chat-history?chat_id=shared", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type recordingObserver struct {
	mu      sync.Mutex
	results int
	errs    int
}

func (o *recordingObserver) ObserveResult(*slots.Result) {
	o.mu.Lock()
	o.results++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveError(error) {
	o.mu.Lock()
	o.errs++
	o.mu.Unlock()
}

func TestAskNotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	env := newTestEnv(t, nil, HandlerOptions{Observer: obs})

	env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"c1","message":"two partners"}`)
	env.do(t, http.MethodPost, "/chatbot/ask", `{"chat_id":"c1","message":"three visas"}`)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.results)
	assert.Equal(t, 0, obs.errs)
}
