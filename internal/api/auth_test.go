//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/freezone-advisor/internal/domain"
	"github.com/ashureev/freezone-advisor/internal/identity"
	"github.com/ashureev/freezone-advisor/internal/slots"
	"github.com/ashureev/freezone-advisor/internal/store"
)

type fakeRepo struct {
	*slots.MemoryStore
	mu      sync.Mutex
	users   map[string]*domain.User
	pingErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{MemoryStore: slots.NewMemoryStore(), users: make(map[string]*domain.User)}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	copy := *user
	return &copy, nil
}

func (f *fakeRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) CreateUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return store.ErrUserExists
		}
	}
	copy := *user
	f.users[user.UserID] = &copy
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeRepo) EnsureChat(_ context.Context, _ *domain.Chat) (bool, error) { return true, nil }

func (f *fakeRepo) GetChat(_ context.Context, _, _ string) (*domain.Chat, error) {
	return nil, store.ErrChatNotFound
}

func (f *fakeRepo) TouchChat(_ context.Context, _, _ string, _ time.Time) error { return nil }

func (f *fakeRepo) LatestChats(_ context.Context, _ string, _ int) ([]*domain.Chat, error) {
	return nil, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return f.pingErr }
func (f *fakeRepo) Close() error                 { return nil }

func newAuthRouter(repo *fakeRepo) (http.Handler, *identity.Tokens) {
	tokens := identity.NewTokens("0123456789abcdef", time.Hour)
	r := chi.NewRouter()
	NewAuthHandler(repo, tokens, 0).RegisterRoutes(r)
	return r, tokens
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterLoginProfile(t *testing.T) {
	repo := newFakeRepo()
	h, _ := newAuthRouter(repo)

	rec := do(t, h, http.MethodPost, "/auth/register", `{"email":"Owner@Example.com","password":"correct-horse"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/auth/register", `{"email":"owner@example.com","password":"another-pass"}`, "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "User already exists") {
		t.Fatalf("duplicate register = %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/auth/login", `{"email":"owner@example.com","password":"wrong-pass"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/auth/login", `{"email":"owner@example.com","password":"correct-horse"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&login); err != nil || login.AccessToken == "" {
		t.Fatalf("decode login: %v %+v", err, login)
	}

	rec = do(t, h, http.MethodGet, "/auth/profile", "", login.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d", rec.Code)
	}
	var profile map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile["email"] != "owner@example.com" || profile["id"] == "" {
		t.Fatalf("profile = %v", profile)
	}

	rec = do(t, h, http.MethodGet, "/auth/profile", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous profile status = %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	h, _ := newAuthRouter(newFakeRepo())
	for _, body := range []string{
		`{}`,
		`{"email":"owner@example.com"}`,
		`{"email":"not-an-email","password":"long-enough"}`,
		`{"email":"owner@example.com","password":"short"}`,
	} {
		rec := do(t, h, http.MethodPost, "/auth/register", body, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("register %s = %d, want 400", body, rec.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	repo := newFakeRepo()
	r := chi.NewRouter()
	NewHealthHandler(repo).RegisterHealth(r)

	rec := do(t, r, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", rec.Code)
	}

	repo.pingErr = errors.New("disk gone")
	rec = do(t, r, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "unreachable") {
		t.Fatalf("degraded = %d %s", rec.Code, rec.Body)
	}
}
