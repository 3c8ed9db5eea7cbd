package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/freezone-advisor/internal/domain"
	"github.com/ashureev/freezone-advisor/internal/identity"
	"github.com/ashureev/freezone-advisor/internal/store"
)

type credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthHandler serves registration, login and the profile endpoint.
type AuthHandler struct {
	repo        store.Repository
	tokens      *identity.Tokens
	maxBodySize int64
	now         func() time.Time
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(repo store.Repository, tokens *identity.Tokens, maxBodySize int64) *AuthHandler {
	return &AuthHandler{repo: repo, tokens: tokens, maxBodySize: maxBodySize, now: time.Now}
}

// RegisterRoutes mounts /auth. Profile sits behind the bearer middleware.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(identity.Middleware(h.tokens)).Get("/profile", h.Profile)
	})
}

// Register creates an account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	email := normalizeEmail(req.Email)

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "failed to register user")
		return
	}
	userID, err := identity.NewUserID()
	if err != nil {
		slog.Error("Failed to generate user id", "error", err)
		Error(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	now := h.now()
	err = h.repo.CreateUser(r.Context(), &domain.User{
		UserID:       userID,
		Email:        email,
		PasswordHash: hash,
		LastSeenAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, store.ErrUserExists) {
		Error(w, http.StatusBadRequest, "User already exists")
		return
	}
	if err != nil {
		slog.Error("Failed to create user", "error", err)
		Error(w, http.StatusServiceUnavailable, "failed to register user")
		return
	}

	slog.Info("User registered", "user_id", userID)
	JSON(w, http.StatusCreated, map[string]string{"msg": "User registered successfully"})
}

// Login verifies credentials and returns an access token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.repo.GetUserByEmail(r.Context(), normalizeEmail(req.Email))
	if err != nil {
		slog.Error("Failed to load user for login", "error", err)
		Error(w, http.StatusServiceUnavailable, "login temporarily unavailable")
		return
	}
	if user == nil || identity.CheckPassword(user.PasswordHash, req.Password) != nil {
		Error(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user.UserID, user.Email)
	if err != nil {
		slog.Error("Failed to issue token", "error", err, "user_id", user.UserID)
		Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	if err := h.repo.UpdateLastSeen(r.Context(), user.UserID, h.now()); err != nil {
		slog.Warn("Failed to update last seen", "error", err, "user_id", user.UserID)
	}

	JSON(w, http.StatusOK, map[string]string{"access_token": token})
}

// Profile returns the caller's identity.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load profile", "error", err, "user_id", userID)
		Error(w, http.StatusServiceUnavailable, "profile temporarily unavailable")
		return
	}
	if user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"id": user.UserID, "email": user.Email})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
