package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "0123456789abcdef")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, SessionStoreSQLite, cfg.SessionStore)
	assert.Equal(t, ProviderRules, cfg.LLM.Provider)
	assert.Equal(t, 15*time.Second, cfg.ExtractionTimeout)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins())
}

func TestLoadPicksProviderFromKey(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "0123456789abcdef")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("EXTRACTION_TIMEOUT", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey())
	assert.Equal(t, 5*time.Second, cfg.ExtractionTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"short secret", map[string]string{"JWT_SECRET_KEY": "short"}},
		{"unknown store", map[string]string{"SESSION_STORE": "redis"}},
		{"provider without key", map[string]string{"LLM_PROVIDER": "openai", "OPENAI_API_KEY": ""}},
		{"bad policy", map[string]string{"SLOT_UNKNOWN_POLICY": "maybe"}},
		{"zero rate", map[string]string{"RATE_LIMIT_RPS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET_KEY", "0123456789abcdef")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestAllowedOriginsSplitsList(t *testing.T) {
	cfg := &Config{FrontendURL: "https://advisor.example.com, https://admin.example.com"}
	assert.Equal(t, []string{"https://advisor.example.com", "https://admin.example.com"}, cfg.AllowedOrigins())
	assert.False(t, cfg.IsDevelopment())
}
