package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/arena?sslmode=disable")
	t.Setenv("JWT_SECRET_KEY", "secret")
}

func TestParse_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.BracketAllowByes)
	assert.Equal(t, 30, cfg.MatchNoShowTimeoutMinutes)
	assert.Equal(t, time.Minute, cfg.AutomationPollInterval)
	assert.False(t, cfg.AutomationParallel)
	assert.Zero(t, cfg.AutomationJobTimeout)
	assert.Zero(t, cfg.AutomationBackoffMax)
	assert.Equal(t, 0.9, cfg.DisputeMinConfidence)
	assert.Equal(t, 2.0, cfg.VerifierRPS)
	assert.False(t, cfg.R2Enabled())
}

func TestParse_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("BRACKET_ALLOW_BYES", "true")
	t.Setenv("AUTOMATION_PARALLEL", "true")
	t.Setenv("AUTOMATION_JOB_TIMEOUT", "45s")
	t.Setenv("AUTOMATION_BACKOFF_MAX", "1h")
	t.Setenv("R2_ACCOUNT_ID", "acc")
	t.Setenv("R2_ACCESS_KEY_ID", "key")
	t.Setenv("R2_SECRET_ACCESS_KEY", "secret")
	t.Setenv("R2_BUCKET_NAME", "brackets")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.BracketAllowByes)
	assert.True(t, cfg.AutomationParallel)
	assert.Equal(t, 45*time.Second, cfg.AutomationJobTimeout)
	assert.Equal(t, time.Hour, cfg.AutomationBackoffMax)
	assert.True(t, cfg.R2Enabled())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port out of range", "SERVER_PORT", "70000"},
		{"zero no-show timeout", "MATCH_NO_SHOW_TIMEOUT_MINUTES", "0"},
		{"fee rate of one", "PLATFORM_FEE_RATE", "1"},
		{"confidence above one", "DISPUTE_MIN_CONFIDENCE", "1.5"},
		{"zero batch", "DISPUTE_BATCH_SIZE", "0"},
		{"zero poll interval", "AUTOMATION_POLL_INTERVAL", "0s"},
		{"zero no-show poll", "MATCH_NO_SHOW_POLL_INTERVAL", "0s"},
		{"not a number", "SERVER_PORT", "http"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.val)
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

func TestParse_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET_KEY", "secret")
	_, err := Parse()
	assert.Error(t, err)
}
