package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the application reads from the environment.
type Config struct {
	DatabaseURL  string `env:"DATABASE_URL,required,notEmpty"`
	JWTSecretKey string `env:"JWT_SECRET_KEY,required,notEmpty"`
	ServerPort   int    `env:"SERVER_PORT" envDefault:"8080"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	// R2 is optional; an empty account id disables bracket archiving.
	R2AccountID       string `env:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `env:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `env:"R2_BUCKET_NAME"`
	R2PublicBaseURL   string `env:"R2_PUBLIC_BASE_URL"`

	BracketAllowByes          bool          `env:"BRACKET_ALLOW_BYES" envDefault:"false"`
	MatchNoShowTimeoutMinutes int           `env:"MATCH_NO_SHOW_TIMEOUT_MINUTES" envDefault:"30"`
	NoShowPollInterval        time.Duration `env:"MATCH_NO_SHOW_POLL_INTERVAL" envDefault:"1m"`

	AutomationKey                   string        `env:"AUTOMATION_KEY"`
	AutomationPollInterval          time.Duration `env:"AUTOMATION_POLL_INTERVAL" envDefault:"1m"`
	AutomationParallel              bool          `env:"AUTOMATION_PARALLEL" envDefault:"false"`
	AutomationMaxParallel           int           `env:"AUTOMATION_MAX_PARALLEL" envDefault:"5"`
	AutomationJobTimeout            time.Duration `env:"AUTOMATION_JOB_TIMEOUT" envDefault:"0s"`
	AutomationBackoffMax            time.Duration `env:"AUTOMATION_BACKOFF_MAX" envDefault:"0s"`
	AutomationMaxConsecutiveFailure int           `env:"AUTOMATION_MAX_CONSECUTIVE_FAILURES" envDefault:"0"`

	SystemUserID    int     `env:"SYSTEM_USER_ID" envDefault:"1"`
	PlatformFeeRate float64 `env:"PLATFORM_FEE_RATE" envDefault:"0.1"`

	DisputeBatchSize     int     `env:"DISPUTE_BATCH_SIZE" envDefault:"20"`
	DisputeMinConfidence float64 `env:"DISPUTE_MIN_CONFIDENCE" envDefault:"0.9"`

	VerifierBaseURL string        `env:"VERIFIER_BASE_URL"`
	VerifierAPIKey  string        `env:"VERIFIER_API_KEY"`
	VerifierRPS     float64       `env:"VERIFIER_RPS" envDefault:"2"`
	VerifierTimeout time.Duration `env:"VERIFIER_TIMEOUT" envDefault:"5s"`

	MarketPopularityWindow  time.Duration `env:"MARKET_POPULARITY_WINDOW" envDefault:"24h"`
	MarketMinOpenChallenges int           `env:"MARKET_MIN_OPEN_CHALLENGES" envDefault:"3"`
	MarketMaxPerRun         int           `env:"MARKET_MAX_PER_RUN" envDefault:"10"`
	MarketDefaultEntryFee   float64       `env:"MARKET_DEFAULT_ENTRY_FEE" envDefault:"5"`
	MarketPopularGames      int           `env:"MARKET_POPULAR_GAMES" envDefault:"5"`
}

// R2Enabled reports whether object storage credentials were provided.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

// Load reads the configuration from the environment, loading a .env file first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the process environment without touching .env files.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	if c.MatchNoShowTimeoutMinutes <= 0 {
		return fmt.Errorf("MATCH_NO_SHOW_TIMEOUT_MINUTES must be positive, got %d", c.MatchNoShowTimeoutMinutes)
	}
	if c.PlatformFeeRate < 0 || c.PlatformFeeRate >= 1 {
		return fmt.Errorf("PLATFORM_FEE_RATE must be in [0, 1), got %v", c.PlatformFeeRate)
	}
	if c.DisputeMinConfidence <= 0 || c.DisputeMinConfidence > 1 {
		return fmt.Errorf("DISPUTE_MIN_CONFIDENCE must be in (0, 1], got %v", c.DisputeMinConfidence)
	}
	if c.DisputeBatchSize <= 0 {
		return fmt.Errorf("DISPUTE_BATCH_SIZE must be positive, got %d", c.DisputeBatchSize)
	}
	if c.AutomationPollInterval <= 0 {
		return fmt.Errorf("AUTOMATION_POLL_INTERVAL must be positive, got %s", c.AutomationPollInterval)
	}
	if c.NoShowPollInterval <= 0 {
		return fmt.Errorf("MATCH_NO_SHOW_POLL_INTERVAL must be positive, got %s", c.NoShowPollInterval)
	}
	if c.AutomationMaxParallel <= 0 {
		c.AutomationMaxParallel = 1
	}
	return nil
}
