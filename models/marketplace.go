package models

import "time"

// TournamentTemplate drives the tournament_scheduler job.
type TournamentTemplate struct {
	ID                int       `json:"id"`
	Name              string    `json:"name"`
	GameID            *int      `json:"game_id,omitempty"`
	MaxParticipants   int       `json:"max_participants"`
	EntryFee          float64   `json:"entry_fee"`
	IntervalMinutes   int       `json:"interval_minutes"`
	StartDelayMinutes int       `json:"start_delay_minutes"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

// PricingRule is read and repriced by the dynamic_pricing job.
type PricingRule struct {
	ID               int        `json:"id"`
	GameID           int        `json:"game_id"`
	BasePrice        float64    `json:"base_price"`
	CurrentPrice     float64    `json:"current_price"`
	MinPrice         float64    `json:"min_price"`
	MaxPrice         float64    `json:"max_price"`
	DemandMultiplier float64    `json:"demand_multiplier"`
	SupplyMultiplier float64    `json:"supply_multiplier"`
	IsActive         bool       `json:"is_active"`
	LastAdjustedAt   *time.Time `json:"last_adjusted_at,omitempty"`
}

type FraudPatternType string

const (
	FraudWinRate FraudPatternType = "win_rate"
	FraudKDRatio FraudPatternType = "kd_ratio"
)

type FraudAction string

const (
	FraudActionFlag     FraudAction = "flag"
	FraudActionRestrict FraudAction = "restrict"
)

type FraudPattern struct {
	ID            int              `json:"id"`
	Name          string           `json:"name"`
	PatternType   FraudPatternType `json:"pattern_type"`
	Threshold     float64          `json:"threshold"`
	MinSampleSize int              `json:"min_sample_size"`
	LookbackHours int              `json:"lookback_hours"`
	Severity      string           `json:"severity"`
	AutoAction    FraudAction      `json:"auto_action"`
	IsActive      bool             `json:"is_active"`
}

// PlayerStatSnapshot aggregates a player's recent results for one game.
type PlayerStatSnapshot struct {
	UserID      int       `json:"user_id"`
	GameID      int       `json:"game_id"`
	GamesPlayed int       `json:"games_played"`
	Wins        int       `json:"wins"`
	Kills       int       `json:"kills"`
	Deaths      int       `json:"deaths"`
	CapturedAt  time.Time `json:"captured_at"`
}

type SuspiciousActivity struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	PatternID int       `json:"pattern_id"`
	Score     float64   `json:"score"`
	Severity  string    `json:"severity"`
	Details   string    `json:"details"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type ChallengeStatus string

const (
	ChallengeOpen      ChallengeStatus = "open"
	ChallengeMatched   ChallengeStatus = "matched"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeCancelled ChallengeStatus = "cancelled"
)

// Challenge is a 1v1 wager listing; market making seeds system-owned ones.
type Challenge struct {
	ID        int             `json:"id"`
	GameID    int             `json:"game_id"`
	CreatorID int             `json:"creator_id"`
	EntryFee  float64         `json:"entry_fee"`
	Status    ChallengeStatus `json:"status"`
	IsSystem  bool            `json:"is_system"`
	CreatedAt time.Time       `json:"created_at"`
}

// GamePopularity is the number of challenges created for a game within a window.
type GamePopularity struct {
	GameID     int `json:"game_id"`
	Challenges int `json:"challenges"`
}
