package models

import (
	"errors"
	"fmt"
	"math/bits"
	"time"
)

// TournamentStatus mirrors the tournament_status enum in the database.
type TournamentStatus string

const (
	TournamentOpen       TournamentStatus = "open"
	TournamentInProgress TournamentStatus = "in_progress"
	TournamentCompleted  TournamentStatus = "completed"
	TournamentCancelled  TournamentStatus = "cancelled"
)

func (s TournamentStatus) Valid() bool {
	switch s {
	case TournamentOpen, TournamentInProgress, TournamentCompleted, TournamentCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further state changes are allowed.
func (s TournamentStatus) Terminal() bool {
	return s == TournamentCompleted || s == TournamentCancelled
}

var (
	ErrTournamentInvalidCapacity = errors.New("max participants must be a power of two and at least 2")
	ErrTournamentInvalidCount    = errors.New("current participants out of range")
	ErrTournamentInvalidMoney    = errors.New("entry fee and prize pool must not be negative")
	ErrTournamentInvalidStatus   = errors.New("invalid tournament status")
	ErrTournamentCreatorRequired = errors.New("tournament creator is required")
)

// Tournament is a single-elimination tournament.
type Tournament struct {
	ID                   int              `json:"id" db:"id"`
	CreatorID            int              `json:"creator_id" db:"creator_id"`
	Name                 string           `json:"name" db:"name"`
	GameID               *int             `json:"game_id,omitempty" db:"game_id"`
	MaxParticipants      int              `json:"max_participants" db:"max_participants"`
	CurrentParticipants  int              `json:"current_participants" db:"current_participants"`
	EntryFee             float64          `json:"entry_fee" db:"entry_fee"`
	PrizePool            float64          `json:"prize_pool" db:"prize_pool"`
	Status               TournamentStatus `json:"status" db:"status"`
	StartTime            time.Time        `json:"start_time" db:"start_time"`
	TemplateID           *int             `json:"template_id,omitempty" db:"template_id"`
	NoShowTimeoutMinutes *int             `json:"no_show_timeout_minutes,omitempty" db:"no_show_timeout_minutes"`
	WinnerID             *int             `json:"winner_id,omitempty" db:"winner_id"`
	AdvancementHalted    bool             `json:"advancement_halted" db:"advancement_halted"`
	HaltReason           *string          `json:"halt_reason,omitempty" db:"halt_reason"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
}

// Validate checks the record-level invariants of a tournament row.
func (t *Tournament) Validate() error {
	if t.CreatorID <= 0 {
		return ErrTournamentCreatorRequired
	}
	if !IsPowerOfTwo(t.MaxParticipants) || t.MaxParticipants < 2 {
		return fmt.Errorf("%w: got %d", ErrTournamentInvalidCapacity, t.MaxParticipants)
	}
	if t.CurrentParticipants < 0 || t.CurrentParticipants > t.MaxParticipants {
		return fmt.Errorf("%w: %d of %d", ErrTournamentInvalidCount, t.CurrentParticipants, t.MaxParticipants)
	}
	if t.EntryFee < 0 || t.PrizePool < 0 {
		return ErrTournamentInvalidMoney
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrTournamentInvalidStatus, t.Status)
	}
	return nil
}

// Rounds returns log2(max_participants).
func (t *Tournament) Rounds() int {
	return RoundsFor(t.MaxParticipants)
}

func (t *Tournament) IsOrganizer(userID int) bool {
	return userID > 0 && userID == t.CreatorID
}

// HasFixedPrizePool is true for template-spawned tournaments whose pool is guaranteed up front.
func (t *Tournament) HasFixedPrizePool() bool {
	return t.TemplateID != nil
}

// NoShowTimeout is the tournament's own no-show timeout, or def when it has none.
func (t *Tournament) NoShowTimeout(def time.Duration) time.Duration {
	if t.NoShowTimeoutMinutes != nil && *t.NoShowTimeoutMinutes > 0 {
		return time.Duration(*t.NoShowTimeoutMinutes) * time.Minute
	}
	return def
}

func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// RoundsFor returns the number of rounds for a bracket of size n (n must be a power of two).
func RoundsFor(n int) int {
	if n < 2 {
		return 0
	}
	return bits.Len(uint(n)) - 1
}

// MatchesInRound returns max_participants / 2^round.
func MatchesInRound(maxParticipants, round int) int {
	if round < 1 {
		return 0
	}
	return maxParticipants >> uint(round)
}
