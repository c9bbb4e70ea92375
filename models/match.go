package models

import (
	"errors"
	"fmt"
	"time"
)

type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
)

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, MatchInProgress, MatchCompleted:
		return true
	}
	return false
}

// Slot identifies one of the two player positions of a match.
type Slot int

const (
	SlotNone    Slot = 0
	SlotPlayer1 Slot = 1
	SlotPlayer2 Slot = 2
)

var (
	ErrMatchInvalidRound    = errors.New("match round out of range")
	ErrMatchInvalidNumber   = errors.New("match number out of range")
	ErrMatchInvalidStatus   = errors.New("invalid match status")
	ErrMatchWinnerInvalid   = errors.New("completed match must have a winner equal to one of its players")
	ErrMatchWinnerPremature = errors.New("only a completed match may carry a winner")
	ErrMatchPlayersMissing  = errors.New("in-progress match must have both players")
	ErrMatchSamePlayer      = errors.New("a player cannot face themselves")
)

type Match struct {
	ID                    int         `json:"id"`
	TournamentID          int         `json:"tournament_id"`
	RoundNumber           int         `json:"round_number"`
	MatchNumber           int         `json:"match_number"`
	Player1ID             *int        `json:"player1_id"`
	Player2ID             *int        `json:"player2_id"`
	WinnerID              *int        `json:"winner_id"`
	Status                MatchStatus `json:"status"`
	Player1ReportedWinner *int        `json:"player1_reported_winner"`
	Player2ReportedWinner *int        `json:"player2_reported_winner"`
	ResultDisputed        bool        `json:"result_disputed"`
	ConfirmedByOrganizer  bool        `json:"confirmed_by_organizer"`
	IsBye                 bool        `json:"is_bye"`
	StartedAt             *time.Time  `json:"started_at,omitempty"`
	CompletedAt           *time.Time  `json:"completed_at,omitempty"`
	Version               int         `json:"version"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// Validate checks the position, status and player fields of a single match against its bracket size.
func (m *Match) Validate(maxParticipants int) error {
	rounds := RoundsFor(maxParticipants)
	if m.RoundNumber < 1 || m.RoundNumber > rounds {
		return fmt.Errorf("%w: round %d of %d", ErrMatchInvalidRound, m.RoundNumber, rounds)
	}
	if limit := MatchesInRound(maxParticipants, m.RoundNumber); m.MatchNumber < 1 || m.MatchNumber > limit {
		return fmt.Errorf("%w: match %d of %d in round %d", ErrMatchInvalidNumber, m.MatchNumber, limit, m.RoundNumber)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrMatchInvalidStatus, m.Status)
	}
	if m.Player1ID != nil && m.Player2ID != nil && *m.Player1ID == *m.Player2ID {
		return ErrMatchSamePlayer
	}
	switch m.Status {
	case MatchCompleted:
		if m.WinnerID == nil || m.SlotOf(*m.WinnerID) == SlotNone {
			return ErrMatchWinnerInvalid
		}
	case MatchInProgress:
		if !m.HasBothPlayers() {
			return ErrMatchPlayersMissing
		}
		fallthrough
	default:
		if m.WinnerID != nil {
			return ErrMatchWinnerPremature
		}
	}
	return nil
}

func (m *Match) HasBothPlayers() bool {
	return m.Player1ID != nil && m.Player2ID != nil
}

// SlotOf returns the slot userID occupies in this match, or SlotNone.
func (m *Match) SlotOf(userID int) Slot {
	switch {
	case m.Player1ID != nil && *m.Player1ID == userID:
		return SlotPlayer1
	case m.Player2ID != nil && *m.Player2ID == userID:
		return SlotPlayer2
	}
	return SlotNone
}

func (m *Match) IsPlayer(userID int) bool {
	return m.SlotOf(userID) != SlotNone
}

func (m *Match) PlayerIn(slot Slot) *int {
	switch slot {
	case SlotPlayer1:
		return m.Player1ID
	case SlotPlayer2:
		return m.Player2ID
	}
	return nil
}

// ReportOf returns the winner reported by the player in slot.
func (m *Match) ReportOf(slot Slot) *int {
	switch slot {
	case SlotPlayer1:
		return m.Player1ReportedWinner
	case SlotPlayer2:
		return m.Player2ReportedWinner
	}
	return nil
}

// BothReported reports whether both players have submitted a result.
func (m *Match) BothReported() bool {
	return m.Player1ReportedWinner != nil && m.Player2ReportedWinner != nil
}

// ReportsAgree is true when both players reported the same winner.
func (m *Match) ReportsAgree() bool {
	return m.BothReported() && *m.Player1ReportedWinner == *m.Player2ReportedWinner
}

// IsChampionship reports whether this is the final match of a bracket with the given size.
func (m *Match) IsChampionship(maxParticipants int) bool {
	return m.RoundNumber == RoundsFor(maxParticipants)
}

// NextPosition returns where the winner of this match advances: match ⌈m/2⌉ of round r+1,
// player1 slot for odd m and player2 slot for even m.
func (m *Match) NextPosition() (round, number int, slot Slot) {
	return NextPosition(m.RoundNumber, m.MatchNumber)
}

func NextPosition(round, matchNumber int) (int, int, Slot) {
	slot := SlotPlayer2
	if matchNumber%2 == 1 {
		slot = SlotPlayer1
	}
	return round + 1, (matchNumber + 1) / 2, slot
}

// Clone returns a deep copy so callers can diff before/after states.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	c.Player1ID = cloneInt(m.Player1ID)
	c.Player2ID = cloneInt(m.Player2ID)
	c.WinnerID = cloneInt(m.WinnerID)
	c.Player1ReportedWinner = cloneInt(m.Player1ReportedWinner)
	c.Player2ReportedWinner = cloneInt(m.Player2ReportedWinner)
	if m.StartedAt != nil {
		t := *m.StartedAt
		c.StartedAt = &t
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ChangedFields lists the json names of fields that differ between two states of the same match.
// A nil before means the match was just created and every field is reported.
func ChangedFields(before, after *Match) []string {
	all := []string{
		"player1_id", "player2_id", "winner_id", "status",
		"player1_reported_winner", "player2_reported_winner",
		"result_disputed", "confirmed_by_organizer", "is_bye",
	}
	if before == nil {
		return all
	}
	changed := make([]string, 0, len(all))
	if !EqualIntPtr(before.Player1ID, after.Player1ID) {
		changed = append(changed, "player1_id")
	}
	if !EqualIntPtr(before.Player2ID, after.Player2ID) {
		changed = append(changed, "player2_id")
	}
	if !EqualIntPtr(before.WinnerID, after.WinnerID) {
		changed = append(changed, "winner_id")
	}
	if before.Status != after.Status {
		changed = append(changed, "status")
	}
	if !EqualIntPtr(before.Player1ReportedWinner, after.Player1ReportedWinner) {
		changed = append(changed, "player1_reported_winner")
	}
	if !EqualIntPtr(before.Player2ReportedWinner, after.Player2ReportedWinner) {
		changed = append(changed, "player2_reported_winner")
	}
	if before.ResultDisputed != after.ResultDisputed {
		changed = append(changed, "result_disputed")
	}
	if before.ConfirmedByOrganizer != after.ConfirmedByOrganizer {
		changed = append(changed, "confirmed_by_organizer")
	}
	if before.IsBye != after.IsBye {
		changed = append(changed, "is_bye")
	}
	return changed
}

func EqualIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
