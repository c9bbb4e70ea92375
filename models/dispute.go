package models

import "time"

type DisputeStatus string

const (
	DisputePending  DisputeStatus = "pending"
	DisputeResolved DisputeStatus = "resolved"
)

type DisputeReason string

const (
	DisputeConflictingReports DisputeReason = "conflicting_reports"
	DisputeNoShow             DisputeReason = "no_show"
)

// Dispute keeps both player reports verbatim so the audit trail survives resolution.
type Dispute struct {
	ID               int           `json:"id"`
	MatchID          *int          `json:"match_id,omitempty"`
	TournamentID     *int          `json:"tournament_id,omitempty"`
	Player1ID        *int          `json:"player1_id,omitempty"`
	Player2ID        *int          `json:"player2_id,omitempty"`
	Player1Report    *int          `json:"player1_report,omitempty"`
	Player2Report    *int          `json:"player2_report,omitempty"`
	Reason           DisputeReason `json:"reason"`
	Status           DisputeStatus `json:"status"`
	AdminResponse    *string       `json:"admin_response,omitempty"`
	ResolvedWinnerID *int          `json:"resolved_winner_id,omitempty"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// IsParty reports whether userID is one of the two disputing players.
func (d *Dispute) IsParty(userID int) bool {
	return (d.Player1ID != nil && *d.Player1ID == userID) || (d.Player2ID != nil && *d.Player2ID == userID)
}

// NewMatchDispute snapshots the current reports of m into a pending dispute.
func NewMatchDispute(m *Match, reason DisputeReason) *Dispute {
	id := m.ID
	tid := m.TournamentID
	c := m.Clone()
	return &Dispute{
		MatchID:       &id,
		TournamentID:  &tid,
		Player1ID:     c.Player1ID,
		Player2ID:     c.Player2ID,
		Player1Report: c.Player1ReportedWinner,
		Player2Report: c.Player2ReportedWinner,
		Reason:        reason,
		Status:        DisputePending,
	}
}
