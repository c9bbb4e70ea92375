package models

import (
	"errors"
	"time"
)

var ErrParticipantInvalidPosition = errors.New("bracket position out of range")

type Participant struct {
	ID              int       `json:"id"`
	TournamentID    int       `json:"tournament_id"`
	UserID          int       `json:"user_id"`
	BracketPosition int       `json:"bracket_position"`
	CreatedAt       time.Time `json:"created_at"`
}

func (p *Participant) Validate(maxParticipants int) error {
	if p.UserID <= 0 || p.TournamentID <= 0 {
		return errors.New("participant requires tournament and user")
	}
	if p.BracketPosition < 1 || p.BracketPosition > maxParticipants {
		return ErrParticipantInvalidPosition
	}
	return nil
}
