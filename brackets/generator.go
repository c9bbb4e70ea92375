package brackets

import (
	"context"
	"errors"

	"github.com/Dosada05/skill-arena/models"
)

var (
	// ErrInvalidSize is returned when the participant count does not fit the bracket.
	ErrInvalidSize = errors.New("invalid bracket size")
	// ErrInvalidSeeding is returned for duplicate users or bracket positions.
	ErrInvalidSeeding = errors.New("invalid bracket seeding")
)

type GenerateBracketParams struct {
	Tournament   *models.Tournament
	Participants []*models.Participant
	// AllowByes accepts fewer participants than max_participants (but more than half).
	AllowByes bool
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error)

	GetName() string
}
