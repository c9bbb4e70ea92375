package services

import (
	"errors"

	"github.com/Dosada05/skill-arena/brackets"
)

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	ErrValidationFailed   = errors.New("validation failed")
	ErrForbiddenOperation = errors.New("operation not allowed for the current user")

	ErrTournamentNotFound  = errors.New("tournament not found")
	ErrMatchNotFound       = errors.New("match not found")
	ErrDisputeNotFound     = errors.New("dispute not found")
	ErrParticipantNotFound = errors.New("participant registration not found")

	// Турнир и регистрация
	ErrRegistrationNotOpen  = errors.New("tournament registration is not open")
	ErrTournamentFull       = errors.New("tournament registration is full")
	ErrRegistrationConflict = errors.New("user is already registered for this tournament")
	ErrTournamentTerminal   = errors.New("tournament is already completed or cancelled")
	ErrTournamentNotActive  = errors.New("tournament is not in progress")

	// Сетка
	ErrInvalidSize       = brackets.ErrInvalidSize
	ErrBracketExists     = errors.New("tournament already has a bracket")
	ErrAdvancementHalted = errors.New("bracket advancement is halted pending organizer intervention")

	// Результаты матчей
	ErrNotAParticipant  = errors.New("reporter is neither a player of this match nor the organizer")
	ErrAlreadyCompleted = errors.New("match is already completed")
	ErrMatchNotReady    = errors.New("match does not have both players yet")
	ErrInvalidWinner    = errors.New("winner must be one of the match players")
	ErrConcurrentUpdate = errors.New("match was updated concurrently, please retry")
	ErrDisputeClosed    = errors.New("dispute is already resolved")
)
