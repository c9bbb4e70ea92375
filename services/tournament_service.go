package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/skill-arena/brackets"
	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
)

type CreateTournamentInput struct {
	Name                 string    `json:"name"`
	GameID               *int      `json:"game_id,omitempty"`
	MaxParticipants      int       `json:"max_participants"`
	EntryFee             float64   `json:"entry_fee"`
	StartTime            time.Time `json:"start_time"`
	NoShowTimeoutMinutes *int      `json:"no_show_timeout_minutes,omitempty"`

	// Set only by the tournament scheduler; a template-spawned pool is fixed up front.
	TemplateID *int    `json:"-"`
	PrizePool  float64 `json:"-"`
}

type TournamentService interface {
	Create(ctx context.Context, creatorID int, input CreateTournamentInput) (*models.Tournament, error)
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	Join(ctx context.Context, tournamentID, userID int) (*models.Participant, error)
	Leave(ctx context.Context, tournamentID, userID int) error
	Cancel(ctx context.Context, tournamentID, requesterID int) (*models.Tournament, error)
}

type tournamentService struct {
	tx              repositories.Transactor
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	publisher       brackets.Publisher
	logger          *slog.Logger
}

func NewTournamentService(
	tx repositories.Transactor,
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	publisher brackets.Publisher,
	logger *slog.Logger,
) TournamentService {
	return &tournamentService{
		tx:              tx,
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		publisher:       publisher,
		logger:          logger,
	}
}

func (s *tournamentService) Create(ctx context.Context, creatorID int, input CreateTournamentInput) (*models.Tournament, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidationFailed)
	}
	if input.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: start_time is required", ErrValidationFailed)
	}
	if input.NoShowTimeoutMinutes != nil && *input.NoShowTimeoutMinutes <= 0 {
		return nil, fmt.Errorf("%w: no_show_timeout_minutes must be positive", ErrValidationFailed)
	}

	t := &models.Tournament{
		CreatorID:            creatorID,
		Name:                 name,
		GameID:               input.GameID,
		MaxParticipants:      input.MaxParticipants,
		EntryFee:             input.EntryFee,
		Status:               models.TournamentOpen,
		StartTime:            input.StartTime.UTC(),
		TemplateID:           input.TemplateID,
		NoShowTimeoutMinutes: input.NoShowTimeoutMinutes,
	}
	if t.HasFixedPrizePool() {
		t.PrizePool = input.PrizePool
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	if err := s.tournamentRepo.Create(ctx, nil, t); err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}
	s.logger.InfoContext(ctx, "tournament created",
		slog.Int("tournament_id", t.ID), slog.Int("creator_id", creatorID), slog.Int("max_participants", t.MaxParticipants))
	return t, nil
}

func (s *tournamentService) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	t, err := s.tournamentRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return t, nil
}

// Join seats the user at the next bracket position and collects the entry fee into the pool.
func (s *tournamentService) Join(ctx context.Context, tournamentID, userID int) (*models.Participant, error) {
	var (
		p *models.Participant
		t *models.Tournament
	)
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		t, err = s.tournamentRepo.GetForUpdate(ctx, exec, tournamentID)
		if err != nil {
			return mapRepoError(err)
		}
		if t.Status != models.TournamentOpen {
			return ErrRegistrationNotOpen
		}
		if t.CurrentParticipants >= t.MaxParticipants {
			return ErrTournamentFull
		}

		p = &models.Participant{
			TournamentID:    t.ID,
			UserID:          userID,
			BracketPosition: t.CurrentParticipants + 1,
		}
		if err := p.Validate(t.MaxParticipants); err != nil {
			return fmt.Errorf("%w: %w", ErrValidationFailed, err)
		}
		if err := s.participantRepo.Create(ctx, exec, p); err != nil {
			if errors.Is(err, repositories.ErrParticipantConflict) {
				return ErrRegistrationConflict
			}
			return err
		}

		t.CurrentParticipants++
		if !t.HasFixedPrizePool() {
			t.PrizePool += t.EntryFee
		}
		return s.tournamentRepo.UpdateParticipation(ctx, exec, t.ID, t.CurrentParticipants, t.PrizePool)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "participant joined",
		slog.Int("tournament_id", tournamentID), slog.Int("user_id", userID), slog.Int("position", p.BracketPosition))
	brackets.PublishTournament(s.publisher, t)
	return p, nil
}

// Leave is allowed only before the bracket exists; later positions shift down to stay contiguous.
func (s *tournamentService) Leave(ctx context.Context, tournamentID, userID int) error {
	var t *models.Tournament
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		t, err = s.tournamentRepo.GetForUpdate(ctx, exec, tournamentID)
		if err != nil {
			return mapRepoError(err)
		}
		if t.Status != models.TournamentOpen {
			return ErrRegistrationNotOpen
		}
		p, err := s.participantRepo.FindByUserAndTournament(ctx, exec, userID, tournamentID)
		if err != nil {
			return mapRepoError(err)
		}
		if err := s.participantRepo.Delete(ctx, exec, p.ID); err != nil {
			return mapRepoError(err)
		}
		if err := s.participantRepo.CompactPositionsAfter(ctx, exec, tournamentID, p.BracketPosition); err != nil {
			return err
		}

		t.CurrentParticipants--
		if !t.HasFixedPrizePool() {
			t.PrizePool -= t.EntryFee
			if t.PrizePool < 0 {
				t.PrizePool = 0
			}
		}
		return s.tournamentRepo.UpdateParticipation(ctx, exec, t.ID, t.CurrentParticipants, t.PrizePool)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "participant left", slog.Int("tournament_id", tournamentID), slog.Int("user_id", userID))
	brackets.PublishTournament(s.publisher, t)
	return nil
}

func (s *tournamentService) Cancel(ctx context.Context, tournamentID, requesterID int) (*models.Tournament, error) {
	var t *models.Tournament
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		t, err = s.tournamentRepo.GetForUpdate(ctx, exec, tournamentID)
		if err != nil {
			return mapRepoError(err)
		}
		if !t.IsOrganizer(requesterID) {
			return ErrForbiddenOperation
		}
		if t.Status.Terminal() {
			return ErrTournamentTerminal
		}
		t.Status = models.TournamentCancelled
		return s.tournamentRepo.UpdateStatus(ctx, exec, t.ID, t.Status)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "tournament cancelled", slog.Int("tournament_id", tournamentID), slog.Int("by", requesterID))
	brackets.PublishTournament(s.publisher, t)
	return t, nil
}
