package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/skill-arena/brackets"
	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
	"golang.org/x/sync/errgroup"
)

type GenerateBracketResult struct {
	MatchesCreated int             `json:"matches_created"`
	Rounds         int             `json:"rounds"`
	Matches        []*models.Match `json:"matches"`
}

// BracketSnapshot is the full state a client needs after (re)connecting.
type BracketSnapshot struct {
	Tournament   *models.Tournament    `json:"tournament"`
	Participants []*models.Participant `json:"participants"`
	Rounds       [][]*models.Match     `json:"rounds"`
}

type BracketService interface {
	GenerateBracket(ctx context.Context, tournamentID, requesterID int) (*GenerateBracketResult, error)
	GetBracket(ctx context.Context, tournamentID int) (*BracketSnapshot, error)
}

type bracketService struct {
	tx              repositories.Transactor
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	matchRepo       repositories.MatchRepository
	generator       brackets.BracketGenerator
	publisher       brackets.Publisher
	allowByes       bool
	logger          *slog.Logger
	now             func() time.Time
}

type BracketServiceConfig struct {
	AllowByes bool
}

func NewBracketService(
	tx repositories.Transactor,
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	matchRepo repositories.MatchRepository,
	publisher brackets.Publisher,
	logger *slog.Logger,
	cfg BracketServiceConfig,
) BracketService {
	return &bracketService{
		tx:              tx,
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		matchRepo:       matchRepo,
		generator:       brackets.NewSingleEliminationGenerator(),
		publisher:       publisher,
		allowByes:       cfg.AllowByes,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *bracketService) GenerateBracket(ctx context.Context, tournamentID, requesterID int) (*GenerateBracketResult, error) {
	var (
		t       *models.Tournament
		matches []*models.Match
	)
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		var err error
		t, err = s.tournamentRepo.GetForUpdate(ctx, exec, tournamentID)
		if err != nil {
			return mapRepoError(err)
		}
		if !t.IsOrganizer(requesterID) {
			return ErrForbiddenOperation
		}
		existing, err := s.matchRepo.CountByTournament(ctx, exec, t.ID)
		if err != nil {
			return err
		}
		if existing > 0 {
			return ErrBracketExists
		}
		if t.Status != models.TournamentOpen {
			return ErrRegistrationNotOpen
		}

		participants, err := s.participantRepo.ListByTournament(ctx, exec, t.ID)
		if err != nil {
			return err
		}
		generated, err := s.generator.GenerateBracket(ctx, brackets.GenerateBracketParams{
			Tournament:   t,
			Participants: participants,
			AllowByes:    s.allowByes,
		})
		if err != nil {
			if errors.Is(err, brackets.ErrInvalidSize) || errors.Is(err, brackets.ErrInvalidSeeding) {
				return err
			}
			return fmt.Errorf("failed to generate bracket structure for tournament %d: %w", t.ID, err)
		}

		now := s.now()
		matches = brackets.ToMatches(t.ID, generated)
		for _, m := range matches {
			switch m.Status {
			case models.MatchInProgress:
				m.StartedAt = &now
			case models.MatchCompleted:
				m.CompletedAt = &now
			}
			if err := m.Validate(t.MaxParticipants); err != nil {
				return fmt.Errorf("generated match R%dM%d is invalid: %w", m.RoundNumber, m.MatchNumber, err)
			}
		}
		if err := s.matchRepo.CreateBatch(ctx, exec, matches); err != nil {
			if errors.Is(err, repositories.ErrMatchPositionTaken) {
				return ErrBracketExists
			}
			return err
		}

		t.Status = models.TournamentInProgress
		return s.tournamentRepo.UpdateStatus(ctx, exec, t.ID, t.Status)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "bracket generated",
		slog.Int("tournament_id", t.ID), slog.Int("matches", len(matches)), slog.Int("rounds", t.Rounds()))
	for _, m := range matches {
		brackets.PublishMatch(s.publisher, nil, m)
	}
	brackets.PublishTournament(s.publisher, t)

	return &GenerateBracketResult{
		MatchesCreated: len(matches),
		Rounds:         t.Rounds(),
		Matches:        matches,
	}, nil
}

func (s *bracketService) GetBracket(ctx context.Context, tournamentID int) (*BracketSnapshot, error) {
	snapshot := &BracketSnapshot{}
	var matches []*models.Match

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.tournamentRepo.GetByID(gCtx, nil, tournamentID)
		if err != nil {
			return mapRepoError(err)
		}
		snapshot.Tournament = t
		return nil
	})
	g.Go(func() error {
		participants, err := s.participantRepo.ListByTournament(gCtx, nil, tournamentID)
		if err != nil {
			return err
		}
		snapshot.Participants = participants
		return nil
	})
	g.Go(func() error {
		var err error
		matches, err = s.matchRepo.ListByTournament(gCtx, nil, tournamentID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	view := brackets.NewBracketView(tournamentID)
	view.Reset(matches)
	snapshot.Rounds = view.Rounds()
	return snapshot, nil
}
