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
	"github.com/Dosada05/skill-arena/storage"
)

// ProgressionDeps wires the repositories and side channels shared by match-mutating services.
type ProgressionDeps struct {
	Tournaments  repositories.TournamentRepository
	Participants repositories.ParticipantRepository
	Matches      repositories.MatchRepository
	Disputes     repositories.DisputeRepository
	Publisher    brackets.Publisher
	Archiver     storage.BracketArchiver // nil disables archiving
	Logger       *slog.Logger
	Now          func() time.Time
}

func (d ProgressionDeps) build() *progression {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &progression{
		tournamentRepo:  d.Tournaments,
		participantRepo: d.Participants,
		matchRepo:       d.Matches,
		disputeRepo:     d.Disputes,
		publisher:       d.Publisher,
		archiver:        d.Archiver,
		logger:          logger,
		now:             now,
	}
}

type ResumeResult struct {
	Tournament *models.Tournament `json:"tournament"`
	Advanced   int                `json:"advanced"`
	Halted     bool               `json:"halted"`
}

type NoShowReport struct {
	Checked   int `json:"checked"`
	Forfeited int `json:"forfeited"`
	Escalated int `json:"escalated"`
}

type MatchService interface {
	GetMatch(ctx context.Context, matchID int) (*models.Match, error)
	// ResolveByOrganizer is the organizer override: it wins over any in-flight player report.
	ResolveByOrganizer(ctx context.Context, matchID, winnerID, organizerID int) (*models.Match, error)
	// ResolveDispute settles a pending dispute; actorID must be the organizer or the system user.
	ResolveDispute(ctx context.Context, disputeID, winnerID, actorID int, response string) (*models.Dispute, error)
	ListPendingDisputes(ctx context.Context, viewerID, limit int) ([]*models.Dispute, error)
	ResumeAdvancement(ctx context.Context, tournamentID, organizerID int) (*ResumeResult, error)
	EnforceNoShowTimeouts(ctx context.Context, now time.Time) (*NoShowReport, error)
}

type matchService struct {
	tx             repositories.Transactor
	systemUserID   int
	defaultTimeout time.Duration
	*progression
}

func NewMatchService(tx repositories.Transactor, deps ProgressionDeps, systemUserID int, defaultNoShowTimeout time.Duration) MatchService {
	return &matchService{
		tx:             tx,
		systemUserID:   systemUserID,
		defaultTimeout: defaultNoShowTimeout,
		progression:    deps.build(),
	}
}

func (s *matchService) GetMatch(ctx context.Context, matchID int) (*models.Match, error) {
	m, err := s.matchRepo.GetByID(ctx, nil, matchID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return m, nil
}

func (s *matchService) ResolveByOrganizer(ctx context.Context, matchID, winnerID, organizerID int) (*models.Match, error) {
	fx := &txEffects{}
	var completed *models.Match
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		m, err := s.matchRepo.GetByID(ctx, exec, matchID)
		if err != nil {
			return mapRepoError(err)
		}
		t, err := s.tournamentRepo.GetByID(ctx, exec, m.TournamentID)
		if err != nil {
			return mapRepoError(err)
		}
		if !t.IsOrganizer(organizerID) {
			return ErrForbiddenOperation
		}
		completed, err = s.forceResolve(ctx, exec, m, winnerID, "resolved by organizer", fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "match resolved by organizer",
		slog.Int("match_id", matchID), slog.Int("winner_id", winnerID), slog.Int("organizer_id", organizerID))
	s.publish(ctx, fx)
	return completed, nil
}

func (s *matchService) ResolveDispute(ctx context.Context, disputeID, winnerID, actorID int, response string) (*models.Dispute, error) {
	fx := &txEffects{}
	var resolved *models.Dispute
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		d, err := s.disputeRepo.GetByID(ctx, exec, disputeID)
		if err != nil {
			return mapRepoError(err)
		}
		if d.Status != models.DisputePending {
			return ErrDisputeClosed
		}
		if !d.IsParty(winnerID) {
			return ErrInvalidWinner
		}

		if d.MatchID == nil {
			if actorID != s.systemUserID {
				return ErrForbiddenOperation
			}
			if err := s.disputeRepo.Resolve(ctx, exec, d.ID, &winnerID, response, s.now()); err != nil {
				return mapDisputeResolveError(err)
			}
		} else {
			m, err := s.matchRepo.GetByID(ctx, exec, *d.MatchID)
			if err != nil {
				return mapRepoError(err)
			}
			t, err := s.tournamentRepo.GetByID(ctx, exec, m.TournamentID)
			if err != nil {
				return mapRepoError(err)
			}
			if actorID != s.systemUserID && !t.IsOrganizer(actorID) {
				return ErrForbiddenOperation
			}
			if m.Status == models.MatchCompleted {
				// stale dispute: the match was settled another way, close it with the recorded winner
				if err := s.disputeRepo.Resolve(ctx, exec, d.ID, m.WinnerID, "match already completed", s.now()); err != nil {
					return mapDisputeResolveError(err)
				}
			} else if _, err := s.forceResolve(ctx, exec, m, winnerID, response, fx); err != nil {
				return err
			}
		}

		resolved, err = s.disputeRepo.GetByID(ctx, exec, disputeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, fx)
	return resolved, nil
}

func mapDisputeResolveError(err error) error {
	if errors.Is(err, repositories.ErrDisputeNotPending) {
		return ErrDisputeClosed
	}
	return err
}

// ListPendingDisputes returns the review queue visible to viewerID: disputes where they are a
// party or the organizer. The system user sees everything.
func (s *matchService) ListPendingDisputes(ctx context.Context, viewerID, limit int) ([]*models.Dispute, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	pending, err := s.disputeRepo.ListPending(ctx, nil, limit)
	if err != nil {
		return nil, err
	}
	if viewerID == s.systemUserID {
		return pending, nil
	}
	organizerOf := make(map[int]bool)
	visible := make([]*models.Dispute, 0, len(pending))
	for _, d := range pending {
		if d.IsParty(viewerID) {
			visible = append(visible, d)
			continue
		}
		if d.TournamentID == nil {
			continue
		}
		isOrg, seen := organizerOf[*d.TournamentID]
		if !seen {
			t, err := s.tournamentRepo.GetByID(ctx, nil, *d.TournamentID)
			if err != nil {
				return nil, mapRepoError(err)
			}
			isOrg = t.IsOrganizer(viewerID)
			organizerOf[*d.TournamentID] = isOrg
		}
		if isOrg {
			visible = append(visible, d)
		}
	}
	return visible, nil
}

// ResumeAdvancement clears a halt and replays advancement for every completed match in round
// order. Replays are idempotent; a conflict that still exists halts the bracket again.
func (s *matchService) ResumeAdvancement(ctx context.Context, tournamentID, organizerID int) (*ResumeResult, error) {
	fx := &txEffects{}
	result := &ResumeResult{}
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		t, err := s.tournamentRepo.GetForUpdate(ctx, exec, tournamentID)
		if err != nil {
			return mapRepoError(err)
		}
		if !t.IsOrganizer(organizerID) {
			return ErrForbiddenOperation
		}
		if t.Status != models.TournamentInProgress {
			return ErrTournamentNotActive
		}
		if err := s.tournamentRepo.SetAdvancementHalt(ctx, exec, t.ID, false, nil); err != nil {
			return err
		}
		t.AdvancementHalted = false
		t.HaltReason = nil
		fx.tournament = t

		matches, err := s.matchRepo.ListByTournament(ctx, exec, t.ID)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if m.Status != models.MatchCompleted {
				continue
			}
			before := len(fx.changes)
			if err := s.advance(ctx, exec, m, fx); err != nil {
				return err
			}
			result.Advanced += len(fx.changes) - before
			if fx.tournament.AdvancementHalted {
				break
			}
		}
		result.Tournament = fx.tournament
		result.Halted = fx.tournament.AdvancementHalted
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "bracket advancement resumed",
		slog.Int("tournament_id", tournamentID), slog.Int("changes", result.Advanced), slog.Bool("halted", result.Halted))
	s.publish(ctx, fx)
	if !fx.champion && !result.Halted {
		brackets.PublishTournament(s.publisher, result.Tournament)
	}
	return result, nil
}

// EnforceNoShowTimeouts forfeits stale matches to the only player who reported, or escalates
// them as no_show disputes when nobody reported.
func (s *matchService) EnforceNoShowTimeouts(ctx context.Context, now time.Time) (*NoShowReport, error) {
	expired, err := s.matchRepo.ListNoShowExpired(ctx, nil, now, s.defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired matches: %w", err)
	}
	report := &NoShowReport{}

	for _, m := range expired {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		outcome, err := s.expire(ctx, m.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "no-show enforcement failed", slog.Int("match_id", m.ID), slog.Any("error", err))
			continue
		}
		switch outcome {
		case OutcomeCompleted:
			report.Forfeited++
		case OutcomeDisputed:
			report.Escalated++
		}
	}
	if report.Forfeited > 0 || report.Escalated > 0 {
		s.logger.InfoContext(ctx, "no-show timeouts enforced",
			slog.Int("forfeited", report.Forfeited), slog.Int("escalated", report.Escalated))
	}
	return report, nil
}

func (s *matchService) expire(ctx context.Context, matchID int) (ReportOutcome, error) {
	fx := &txEffects{}
	outcome := OutcomeUnchanged
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		m, err := s.matchRepo.GetByID(ctx, exec, matchID)
		if err != nil {
			return mapRepoError(err)
		}
		if m.Status != models.MatchInProgress || m.ResultDisputed {
			return nil
		}
		p1, p2 := m.Player1ReportedWinner, m.Player2ReportedWinner

		switch {
		case p1 != nil && p2 != nil:
			return nil
		case p1 != nil || p2 != nil:
			winner := p1
			if winner == nil {
				winner = p2
			}
			completed, err := s.matchRepo.CompleteWithReports(ctx, exec, m.ID, *winner, p1, p2)
			if errors.Is(err, repositories.ErrMatchStateChanged) {
				return nil
			}
			if err != nil {
				return err
			}
			fx.add(m, completed)
			outcome = OutcomeCompleted
			return s.advance(ctx, exec, completed, fx)
		default:
			disputed, err := s.matchRepo.MarkDisputed(ctx, exec, m.ID, nil, nil)
			if errors.Is(err, repositories.ErrMatchStateChanged) {
				return nil
			}
			if err != nil {
				return err
			}
			fx.add(m, disputed)
			if err := s.disputeRepo.Create(ctx, exec, models.NewMatchDispute(disputed, models.DisputeNoShow)); err != nil &&
				!errors.Is(err, repositories.ErrDisputeAlreadyOpen) {
				return err
			}
			outcome = OutcomeDisputed
			return nil
		}
	})
	if err != nil {
		return OutcomeUnchanged, err
	}
	s.publish(ctx, fx)
	return outcome, nil
}
