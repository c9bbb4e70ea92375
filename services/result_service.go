package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
)

const maxReportAttempts = 3

var errReportRetry = errors.New("report lost a compare-and-set race")

type ReportOutcome string

const (
	OutcomeAwaitingOpponent ReportOutcome = "awaiting_opponent"
	OutcomeCompleted        ReportOutcome = "completed"
	OutcomeDisputed         ReportOutcome = "disputed"
	OutcomeUnchanged        ReportOutcome = "unchanged"
	OutcomeOrganizerResolve ReportOutcome = "organizer_resolved"
)

type ReportResult struct {
	Outcome   ReportOutcome `json:"outcome"`
	Match     *models.Match `json:"match"`
	DisputeID *int          `json:"dispute_id,omitempty"`
}

// ResultService reconciles the two independent player reports of a match.
type ResultService interface {
	ReportResult(ctx context.Context, matchID, winnerID, reporterID int) (*ReportResult, error)
}

type resultService struct {
	tx repositories.Transactor
	*progression
}

func NewResultService(tx repositories.Transactor, deps ProgressionDeps) ResultService {
	return &resultService{tx: tx, progression: deps.build()}
}

func (s *resultService) ReportResult(ctx context.Context, matchID, winnerID, reporterID int) (*ReportResult, error) {
	for attempt := 1; attempt <= maxReportAttempts; attempt++ {
		fx := &txEffects{}
		var result *ReportResult
		err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
			var txErr error
			result, txErr = s.report(ctx, exec, matchID, winnerID, reporterID, fx)
			return txErr
		})
		if errors.Is(err, errReportRetry) {
			s.logger.DebugContext(ctx, "report retry", slog.Int("match_id", matchID), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		s.publish(ctx, fx)
		return result, nil
	}
	s.logger.WarnContext(ctx, "report gave up after concurrent updates", slog.Int("match_id", matchID), slog.Int("reporter_id", reporterID))
	return nil, ErrConcurrentUpdate
}

func (s *resultService) report(ctx context.Context, exec repositories.SQLExecutor, matchID, winnerID, reporterID int, fx *txEffects) (*ReportResult, error) {
	m, err := s.matchRepo.GetByID(ctx, exec, matchID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	t, err := s.tournamentRepo.GetByID(ctx, exec, m.TournamentID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	slot := m.SlotOf(reporterID)
	if slot == models.SlotNone {
		if !t.IsOrganizer(reporterID) {
			return nil, ErrNotAParticipant
		}
		completed, err := s.forceResolve(ctx, exec, m, winnerID, "resolved by organizer", fx)
		if err != nil {
			return nil, err
		}
		return &ReportResult{Outcome: OutcomeOrganizerResolve, Match: completed}, nil
	}

	switch {
	case m.Status == models.MatchCompleted:
		return nil, ErrAlreadyCompleted
	case m.Status == models.MatchPending:
		return nil, ErrMatchNotReady
	case !m.IsPlayer(winnerID):
		return nil, ErrInvalidWinner
	case t.Status != models.TournamentInProgress:
		return nil, ErrTournamentNotActive
	}

	prev := m.ReportOf(slot)
	if prev != nil && *prev == winnerID {
		return &ReportResult{Outcome: OutcomeUnchanged, Match: m}, nil
	}

	reported, err := s.matchRepo.SetReport(ctx, exec, m.ID, slot, prev, &winnerID)
	if errors.Is(err, repositories.ErrMatchStateChanged) {
		return nil, errReportRetry
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store report for match %d: %w", m.ID, err)
	}
	fx.add(m, reported)

	switch {
	case !reported.BothReported():
		return &ReportResult{Outcome: OutcomeAwaitingOpponent, Match: reported}, nil

	case reported.ResultDisputed:
		// reports after a dispute are kept for the record; only an organizer can complete the match
		return &ReportResult{Outcome: OutcomeDisputed, Match: reported, DisputeID: s.pendingDisputeID(ctx, exec, m.ID)}, nil

	case reported.ReportsAgree():
		completed, err := s.matchRepo.CompleteWithReports(ctx, exec, m.ID, winnerID,
			reported.Player1ReportedWinner, reported.Player2ReportedWinner)
		if errors.Is(err, repositories.ErrMatchStateChanged) {
			return nil, errReportRetry
		}
		if err != nil {
			return nil, fmt.Errorf("failed to complete match %d: %w", m.ID, err)
		}
		fx.add(reported, completed)
		if err := s.advance(ctx, exec, completed, fx); err != nil {
			return nil, err
		}
		return &ReportResult{Outcome: OutcomeCompleted, Match: completed}, nil

	default:
		disputed, err := s.matchRepo.MarkDisputed(ctx, exec, m.ID,
			reported.Player1ReportedWinner, reported.Player2ReportedWinner)
		if errors.Is(err, repositories.ErrMatchStateChanged) {
			return nil, errReportRetry
		}
		if err != nil {
			return nil, fmt.Errorf("failed to flag dispute on match %d: %w", m.ID, err)
		}
		fx.add(reported, disputed)

		d := models.NewMatchDispute(disputed, models.DisputeConflictingReports)
		if err := s.disputeRepo.Create(ctx, exec, d); err != nil {
			if !errors.Is(err, repositories.ErrDisputeAlreadyOpen) {
				return nil, fmt.Errorf("failed to queue dispute for match %d: %w", m.ID, err)
			}
			return &ReportResult{Outcome: OutcomeDisputed, Match: disputed, DisputeID: s.pendingDisputeID(ctx, exec, m.ID)}, nil
		}
		s.logger.InfoContext(ctx, "match result disputed",
			slog.Int("match_id", m.ID), slog.Int("tournament_id", m.TournamentID), slog.Int("dispute_id", d.ID))
		return &ReportResult{Outcome: OutcomeDisputed, Match: disputed, DisputeID: &d.ID}, nil
	}
}

func (s *resultService) pendingDisputeID(ctx context.Context, exec repositories.SQLExecutor, matchID int) *int {
	d, err := s.disputeRepo.GetPendingByMatch(ctx, exec, matchID)
	if err != nil {
		return nil
	}
	return &d.ID
}
