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

// matchChange is one committed transition; before is nil for inserts.
type matchChange struct {
	before *models.Match
	after  *models.Match
}

// txEffects collects what a transaction changed so it can be broadcast after commit.
type txEffects struct {
	changes    []matchChange
	tournament *models.Tournament
	champion   bool
}

func (e *txEffects) add(before, after *models.Match) {
	e.changes = append(e.changes, matchChange{before: before.Clone(), after: after.Clone()})
}

// progression holds the rules shared by every path that completes a match.
type progression struct {
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	matchRepo       repositories.MatchRepository
	disputeRepo     repositories.DisputeRepository
	publisher       brackets.Publisher
	archiver        storage.BracketArchiver
	logger          *slog.Logger
	now             func() time.Time
}

// advance moves the winner of a completed match forward. The tournament row is locked for the
// rest of the transaction. A slot conflict halts the bracket instead of failing the transaction.
func (p *progression) advance(ctx context.Context, exec repositories.SQLExecutor, completed *models.Match, fx *txEffects) error {
	if completed.Status != models.MatchCompleted || completed.WinnerID == nil {
		return fmt.Errorf("advance called for unfinished match %d", completed.ID)
	}
	t, err := p.tournamentRepo.GetForUpdate(ctx, exec, completed.TournamentID)
	if err != nil {
		return mapRepoError(err)
	}
	fx.tournament = t
	if t.AdvancementHalted {
		p.logger.WarnContext(ctx, "advancement skipped, bracket halted",
			slog.Int("tournament_id", t.ID), slog.Int("match_id", completed.ID))
		return nil
	}
	winner := *completed.WinnerID

	if completed.IsChampionship(t.MaxParticipants) {
		if t.Status != models.TournamentInProgress {
			return nil
		}
		if err := p.tournamentRepo.Complete(ctx, exec, t.ID, winner); err != nil {
			return fmt.Errorf("failed to complete tournament %d: %w", t.ID, err)
		}
		t.Status = models.TournamentCompleted
		t.WinnerID = &winner
		fx.champion = true
		p.logger.InfoContext(ctx, "tournament completed", slog.Int("tournament_id", t.ID), slog.Int("winner_id", winner))
		return nil
	}

	round, number, slot := completed.NextPosition()
	next, err := p.matchRepo.GetByPosition(ctx, exec, t.ID, round, number)
	if err != nil {
		return fmt.Errorf("failed to load next match R%dM%d of tournament %d: %w", round, number, t.ID, err)
	}

	if occupant := next.PlayerIn(slot); occupant != nil {
		if *occupant == winner {
			return p.activate(ctx, exec, next, fx)
		}
		return p.halt(ctx, exec, t, completed, next, slot, *occupant, fx)
	}

	filled, err := p.matchRepo.FillSlot(ctx, exec, next.ID, slot, winner)
	if errors.Is(err, repositories.ErrMatchStateChanged) {
		current, getErr := p.matchRepo.GetByID(ctx, exec, next.ID)
		if getErr != nil {
			return fmt.Errorf("failed to reload match %d: %w", next.ID, getErr)
		}
		if occupant := current.PlayerIn(slot); occupant != nil && *occupant != winner {
			return p.halt(ctx, exec, t, completed, current, slot, *occupant, fx)
		}
		return p.activate(ctx, exec, current, fx)
	}
	if err != nil {
		return fmt.Errorf("failed to advance winner of match %d: %w", completed.ID, err)
	}
	fx.add(next, filled)
	return p.activate(ctx, exec, filled, fx)
}

func (p *progression) activate(ctx context.Context, exec repositories.SQLExecutor, m *models.Match, fx *txEffects) error {
	if m.Status != models.MatchPending || !m.HasBothPlayers() {
		return nil
	}
	activated, err := p.matchRepo.Activate(ctx, exec, m.ID)
	if errors.Is(err, repositories.ErrMatchStateChanged) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start match %d: %w", m.ID, err)
	}
	fx.add(m, activated)
	return nil
}

func (p *progression) halt(ctx context.Context, exec repositories.SQLExecutor, t *models.Tournament, completed, next *models.Match, slot models.Slot, occupant int, fx *txEffects) error {
	reason := fmt.Sprintf("match R%dM%d: slot %d of R%dM%d already holds player %d, refusing to overwrite with %d",
		completed.RoundNumber, completed.MatchNumber, slot, next.RoundNumber, next.MatchNumber, occupant, *completed.WinnerID)
	if err := p.tournamentRepo.SetAdvancementHalt(ctx, exec, t.ID, true, &reason); err != nil {
		return fmt.Errorf("failed to halt advancement for tournament %d: %w", t.ID, err)
	}
	t.AdvancementHalted = true
	t.HaltReason = &reason
	fx.tournament = t
	p.logger.ErrorContext(ctx, "bracket integrity violation, advancement halted",
		slog.Int("tournament_id", t.ID), slog.Int("match_id", completed.ID), slog.String("reason", reason))
	return nil
}

// forceResolve completes m for winnerID regardless of player reports, clears the dispute flag,
// resolves any pending dispute row and advances the winner.
func (p *progression) forceResolve(ctx context.Context, exec repositories.SQLExecutor, m *models.Match, winnerID int, response string, fx *txEffects) (*models.Match, error) {
	if m.Status == models.MatchCompleted {
		return nil, ErrAlreadyCompleted
	}
	if !m.HasBothPlayers() {
		return nil, ErrMatchNotReady
	}
	if !m.IsPlayer(winnerID) {
		return nil, ErrInvalidWinner
	}

	completed, err := p.matchRepo.CompleteByOrganizer(ctx, exec, m.ID, winnerID)
	if errors.Is(err, repositories.ErrMatchStateChanged) {
		return nil, ErrAlreadyCompleted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to force-resolve match %d: %w", m.ID, err)
	}
	fx.add(m, completed)

	dispute, err := p.disputeRepo.GetPendingByMatch(ctx, exec, m.ID)
	switch {
	case err == nil:
		if err := p.disputeRepo.Resolve(ctx, exec, dispute.ID, &winnerID, response, p.now()); err != nil {
			return nil, fmt.Errorf("failed to resolve dispute %d: %w", dispute.ID, err)
		}
	case !errors.Is(err, repositories.ErrDisputeNotFound):
		return nil, fmt.Errorf("failed to load dispute for match %d: %w", m.ID, err)
	}

	if err := p.advance(ctx, exec, completed, fx); err != nil {
		return nil, err
	}
	return completed, nil
}

// publish broadcasts committed effects and archives a finished bracket.
func (p *progression) publish(ctx context.Context, fx *txEffects) {
	for _, c := range fx.changes {
		brackets.PublishMatch(p.publisher, c.before, c.after)
	}
	if fx.tournament != nil && (fx.champion || fx.tournament.AdvancementHalted) {
		brackets.PublishTournament(p.publisher, fx.tournament)
	}
	if fx.champion {
		p.archive(ctx, fx.tournament)
	}
}

func (p *progression) archive(ctx context.Context, t *models.Tournament) {
	if p.archiver == nil || t == nil {
		return
	}
	matches, err := p.matchRepo.ListByTournament(ctx, nil, t.ID)
	if err != nil {
		p.logger.WarnContext(ctx, "bracket archive skipped", slog.Int("tournament_id", t.ID), slog.Any("error", err))
		return
	}
	participants, err := p.participantRepo.ListByTournament(ctx, nil, t.ID)
	if err != nil {
		p.logger.WarnContext(ctx, "bracket archive skipped", slog.Int("tournament_id", t.ID), slog.Any("error", err))
		return
	}
	res, err := p.archiver.ArchiveBracket(ctx, &storage.BracketArchive{
		Tournament:   t,
		Participants: participants,
		Rounds:       brackets.GroupRounds(matches),
		ArchivedAt:   p.now(),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "bracket archive upload failed", slog.Int("tournament_id", t.ID), slog.Any("error", err))
		return
	}
	p.logger.InfoContext(ctx, "bracket archived", slog.Int("tournament_id", t.ID), slog.String("key", res.Key))
}

func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrTournamentNotFound):
		return ErrTournamentNotFound
	case errors.Is(err, repositories.ErrMatchNotFound):
		return ErrMatchNotFound
	case errors.Is(err, repositories.ErrDisputeNotFound):
		return ErrDisputeNotFound
	case errors.Is(err, repositories.ErrParticipantNotFound):
		return ErrParticipantNotFound
	}
	return err
}
