package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
	"github.com/Dosada05/skill-arena/services"
	"github.com/Dosada05/skill-arena/verification"
)

// DisputeResolver settles a dispute through the bracket engine so the match completes and the
// winner advances exactly as an organizer decision would.
type DisputeResolver interface {
	ResolveDispute(ctx context.Context, disputeID, winnerID, actorID int, response string) (*models.Dispute, error)
}

type DisputeResolutionConfig struct {
	SystemUserID  int
	BatchSize     int
	MinConfidence float64
}

type DisputeResolutionJob struct {
	disputes repositories.DisputeRepository
	resolver DisputeResolver
	verifier verification.StatVerifier
	cfg      DisputeResolutionConfig
	logger   *slog.Logger
}

func NewDisputeResolutionJob(
	disputes repositories.DisputeRepository,
	resolver DisputeResolver,
	verifier verification.StatVerifier,
	cfg DisputeResolutionConfig,
	logger *slog.Logger,
) *DisputeResolutionJob {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if verifier == nil {
		verifier = verification.NewNoopVerifier()
	}
	return &DisputeResolutionJob{disputes: disputes, resolver: resolver, verifier: verifier, cfg: cfg, logger: logger}
}

func (j *DisputeResolutionJob) Type() string { return models.AutomationDisputeResolution }

// Run auto-resolves the pending disputes the verifier is confident about; the rest stay queued
// for human review.
func (j *DisputeResolutionJob) Run(ctx context.Context) (Result, error) {
	if !j.verifier.Active() {
		return Result{ActionType: "verification_unavailable"}, nil
	}
	pending, err := j.disputes.ListPending(ctx, nil, j.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load pending disputes: %w", err)
	}

	var (
		resolved  int
		verifyErr error
		failures  int
	)
	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			return Result{ActionType: "disputes_auto_resolved", ItemsProcessed: resolved}, err
		}
		verdict, err := j.verifier.Verify(ctx, verification.Request{
			DisputeID:     d.ID,
			MatchID:       d.MatchID,
			TournamentID:  d.TournamentID,
			Player1ID:     d.Player1ID,
			Player2ID:     d.Player2ID,
			Player1Report: d.Player1Report,
			Player2Report: d.Player2Report,
		})
		if err != nil {
			failures++
			verifyErr = err
			j.logger.WarnContext(ctx, "stat verification failed", slog.Int("dispute_id", d.ID), slog.Any("error", err))
			continue
		}
		if verdict == nil || verdict.WinnerID == nil || !d.IsParty(*verdict.WinnerID) || verdict.Confidence < j.cfg.MinConfidence {
			continue
		}

		response := fmt.Sprintf("auto-resolved by stat verification (confidence %.2f)", verdict.Confidence)
		if verdict.Source != "" {
			response += ", source: " + verdict.Source
		}
		if _, err := j.resolver.ResolveDispute(ctx, d.ID, *verdict.WinnerID, j.cfg.SystemUserID, response); err != nil {
			// closed or settled concurrently by a human: nothing left to do
			if isBenignResolveError(err) {
				continue
			}
			j.logger.WarnContext(ctx, "auto-resolution failed", slog.Int("dispute_id", d.ID), slog.Any("error", err))
			continue
		}
		resolved++
		j.logger.InfoContext(ctx, "dispute auto-resolved",
			slog.Int("dispute_id", d.ID), slog.Int("winner_id", *verdict.WinnerID), slog.Float64("confidence", verdict.Confidence))
	}

	res := Result{ActionType: "disputes_auto_resolved", ItemsProcessed: resolved}
	if len(pending) > 0 && failures == len(pending) {
		return res, fmt.Errorf("stat verification failed for all %d disputes: %w", failures, verifyErr)
	}
	return res, nil
}

func isBenignResolveError(err error) bool {
	return errors.Is(err, services.ErrDisputeClosed) || errors.Is(err, services.ErrAlreadyCompleted)
}
