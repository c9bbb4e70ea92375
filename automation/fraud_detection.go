package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
)

type FraudDetectionJob struct {
	fraud  repositories.FraudRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewFraudDetectionJob(fraud repositories.FraudRepository, logger *slog.Logger) *FraudDetectionJob {
	return &FraudDetectionJob{fraud: fraud, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (j *FraudDetectionJob) Type() string { return models.AutomationFraudDetection }

// PatternValue returns the metric a pattern watches and the sample size it is based on.
// ok is false for pattern types this job does not know.
func PatternValue(p *models.FraudPattern, s *models.PlayerStatSnapshot) (value float64, sample int, ok bool) {
	switch p.PatternType {
	case models.FraudWinRate:
		if s.GamesPlayed == 0 {
			return 0, 0, true
		}
		return float64(s.Wins) / float64(s.GamesPlayed), s.GamesPlayed, true
	case models.FraudKDRatio:
		deaths := s.Deaths
		if deaths == 0 {
			deaths = 1
		}
		return float64(s.Kills) / float64(deaths), s.GamesPlayed, true
	}
	return 0, 0, false
}

// Suspicious is true when the value exceeds the threshold over a large enough sample.
func Suspicious(p *models.FraudPattern, value float64, sample int) bool {
	return sample >= p.MinSampleSize && value > p.Threshold
}

func (j *FraudDetectionJob) Run(ctx context.Context) (Result, error) {
	patterns, err := j.fraud.ListActivePatterns(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load fraud patterns: %w", err)
	}
	now := j.now()
	flagged := 0

	for _, p := range patterns {
		lookback := time.Duration(p.LookbackHours) * time.Hour
		if lookback <= 0 {
			lookback = 24 * time.Hour
		}
		stats, err := j.fraud.AggregateStatsSince(ctx, now.Add(-lookback))
		if err != nil {
			return Result{ActionType: "fraud_flags_raised", ItemsProcessed: flagged}, fmt.Errorf("failed to load stats for pattern %d: %w", p.ID, err)
		}

		for _, s := range stats {
			value, sample, ok := PatternValue(p, s)
			if !ok {
				j.logger.WarnContext(ctx, "unknown fraud pattern type", slog.Int("pattern_id", p.ID), slog.String("type", string(p.PatternType)))
				break
			}
			if !Suspicious(p, value, sample) {
				continue
			}
			open, err := j.fraud.HasOpenFlag(ctx, s.UserID, p.ID)
			if err != nil {
				return Result{ActionType: "fraud_flags_raised", ItemsProcessed: flagged}, err
			}

			details := fmt.Sprintf("%s %.3f over %d games exceeds %.3f", p.PatternType, value, sample, p.Threshold)
			if !open {
				err = j.fraud.CreateFlag(ctx, &models.SuspiciousActivity{
					UserID:    s.UserID,
					PatternID: p.ID,
					Score:     value,
					Severity:  p.Severity,
					Details:   details,
				})
				switch {
				case errors.Is(err, repositories.ErrFlagAlreadyOpen):
				case err != nil:
					return Result{ActionType: "fraud_flags_raised", ItemsProcessed: flagged}, err
				default:
					flagged++
					j.logger.WarnContext(ctx, "suspicious activity flagged",
						slog.Int("user_id", s.UserID), slog.String("pattern", p.Name), slog.Float64("value", value))
				}
			}

			// an open flag may be left over from a run whose restriction failed;
			// RestrictAccount is a no-op for an already restricted account
			if p.AutoAction == models.FraudActionRestrict {
				if err := j.fraud.RestrictAccount(ctx, s.UserID, p.Name+": "+details); err != nil {
					return Result{ActionType: "fraud_flags_raised", ItemsProcessed: flagged}, err
				}
				if !open {
					j.logger.WarnContext(ctx, "account restricted", slog.Int("user_id", s.UserID), slog.String("pattern", p.Name))
				}
			}
		}
	}
	return Result{ActionType: "fraud_flags_raised", ItemsProcessed: flagged}, nil
}
