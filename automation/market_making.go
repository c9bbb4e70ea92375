package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
)

type MarketMakingConfig struct {
	SystemUserID     int
	PopularityWindow time.Duration
	PopularGames     int
	MinOpen          int
	MaxPerRun        int
	DefaultEntryFee  float64
}

type MarketMakingJob struct {
	challenges repositories.ChallengeRepository
	pricing    repositories.PricingRepository
	cfg        MarketMakingConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewMarketMakingJob(challenges repositories.ChallengeRepository, pricing repositories.PricingRepository, cfg MarketMakingConfig, logger *slog.Logger) *MarketMakingJob {
	if cfg.PopularityWindow <= 0 {
		cfg.PopularityWindow = 24 * time.Hour
	}
	if cfg.PopularGames <= 0 {
		cfg.PopularGames = 5
	}
	return &MarketMakingJob{
		challenges: challenges,
		pricing:    pricing,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (j *MarketMakingJob) Type() string { return models.AutomationMarketMaking }

// Run tops up open challenges for popular games to MinOpen, creating at most MaxPerRun.
func (j *MarketMakingJob) Run(ctx context.Context) (Result, error) {
	popular, err := j.challenges.PopularGames(ctx, j.now().Add(-j.cfg.PopularityWindow), j.cfg.PopularGames)
	if err != nil {
		return Result{}, fmt.Errorf("failed to rank popular games: %w", err)
	}

	created := 0
	for _, g := range popular {
		if j.cfg.MaxPerRun > 0 && created >= j.cfg.MaxPerRun {
			break
		}
		open, err := j.challenges.CountOpen(ctx, g.GameID)
		if err != nil {
			return Result{ActionType: "challenges_seeded", ItemsProcessed: created}, fmt.Errorf("failed to count open challenges for game %d: %w", g.GameID, err)
		}
		missing := j.cfg.MinOpen - open
		if missing <= 0 {
			continue
		}

		fee, ok, err := j.pricing.CurrentPrice(ctx, g.GameID)
		if err != nil {
			return Result{ActionType: "challenges_seeded", ItemsProcessed: created}, err
		}
		if !ok {
			fee = j.cfg.DefaultEntryFee
		}

		for i := 0; i < missing; i++ {
			if j.cfg.MaxPerRun > 0 && created >= j.cfg.MaxPerRun {
				break
			}
			c := &models.Challenge{
				GameID:    g.GameID,
				CreatorID: j.cfg.SystemUserID,
				EntryFee:  fee,
				Status:    models.ChallengeOpen,
				IsSystem:  true,
			}
			if err := j.challenges.Create(ctx, c); err != nil {
				return Result{ActionType: "challenges_seeded", ItemsProcessed: created}, fmt.Errorf("failed to seed challenge for game %d: %w", g.GameID, err)
			}
			created++
		}
		j.logger.InfoContext(ctx, "market seeded", slog.Int("game_id", g.GameID), slog.Int("open_before", open), slog.Float64("entry_fee", fee))
	}
	return Result{ActionType: "challenges_seeded", ItemsProcessed: created}, nil
}
