package automation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
)

// PriceChangeThreshold is the relative change below which a new price is not persisted.
const PriceChangeThreshold = 0.05

type DynamicPricingJob struct {
	pricing    repositories.PricingRepository
	challenges repositories.ChallengeRepository
	logger     *slog.Logger
	now        func() time.Time
}

func NewDynamicPricingJob(pricing repositories.PricingRepository, challenges repositories.ChallengeRepository, logger *slog.Logger) *DynamicPricingJob {
	return &DynamicPricingJob{
		pricing:    pricing,
		challenges: challenges,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (j *DynamicPricingJob) Type() string { return models.AutomationDynamicPricing }

// ComputePrice applies demand and supply multipliers to the base price and clamps the result.
func ComputePrice(rule *models.PricingRule, activeChallenges, queuedPlayers int) float64 {
	demandFactor := math.Max(1, float64(activeChallenges)/10)
	supplyFactor := math.Max(0.5, float64(queuedPlayers)/20)

	price := rule.BasePrice
	if demandFactor > 1 {
		price *= rule.DemandMultiplier
	}
	if supplyFactor > 1 {
		price *= rule.SupplyMultiplier
	}
	return math.Min(math.Max(price, rule.MinPrice), rule.MaxPrice)
}

// PriceChanged reports whether next differs from current by more than PriceChangeThreshold.
// An unset (zero) current price always counts as changed.
func PriceChanged(current, next float64) bool {
	if current <= 0 {
		return next != current
	}
	return math.Abs(next-current)/current > PriceChangeThreshold
}

func (j *DynamicPricingJob) Run(ctx context.Context) (Result, error) {
	rules, err := j.pricing.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load pricing rules: %w", err)
	}
	adjusted := 0
	for _, rule := range rules {
		active, err := j.challenges.CountActive(ctx, rule.GameID)
		if err != nil {
			return Result{ActionType: "prices_adjusted", ItemsProcessed: adjusted}, fmt.Errorf("failed to count challenges for game %d: %w", rule.GameID, err)
		}
		queued, err := j.challenges.CountQueued(ctx, rule.GameID)
		if err != nil {
			return Result{ActionType: "prices_adjusted", ItemsProcessed: adjusted}, fmt.Errorf("failed to count queue for game %d: %w", rule.GameID, err)
		}

		next := ComputePrice(rule, active, queued)
		if !PriceChanged(rule.CurrentPrice, next) {
			continue
		}
		if err := j.pricing.UpdatePrice(ctx, rule.ID, next, j.now()); err != nil {
			return Result{ActionType: "prices_adjusted", ItemsProcessed: adjusted}, fmt.Errorf("failed to update price rule %d: %w", rule.ID, err)
		}
		adjusted++
		j.logger.InfoContext(ctx, "price adjusted",
			slog.Int("game_id", rule.GameID), slog.Float64("from", rule.CurrentPrice), slog.Float64("to", next),
			slog.Int("active_challenges", active), slog.Int("queued_players", queued))
	}
	return Result{ActionType: "prices_adjusted", ItemsProcessed: adjusted}, nil
}
