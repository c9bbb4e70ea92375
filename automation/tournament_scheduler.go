package automation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
	"github.com/Dosada05/skill-arena/services"
)

type TournamentCreator interface {
	Create(ctx context.Context, creatorID int, input services.CreateTournamentInput) (*models.Tournament, error)
}

type TournamentSchedulerJob struct {
	templates       repositories.TemplateRepository
	tournaments     repositories.TournamentRepository
	creator         TournamentCreator
	systemUserID    int
	platformFeeRate float64
	logger          *slog.Logger
	now             func() time.Time
}

func NewTournamentSchedulerJob(
	templates repositories.TemplateRepository,
	tournaments repositories.TournamentRepository,
	creator TournamentCreator,
	systemUserID int,
	platformFeeRate float64,
	logger *slog.Logger,
) *TournamentSchedulerJob {
	return &TournamentSchedulerJob{
		templates:       templates,
		tournaments:     tournaments,
		creator:         creator,
		systemUserID:    systemUserID,
		platformFeeRate: platformFeeRate,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (j *TournamentSchedulerJob) Type() string { return models.AutomationTournamentScheduler }

// GuaranteedPrizePool is entry_fee × max_participants × (1 − feeRate), rounded to cents.
func GuaranteedPrizePool(entryFee float64, maxParticipants int, feeRate float64) float64 {
	pool := entryFee * float64(maxParticipants) * (1 - feeRate)
	if pool < 0 {
		return 0
	}
	return math.Round(pool*100) / 100
}

func (j *TournamentSchedulerJob) Run(ctx context.Context) (Result, error) {
	templates, err := j.templates.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load tournament templates: %w", err)
	}
	now := j.now()
	created := 0
	var lastErr error

	for _, tpl := range templates {
		last, err := j.tournaments.LastCreatedFromTemplate(ctx, nil, tpl.ID)
		if err != nil {
			lastErr = err
			j.logger.WarnContext(ctx, "template check failed", slog.Int("template_id", tpl.ID), slog.Any("error", err))
			continue
		}
		window := time.Duration(tpl.IntervalMinutes) * time.Minute
		if last != nil && now.Sub(*last) < window {
			continue
		}

		templateID := tpl.ID
		t, err := j.creator.Create(ctx, j.systemUserID, services.CreateTournamentInput{
			Name:            fmt.Sprintf("%s #%s", tpl.Name, now.Format("0102-1504")),
			GameID:          tpl.GameID,
			MaxParticipants: tpl.MaxParticipants,
			EntryFee:        tpl.EntryFee,
			StartTime:       now.Add(time.Duration(tpl.StartDelayMinutes) * time.Minute),
			TemplateID:      &templateID,
			PrizePool:       GuaranteedPrizePool(tpl.EntryFee, tpl.MaxParticipants, j.platformFeeRate),
		})
		if err != nil {
			lastErr = err
			j.logger.WarnContext(ctx, "scheduled tournament not created", slog.Int("template_id", tpl.ID), slog.Any("error", err))
			continue
		}
		created++
		j.logger.InfoContext(ctx, "scheduled tournament created",
			slog.Int("template_id", tpl.ID), slog.Int("tournament_id", t.ID), slog.Float64("prize_pool", t.PrizePool))
	}

	res := Result{ActionType: "tournaments_created", ItemsProcessed: created}
	if created == 0 && lastErr != nil {
		return res, lastErr
	}
	return res, nil
}
