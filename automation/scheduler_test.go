package automation

import (
	"context"
	"testing"
	"time"

	"github.com/Dosada05/skill-arena/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTypes = []string{
	models.AutomationDisputeResolution,
	models.AutomationTournamentScheduler,
	models.AutomationDynamicPricing,
	models.AutomationFraudDetection,
	models.AutomationMarketMaking,
}

func stubsFor(types ...string) map[string]*stubHandler {
	out := make(map[string]*stubHandler, len(types))
	for _, t := range types {
		out[t] = &stubHandler{typ: t}
	}
	return out
}

func handlersOf(stubs map[string]*stubHandler) []Handler {
	out := make([]Handler, 0, len(stubs))
	for _, s := range stubs {
		out = append(out, s)
	}
	return out
}

func fixedClock(s *Scheduler, at time.Time) {
	s.now = func() time.Time { return at }
}

func TestRunCycle_IsolatesFailures(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			repo := newFakeAutomationRepo(allTypes...)
			stubs := stubsFor(allTypes...)
			stubs[models.AutomationDynamicPricing].fn = func(ctx context.Context) (Result, error) {
				panic("pricing exploded")
			}
			stubs[models.AutomationTournamentScheduler].fn = func(ctx context.Context) (Result, error) {
				return Result{}, errBoom
			}

			s := NewScheduler(repo, discardLogger(), Options{Parallel: parallel}, handlersOf(stubs)...)
			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			fixedClock(s, now)

			report, err := s.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 5, report.AutomationsRun)
			require.Len(t, report.Results, 5)

			byType := map[string]JobResult{}
			for _, r := range report.Results {
				byType[r.AutomationType] = r
			}
			assert.False(t, byType[models.AutomationDynamicPricing].Success)
			assert.Contains(t, byType[models.AutomationDynamicPricing].Error, "pricing exploded")
			assert.False(t, byType[models.AutomationTournamentScheduler].Success)
			assert.True(t, byType[models.AutomationFraudDetection].Success)
			assert.True(t, byType[models.AutomationMarketMaking].Success)
			assert.True(t, byType[models.AutomationDisputeResolution].Success)

			for _, typ := range allTypes {
				actions := repo.actionsFor(typ)
				require.Len(t, actions, 1, typ)
				assert.Equal(t, byType[typ].Success, actions[0].Success)

				cfg := repo.config(typ)
				require.NotNil(t, cfg.LastRunAt)
				assert.Equal(t, now, *cfg.LastRunAt)
				// base behaviour: next run is one frequency away regardless of outcome
				assert.Equal(t, now.Add(10*time.Minute), *cfg.NextRunAt)
			}
			failed := repo.actionsFor(models.AutomationDynamicPricing)[0]
			require.NotNil(t, failed.ErrorMessage)
			assert.Equal(t, actionFailed, failed.ActionType)
		})
	}
}

func TestRunCycle_OnlyDueJobs(t *testing.T) {
	repo := newFakeAutomationRepo(models.AutomationFraudDetection, models.AutomationMarketMaking)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	repo.configs[models.AutomationMarketMaking].NextRunAt = &later

	stubs := stubsFor(models.AutomationFraudDetection, models.AutomationMarketMaking)
	s := NewScheduler(repo, discardLogger(), Options{}, handlersOf(stubs)...)
	fixedClock(s, now)

	report, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AutomationsRun)
	assert.Equal(t, 1, stubs[models.AutomationFraudDetection].callCount())
	assert.Zero(t, stubs[models.AutomationMarketMaking].callCount())

	// the same instant again: fraud detection is no longer due
	report, err = s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.AutomationsRun)
}

func TestRunCycle_MissingHandlerIsFailure(t *testing.T) {
	repo := newFakeAutomationRepo(models.AutomationMarketMaking)
	s := NewScheduler(repo, discardLogger(), Options{})

	report, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Success)
	assert.Contains(t, report.Results[0].Error, ErrNoHandler.Error())
}

func TestRunCycle_TimeoutAbandonsHungJob(t *testing.T) {
	repo := newFakeAutomationRepo(models.AutomationFraudDetection, models.AutomationMarketMaking)
	stubs := stubsFor(models.AutomationFraudDetection, models.AutomationMarketMaking)
	release := make(chan struct{})
	defer close(release)
	stubs[models.AutomationFraudDetection].fn = func(ctx context.Context) (Result, error) {
		<-release // ignores ctx on purpose
		return Result{}, nil
	}

	s := NewScheduler(repo, discardLogger(), Options{JobTimeout: 30 * time.Millisecond}, handlersOf(stubs)...)
	report, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	for _, r := range report.Results {
		switch r.AutomationType {
		case models.AutomationFraudDetection:
			assert.False(t, r.Success)
			assert.Contains(t, r.Error, ErrJobTimedOut.Error())
		case models.AutomationMarketMaking:
			assert.True(t, r.Success)
		}
	}
}

func TestRunCycle_BackoffAndDeadLetter(t *testing.T) {
	repo := newFakeAutomationRepo(models.AutomationDynamicPricing)
	stubs := stubsFor(models.AutomationDynamicPricing)
	stubs[models.AutomationDynamicPricing].fn = func(ctx context.Context) (Result, error) {
		return Result{}, errBoom
	}
	s := NewScheduler(repo, discardLogger(), Options{BackoffMax: 35 * time.Minute, MaxConsecutiveFailures: 3},
		handlersOf(stubs)...)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	wantDelays := []time.Duration{20 * time.Minute, 35 * time.Minute}
	for i, want := range wantDelays {
		fixedClock(s, now)
		_, err := s.RunCycle(context.Background())
		require.NoError(t, err)
		cfg := repo.config(models.AutomationDynamicPricing)
		assert.Equal(t, i+1, cfg.ConsecutiveFailures)
		assert.Equal(t, now.Add(want), *cfg.NextRunAt, "failure %d", i+1)
		assert.True(t, cfg.IsEnabled)
		now = *cfg.NextRunAt
	}

	fixedClock(s, now)
	report, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].DeadLettered)

	cfg := repo.config(models.AutomationDynamicPricing)
	assert.False(t, cfg.IsEnabled)
	actions := repo.actionsFor(models.AutomationDynamicPricing)
	require.Len(t, actions, 4)
	assert.Equal(t, actionDeadLettered, actions[3].ActionType)

	// disabled configs are never due again
	fixedClock(s, now.Add(24*time.Hour))
	report, err = s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.AutomationsRun)
}

func TestRunCycle_SuccessResetsFailures(t *testing.T) {
	repo := newFakeAutomationRepo(models.AutomationMarketMaking)
	repo.configs[models.AutomationMarketMaking].ConsecutiveFailures = 2
	s := NewScheduler(repo, discardLogger(), Options{BackoffMax: time.Hour}, handlersOf(stubsFor(models.AutomationMarketMaking))...)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fixedClock(s, now)

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	cfg := repo.config(models.AutomationMarketMaking)
	assert.Zero(t, cfg.ConsecutiveFailures)
	assert.Equal(t, now.Add(10*time.Minute), *cfg.NextRunAt)
}

func TestRunCycle_RejectsOverlap(t *testing.T) {
	repo := newFakeAutomationRepo(models.AutomationFraudDetection)
	stubs := stubsFor(models.AutomationFraudDetection)
	started := make(chan struct{})
	release := make(chan struct{})
	stubs[models.AutomationFraudDetection].fn = func(ctx context.Context) (Result, error) {
		close(started)
		<-release
		return Result{}, nil
	}
	s := NewScheduler(repo, discardLogger(), Options{}, handlersOf(stubs)...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunCycle(context.Background())
	}()
	<-started
	_, err := s.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)
	close(release)
	<-done
}
