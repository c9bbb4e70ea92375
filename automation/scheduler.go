package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoHandler    = errors.New("no handler registered for automation type")
	ErrJobPanicked  = errors.New("automation job panicked")
	ErrJobTimedOut  = errors.New("automation job timed out")
	ErrCycleRunning = errors.New("an automation cycle is already running")
)

const (
	actionFailed       = "job_failed"
	actionDeadLettered = "dead_lettered"
)

// Result is what a handler reports about one successful run.
type Result struct {
	ActionType     string
	ItemsProcessed int
	Details        string
}

// Handler runs one automation type. Handlers must be safe to call once per cycle; the scheduler
// never runs the same type twice concurrently.
type Handler interface {
	Type() string
	Run(ctx context.Context) (Result, error)
}

type JobResult struct {
	AutomationType   string `json:"automation_type"`
	ActionType       string `json:"action_type"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	ItemsProcessed   int    `json:"items_processed"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	DeadLettered     bool   `json:"dead_lettered,omitempty"`
}

type CycleReport struct {
	Results               []JobResult `json:"results"`
	AutomationsRun        int         `json:"automations_run"`
	TotalProcessingTimeMs int64       `json:"total_processing_time_ms"`
}

// Options tune the cycle. The zero value runs jobs sequentially with no timeout, no backoff and
// no dead-lettering.
type Options struct {
	Parallel    bool
	MaxParallel int
	// JobTimeout bounds a single handler; a handler that ignores its context is abandoned.
	JobTimeout time.Duration
	// BackoffMax enables exponential rescheduling after consecutive failures, capped at this value.
	BackoffMax time.Duration
	// MaxConsecutiveFailures disables a config after that many failures in a row.
	MaxConsecutiveFailures int
}

type Scheduler struct {
	repo     repositories.AutomationRepository
	handlers map[string]Handler
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	running sync.Mutex
}

func NewScheduler(repo repositories.AutomationRepository, logger *slog.Logger, opts Options, handlers ...Handler) *Scheduler {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 5
	}
	byType := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		byType[h.Type()] = h
	}
	return &Scheduler{
		repo:     repo,
		handlers: byType,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run triggers a cycle every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("automation scheduler started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("automation scheduler stopped")
			return
		case <-ticker.C:
			report, err := s.RunCycle(ctx)
			if err != nil {
				if !errors.Is(err, ErrCycleRunning) && !errors.Is(err, context.Canceled) {
					s.logger.Error("automation cycle failed", slog.Any("error", err))
				}
				continue
			}
			if report.AutomationsRun > 0 {
				s.logger.Info("automation cycle finished",
					slog.Int("automations_run", report.AutomationsRun),
					slog.Int64("total_processing_time_ms", report.TotalProcessingTimeMs))
			}
		}
	}
}

// RunCycle runs every due job once. A failing or panicking job never stops the others.
// Overlapping cycles (ticker plus manual trigger) are rejected with ErrCycleRunning.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !s.running.TryLock() {
		return nil, ErrCycleRunning
	}
	defer s.running.Unlock()

	now := s.now()
	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load due automations: %w", err)
	}

	results := make([]JobResult, len(due))
	ran := make([]bool, len(due))

	if s.opts.Parallel {
		var g errgroup.Group
		g.SetLimit(s.opts.MaxParallel)
		for i, cfg := range due {
			i, cfg := i, cfg
			g.Go(func() error {
				results[i] = s.runJob(ctx, cfg, now)
				ran[i] = true
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, cfg := range due {
			if ctx.Err() != nil {
				break
			}
			results[i] = s.runJob(ctx, cfg, now)
			ran[i] = true
		}
	}

	report := &CycleReport{Results: make([]JobResult, 0, len(due))}
	for i, r := range results {
		if !ran[i] {
			continue
		}
		report.Results = append(report.Results, r)
		report.AutomationsRun++
		report.TotalProcessingTimeMs += r.ProcessingTimeMs
	}
	return report, ctx.Err()
}

func (s *Scheduler) runJob(ctx context.Context, cfg *models.AutomationConfig, now time.Time) JobResult {
	logger := s.logger.With(slog.String("automation_type", cfg.AutomationType))
	start := time.Now()

	var (
		res Result
		err error
	)
	if h, ok := s.handlers[cfg.AutomationType]; ok {
		res, err = s.invoke(ctx, h, logger)
	} else {
		err = fmt.Errorf("%w: %s", ErrNoHandler, cfg.AutomationType)
	}
	elapsed := time.Since(start).Milliseconds()

	jr := JobResult{
		AutomationType:   cfg.AutomationType,
		ActionType:       res.ActionType,
		Success:          err == nil,
		ItemsProcessed:   res.ItemsProcessed,
		ProcessingTimeMs: elapsed,
	}
	if jr.ActionType == "" {
		jr.ActionType = cfg.AutomationType
	}
	action := &models.AutomatedAction{
		AutomationType:   cfg.AutomationType,
		ActionType:       jr.ActionType,
		Success:          jr.Success,
		ProcessingTimeMs: elapsed,
		ItemsProcessed:   res.ItemsProcessed,
		CreatedAt:        now,
	}
	if err != nil {
		msg := err.Error()
		jr.Error = msg
		jr.ActionType = actionFailed
		action.ActionType = actionFailed
		action.ErrorMessage = &msg
		cfg.ConsecutiveFailures++
		logger.Warn("automation job failed", slog.Any("error", err), slog.Int("consecutive_failures", cfg.ConsecutiveFailures))
	} else {
		cfg.ConsecutiveFailures = 0
		logger.Debug("automation job succeeded", slog.Int("items", res.ItemsProcessed), slog.Int64("ms", elapsed))
	}
	s.record(ctx, logger, action)

	cfg.LastRunAt = &now
	next := now.Add(s.nextDelay(cfg))
	cfg.NextRunAt = &next

	if s.opts.MaxConsecutiveFailures > 0 && cfg.ConsecutiveFailures >= s.opts.MaxConsecutiveFailures {
		cfg.IsEnabled = false
		jr.DeadLettered = true
		msg := fmt.Sprintf("disabled after %d consecutive failures", cfg.ConsecutiveFailures)
		s.record(ctx, logger, &models.AutomatedAction{
			AutomationType: cfg.AutomationType,
			ActionType:     actionDeadLettered,
			Success:        false,
			ErrorMessage:   &msg,
			CreatedAt:      now,
		})
		logger.Error("automation dead-lettered", slog.Int("consecutive_failures", cfg.ConsecutiveFailures))
	}

	// a cancelled cycle still has to persist the reschedule
	if err := s.repo.Reschedule(context.WithoutCancel(ctx), cfg); err != nil {
		logger.Error("failed to reschedule automation", slog.Any("error", err))
	}
	return jr
}

func (s *Scheduler) record(ctx context.Context, logger *slog.Logger, action *models.AutomatedAction) {
	if err := s.repo.RecordAction(context.WithoutCancel(ctx), action); err != nil {
		logger.Error("failed to record automated action", slog.String("action_type", action.ActionType), slog.Any("error", err))
	}
}

// invoke is the fault boundary around a handler.
func (s *Scheduler) invoke(ctx context.Context, h Handler, logger *slog.Logger) (Result, error) {
	if s.opts.JobTimeout <= 0 {
		return safeRun(ctx, h, logger)
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.opts.JobTimeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := safeRun(jobCtx, h, logger)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %s", ErrJobTimedOut, s.opts.JobTimeout)
		}
		return Result{}, jobCtx.Err()
	}
}

func safeRun(ctx context.Context, h Handler, logger *slog.Logger) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
			logger.Error("automation job panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	return h.Run(ctx)
}

// nextDelay is the run frequency, doubled per consecutive failure when backoff is enabled.
func (s *Scheduler) nextDelay(cfg *models.AutomationConfig) time.Duration {
	delay := cfg.Frequency()
	if s.opts.BackoffMax <= 0 || cfg.ConsecutiveFailures == 0 {
		return delay
	}
	for i := 0; i < cfg.ConsecutiveFailures && delay < s.opts.BackoffMax; i++ {
		delay *= 2
	}
	if delay > s.opts.BackoffMax {
		delay = s.opts.BackoffMax
	}
	if base := cfg.Frequency(); delay < base {
		delay = base
	}
	return delay
}
