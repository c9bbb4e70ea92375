package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/skill-arena/models"
)

var ErrAutomationConfigNotFound = errors.New("automation config not found")

type AutomationRepository interface {
	// ListDue returns enabled configs whose next_run_at is unset or not after now.
	ListDue(ctx context.Context, now time.Time) ([]*models.AutomationConfig, error)
	// Reschedule persists the outcome of a run. It is the only writer of automation_config.
	Reschedule(ctx context.Context, cfg *models.AutomationConfig) error
	RecordAction(ctx context.Context, action *models.AutomatedAction) error
}

type postgresAutomationRepository struct {
	db *sql.DB
}

func NewPostgresAutomationRepository(db *sql.DB) AutomationRepository {
	return &postgresAutomationRepository{db: db}
}

func (r *postgresAutomationRepository) ListDue(ctx context.Context, now time.Time) ([]*models.AutomationConfig, error) {
	query := `
		SELECT automation_type, is_enabled, run_frequency_minutes, last_run_at, next_run_at, consecutive_failures
		FROM automation_config
		WHERE is_enabled = TRUE AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY automation_type ASC`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due automations: %w", err)
	}
	defer rows.Close()

	configs := make([]*models.AutomationConfig, 0)
	for rows.Next() {
		c := &models.AutomationConfig{}
		if scanErr := rows.Scan(
			&c.AutomationType, &c.IsEnabled, &c.RunFrequencyMinutes, &c.LastRunAt, &c.NextRunAt, &c.ConsecutiveFailures,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan automation config row: %w", scanErr)
		}
		configs = append(configs, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during automation config rows iteration: %w", err)
	}
	return configs, nil
}

func (r *postgresAutomationRepository) Reschedule(ctx context.Context, cfg *models.AutomationConfig) error {
	query := `
		UPDATE automation_config
		SET is_enabled = $1, last_run_at = $2, next_run_at = $3, consecutive_failures = $4
		WHERE automation_type = $5`
	result, err := r.db.ExecContext(ctx, query,
		cfg.IsEnabled, cfg.LastRunAt, cfg.NextRunAt, cfg.ConsecutiveFailures, cfg.AutomationType)
	if err != nil {
		return fmt.Errorf("failed to reschedule automation %s: %w", cfg.AutomationType, err)
	}
	return checkAffectedRows(result, ErrAutomationConfigNotFound)
}

func (r *postgresAutomationRepository) RecordAction(ctx context.Context, a *models.AutomatedAction) error {
	query := `
		INSERT INTO automated_actions
			(automation_type, action_type, success, error_message, processing_time_ms, items_processed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		a.AutomationType, a.ActionType, a.Success, a.ErrorMessage, a.ProcessingTimeMs, a.ItemsProcessed,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record automated action for %s: %w", a.AutomationType, err)
	}
	return nil
}
