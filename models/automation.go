package models

import "time"

// Automation types known to the scheduler.
const (
	AutomationDisputeResolution   = "dispute_resolution"
	AutomationTournamentScheduler = "tournament_scheduler"
	AutomationDynamicPricing      = "dynamic_pricing"
	AutomationFraudDetection      = "fraud_detection"
	AutomationMarketMaking        = "market_making"
)

// AutomationConfig is one row of automation_config; only the scheduler mutates it.
type AutomationConfig struct {
	AutomationType      string     `json:"automation_type"`
	IsEnabled           bool       `json:"is_enabled"`
	RunFrequencyMinutes int        `json:"run_frequency_minutes"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// IsDue reports whether the job should run at now.
func (c *AutomationConfig) IsDue(now time.Time) bool {
	return c.IsEnabled && (c.NextRunAt == nil || !c.NextRunAt.After(now))
}

func (c *AutomationConfig) Frequency() time.Duration {
	if c.RunFrequencyMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(c.RunFrequencyMinutes) * time.Minute
}

// AutomatedAction is an append-only audit record, written once per job execution.
type AutomatedAction struct {
	ID               int       `json:"id"`
	AutomationType   string    `json:"automation_type"`
	ActionType       string    `json:"action_type"`
	Success          bool      `json:"success"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	ItemsProcessed   int       `json:"items_processed"`
	CreatedAt        time.Time `json:"created_at"`
}
