package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/skill-arena/models"
)

var (
	ErrPricingRuleNotFound = errors.New("pricing rule not found")
	ErrFlagAlreadyOpen     = errors.New("an open suspicious activity already exists for this user and pattern")
)

type TemplateRepository interface {
	ListActive(ctx context.Context) ([]*models.TournamentTemplate, error)
}

type PricingRepository interface {
	ListActive(ctx context.Context) ([]*models.PricingRule, error)
	UpdatePrice(ctx context.Context, id int, price float64, at time.Time) error
	// CurrentPrice reports ok=false when the game has no active rule with a positive price.
	CurrentPrice(ctx context.Context, gameID int) (price float64, ok bool, err error)
}

type ChallengeRepository interface {
	CountOpen(ctx context.Context, gameID int) (int, error)
	// CountActive counts open and matched challenges.
	CountActive(ctx context.Context, gameID int) (int, error)
	CountQueued(ctx context.Context, gameID int) (int, error)
	// PopularGames ranks games by challenges created since the given time.
	PopularGames(ctx context.Context, since time.Time, limit int) ([]models.GamePopularity, error)
	Create(ctx context.Context, c *models.Challenge) error
}

type FraudRepository interface {
	ListActivePatterns(ctx context.Context) ([]*models.FraudPattern, error)
	// AggregateStatsSince sums snapshots per user captured after since.
	AggregateStatsSince(ctx context.Context, since time.Time) ([]*models.PlayerStatSnapshot, error)
	HasOpenFlag(ctx context.Context, userID, patternID int) (bool, error)
	CreateFlag(ctx context.Context, a *models.SuspiciousActivity) error
	RestrictAccount(ctx context.Context, userID int, reason string) error
}

type postgresMarketplaceRepository struct {
	db *sql.DB
}

// One postgres store backs templates, challenges and fraud tables.
func NewPostgresTemplateRepository(db *sql.DB) TemplateRepository {
	return &postgresMarketplaceRepository{db: db}
}

func NewPostgresChallengeRepository(db *sql.DB) ChallengeRepository {
	return &postgresMarketplaceRepository{db: db}
}

func NewPostgresFraudRepository(db *sql.DB) FraudRepository {
	return &postgresMarketplaceRepository{db: db}
}

func (r *postgresMarketplaceRepository) ListActive(ctx context.Context) ([]*models.TournamentTemplate, error) {
	query := `
		SELECT id, name, game_id, max_participants, entry_fee, interval_minutes, start_delay_minutes, is_active, created_at
		FROM tournament_templates
		WHERE is_active = TRUE
		ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tournament templates: %w", err)
	}
	defer rows.Close()

	templates := make([]*models.TournamentTemplate, 0)
	for rows.Next() {
		t := &models.TournamentTemplate{}
		if scanErr := rows.Scan(&t.ID, &t.Name, &t.GameID, &t.MaxParticipants, &t.EntryFee,
			&t.IntervalMinutes, &t.StartDelayMinutes, &t.IsActive, &t.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan tournament template row: %w", scanErr)
		}
		templates = append(templates, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during template rows iteration: %w", err)
	}
	return templates, nil
}

type postgresPricingRepository struct {
	db *sql.DB
}

func NewPostgresPricingRepository(db *sql.DB) PricingRepository {
	return &postgresPricingRepository{db: db}
}

func (r *postgresPricingRepository) ListActive(ctx context.Context) ([]*models.PricingRule, error) {
	query := `
		SELECT id, game_id, base_price, current_price, min_price, max_price,
		       demand_multiplier, supply_multiplier, is_active, last_adjusted_at
		FROM pricing_rules
		WHERE is_active = TRUE
		ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pricing rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*models.PricingRule, 0)
	for rows.Next() {
		p := &models.PricingRule{}
		if scanErr := rows.Scan(&p.ID, &p.GameID, &p.BasePrice, &p.CurrentPrice, &p.MinPrice, &p.MaxPrice,
			&p.DemandMultiplier, &p.SupplyMultiplier, &p.IsActive, &p.LastAdjustedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan pricing rule row: %w", scanErr)
		}
		rules = append(rules, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during pricing rule rows iteration: %w", err)
	}
	return rules, nil
}

func (r *postgresPricingRepository) UpdatePrice(ctx context.Context, id int, price float64, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pricing_rules SET current_price = $1, last_adjusted_at = $2 WHERE id = $3`, price, at, id)
	if err != nil {
		return fmt.Errorf("failed to update price of rule %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrPricingRuleNotFound)
}

func (r *postgresPricingRepository) CurrentPrice(ctx context.Context, gameID int) (float64, bool, error) {
	var price float64
	err := r.db.QueryRowContext(ctx,
		`SELECT current_price FROM pricing_rules WHERE game_id = $1 AND is_active = TRUE AND current_price > 0`,
		gameID).Scan(&price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read current price for game %d: %w", gameID, err)
	}
	return price, true, nil
}

func (r *postgresMarketplaceRepository) CountOpen(ctx context.Context, gameID int) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM challenges WHERE game_id = $1 AND status = 'open'`, gameID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count open challenges for game %d: %w", gameID, err)
	}
	return n, nil
}

func (r *postgresMarketplaceRepository) CountActive(ctx context.Context, gameID int) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM challenges WHERE game_id = $1 AND status IN ('open', 'matched')`, gameID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active challenges for game %d: %w", gameID, err)
	}
	return n, nil
}

func (r *postgresMarketplaceRepository) CountQueued(ctx context.Context, gameID int) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matchmaking_queue WHERE game_id = $1`, gameID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued players for game %d: %w", gameID, err)
	}
	return n, nil
}

func (r *postgresMarketplaceRepository) PopularGames(ctx context.Context, since time.Time, limit int) ([]models.GamePopularity, error) {
	query := `
		SELECT game_id, COUNT(*) AS challenges
		FROM challenges
		WHERE created_at >= $1
		GROUP BY game_id
		ORDER BY challenges DESC, game_id ASC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular games: %w", err)
	}
	defer rows.Close()

	games := make([]models.GamePopularity, 0)
	for rows.Next() {
		var g models.GamePopularity
		if scanErr := rows.Scan(&g.GameID, &g.Challenges); scanErr != nil {
			return nil, fmt.Errorf("failed to scan popular game row: %w", scanErr)
		}
		games = append(games, g)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during popular game rows iteration: %w", err)
	}
	return games, nil
}

func (r *postgresMarketplaceRepository) Create(ctx context.Context, c *models.Challenge) error {
	query := `
		INSERT INTO challenges (game_id, creator_id, entry_fee, status, is_system)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	if err := r.db.QueryRowContext(ctx, query, c.GameID, c.CreatorID, c.EntryFee, c.Status, c.IsSystem).
		Scan(&c.ID, &c.CreatedAt); err != nil {
		return fmt.Errorf("failed to create challenge for game %d: %w", c.GameID, err)
	}
	return nil
}

func (r *postgresMarketplaceRepository) ListActivePatterns(ctx context.Context) ([]*models.FraudPattern, error) {
	query := `
		SELECT id, name, pattern_type, threshold, min_sample_size, lookback_hours, severity, auto_action, is_active
		FROM fraud_patterns
		WHERE is_active = TRUE
		ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query fraud patterns: %w", err)
	}
	defer rows.Close()

	patterns := make([]*models.FraudPattern, 0)
	for rows.Next() {
		p := &models.FraudPattern{}
		if scanErr := rows.Scan(&p.ID, &p.Name, &p.PatternType, &p.Threshold, &p.MinSampleSize,
			&p.LookbackHours, &p.Severity, &p.AutoAction, &p.IsActive); scanErr != nil {
			return nil, fmt.Errorf("failed to scan fraud pattern row: %w", scanErr)
		}
		patterns = append(patterns, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during fraud pattern rows iteration: %w", err)
	}
	return patterns, nil
}

func (r *postgresMarketplaceRepository) AggregateStatsSince(ctx context.Context, since time.Time) ([]*models.PlayerStatSnapshot, error) {
	query := `
		SELECT user_id, SUM(games_played), SUM(wins), SUM(kills), SUM(deaths), MAX(captured_at)
		FROM player_stat_snapshots
		WHERE captured_at >= $1
		GROUP BY user_id
		ORDER BY user_id ASC`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate player stats: %w", err)
	}
	defer rows.Close()

	stats := make([]*models.PlayerStatSnapshot, 0)
	for rows.Next() {
		s := &models.PlayerStatSnapshot{}
		if scanErr := rows.Scan(&s.UserID, &s.GamesPlayed, &s.Wins, &s.Kills, &s.Deaths, &s.CapturedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan player stats row: %w", scanErr)
		}
		stats = append(stats, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during player stats rows iteration: %w", err)
	}
	return stats, nil
}

func (r *postgresMarketplaceRepository) HasOpenFlag(ctx context.Context, userID, patternID int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM suspicious_activities WHERE user_id = $1 AND pattern_id = $2 AND status = 'open')`,
		userID, patternID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open flag for user %d: %w", userID, err)
	}
	return exists, nil
}

func (r *postgresMarketplaceRepository) CreateFlag(ctx context.Context, a *models.SuspiciousActivity) error {
	if a.Status == "" {
		a.Status = "open"
	}
	query := `
		INSERT INTO suspicious_activities (user_id, pattern_id, score, severity, details, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, a.UserID, a.PatternID, a.Score, a.Severity, a.Details, a.Status).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqUniqueViolation {
			return ErrFlagAlreadyOpen
		}
		return fmt.Errorf("failed to create suspicious activity for user %d: %w", a.UserID, err)
	}
	return nil
}

func (r *postgresMarketplaceRepository) RestrictAccount(ctx context.Context, userID int, reason string) error {
	query := `
		INSERT INTO account_restrictions (user_id, reason)
		VALUES ($1, $2)
		ON CONFLICT (user_id) WHERE lifted_at IS NULL DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID, reason); err != nil {
		return fmt.Errorf("failed to restrict account %d: %w", userID, err)
	}
	return nil
}
