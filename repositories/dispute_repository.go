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
	ErrDisputeNotFound    = errors.New("dispute not found")
	ErrDisputeAlreadyOpen = errors.New("a pending dispute already exists for this match")
	ErrDisputeNotPending  = errors.New("dispute is no longer pending")
)

type DisputeRepository interface {
	Create(ctx context.Context, exec SQLExecutor, d *models.Dispute) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Dispute, error)
	GetPendingByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.Dispute, error)
	// ListPending returns up to limit pending disputes, oldest first.
	ListPending(ctx context.Context, exec SQLExecutor, limit int) ([]*models.Dispute, error)
	Resolve(ctx context.Context, exec SQLExecutor, id int, winnerID *int, response string, at time.Time) error
}

type postgresDisputeRepository struct {
	db *sql.DB
}

func NewPostgresDisputeRepository(db *sql.DB) DisputeRepository {
	return &postgresDisputeRepository{db: db}
}

func (r *postgresDisputeRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const disputeColumns = `
	id, match_id, tournament_id, player1_id, player2_id, player1_report, player2_report, reason,
	status, admin_response, resolved_winner_id, resolved_at, created_at`

func scanDispute(row rowScanner, d *models.Dispute) error {
	return row.Scan(
		&d.ID, &d.MatchID, &d.TournamentID, &d.Player1ID, &d.Player2ID, &d.Player1Report,
		&d.Player2Report, &d.Reason, &d.Status, &d.AdminResponse, &d.ResolvedWinnerID,
		&d.ResolvedAt, &d.CreatedAt,
	)
}

func (r *postgresDisputeRepository) Create(ctx context.Context, exec SQLExecutor, d *models.Dispute) error {
	if d.Status == "" {
		d.Status = models.DisputePending
	}
	query := `
		INSERT INTO disputes
			(match_id, tournament_id, player1_id, player2_id, player1_report, player2_report, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (match_id) WHERE status = 'pending' DO NOTHING
		RETURNING id, created_at`
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		d.MatchID, d.TournamentID, d.Player1ID, d.Player2ID, d.Player1Report, d.Player2Report, d.Reason, d.Status,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		// conflict leaves the transaction usable and returns no row
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDisputeAlreadyOpen
		}
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqUniqueViolation {
			return ErrDisputeAlreadyOpen
		}
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

func (r *postgresDisputeRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	return r.getOne(ctx, exec, query, id)
}

func (r *postgresDisputeRepository) GetPendingByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE match_id = $1 AND status = 'pending'`
	return r.getOne(ctx, exec, query, matchID)
}

func (r *postgresDisputeRepository) getOne(ctx context.Context, exec SQLExecutor, query string, arg int) (*models.Dispute, error) {
	d := &models.Dispute{}
	if err := scanDispute(r.getExecutor(exec).QueryRowContext(ctx, query, arg), d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to scan dispute: %w", err)
	}
	return d, nil
}

func (r *postgresDisputeRepository) ListPending(ctx context.Context, exec SQLExecutor, limit int) ([]*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + `
		FROM disputes
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1`
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending disputes: %w", err)
	}
	defer rows.Close()

	disputes := make([]*models.Dispute, 0)
	for rows.Next() {
		d := &models.Dispute{}
		if scanErr := scanDispute(rows, d); scanErr != nil {
			return nil, fmt.Errorf("failed to scan dispute row: %w", scanErr)
		}
		disputes = append(disputes, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during dispute rows iteration: %w", err)
	}
	return disputes, nil
}

func (r *postgresDisputeRepository) Resolve(ctx context.Context, exec SQLExecutor, id int, winnerID *int, response string, at time.Time) error {
	query := `
		UPDATE disputes
		SET status = 'resolved', resolved_winner_id = $1, admin_response = $2, resolved_at = $3
		WHERE id = $4 AND status = 'pending'`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, winnerID, response, at, id)
	if err != nil {
		return fmt.Errorf("failed to resolve dispute %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrDisputeNotPending)
}
