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
	ErrTournamentNotFound        = errors.New("tournament not found")
	ErrTournamentInvalidTemplate = errors.New("invalid template reference")
	ErrTournamentCapacity        = errors.New("tournament capacity violated")
)

type TournamentRepository interface {
	Create(ctx context.Context, exec SQLExecutor, t *models.Tournament) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	UpdateParticipation(ctx context.Context, exec SQLExecutor, id int, current int, prizePool float64) error
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.TournamentStatus) error
	Complete(ctx context.Context, exec SQLExecutor, id int, winnerID int) error
	SetAdvancementHalt(ctx context.Context, exec SQLExecutor, id int, halted bool, reason *string) error
	LastCreatedFromTemplate(ctx context.Context, exec SQLExecutor, templateID int) (*time.Time, error)
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

func (r *postgresTournamentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const tournamentColumns = `
	id, creator_id, name, game_id, max_participants, current_participants, entry_fee, prize_pool,
	status, start_time, template_id, no_show_timeout_minutes, winner_id, advancement_halted,
	halt_reason, created_at`

func (r *postgresTournamentRepository) Create(ctx context.Context, exec SQLExecutor, t *models.Tournament) error {
	query := `
		INSERT INTO tournaments (
			creator_id, name, game_id, max_participants, current_participants, entry_fee, prize_pool,
			status, start_time, template_id, no_show_timeout_minutes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		t.CreatorID, t.Name, t.GameID, t.MaxParticipants, t.CurrentParticipants, t.EntryFee, t.PrizePool,
		t.Status, t.StartTime, t.TemplateID, t.NoShowTimeoutMinutes,
	).Scan(&t.ID, &t.CreatedAt)

	return r.handleTournamentError(err)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE id = $1`
	return r.getOne(ctx, exec, query, id)
}

func (r *postgresTournamentRepository) GetForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, exec, query, id)
}

func (r *postgresTournamentRepository) getOne(ctx context.Context, exec SQLExecutor, query string, id int) (*models.Tournament, error) {
	t := &models.Tournament{}
	err := scanTournament(r.getExecutor(exec).QueryRowContext(ctx, query, id), t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to scan tournament %d: %w", id, err)
	}
	return t, nil
}

func scanTournament(row rowScanner, t *models.Tournament) error {
	return row.Scan(
		&t.ID, &t.CreatorID, &t.Name, &t.GameID, &t.MaxParticipants, &t.CurrentParticipants,
		&t.EntryFee, &t.PrizePool, &t.Status, &t.StartTime, &t.TemplateID, &t.NoShowTimeoutMinutes,
		&t.WinnerID, &t.AdvancementHalted, &t.HaltReason, &t.CreatedAt,
	)
}

func (r *postgresTournamentRepository) UpdateParticipation(ctx context.Context, exec SQLExecutor, id int, current int, prizePool float64) error {
	query := `UPDATE tournaments SET current_participants = $1, prize_pool = $2 WHERE id = $3`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, current, prizePool, id)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.TournamentStatus) error {
	query := `UPDATE tournaments SET status = $1 WHERE id = $2`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update status of tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) Complete(ctx context.Context, exec SQLExecutor, id int, winnerID int) error {
	query := `UPDATE tournaments SET status = 'completed', winner_id = $1 WHERE id = $2 AND status = 'in_progress'`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, winnerID, id)
	if err != nil {
		return fmt.Errorf("failed to complete tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) SetAdvancementHalt(ctx context.Context, exec SQLExecutor, id int, halted bool, reason *string) error {
	query := `UPDATE tournaments SET advancement_halted = $1, halt_reason = $2 WHERE id = $3`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, halted, reason, id)
	if err != nil {
		return fmt.Errorf("failed to set advancement halt on tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

// LastCreatedFromTemplate returns nil when the template never produced a tournament.
func (r *postgresTournamentRepository) LastCreatedFromTemplate(ctx context.Context, exec SQLExecutor, templateID int) (*time.Time, error) {
	var last sql.NullTime
	query := `SELECT MAX(created_at) FROM tournaments WHERE template_id = $1`
	if err := r.getExecutor(exec).QueryRowContext(ctx, query, templateID).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read last tournament for template %d: %w", templateID, err)
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := asPQError(err); ok {
		switch pqErr.Code {
		case pqForeignKeyViolation:
			if pqErr.Constraint == "tournaments_template_id_fkey" {
				return ErrTournamentInvalidTemplate
			}
		case pqCheckViolation:
			return fmt.Errorf("%w: %s", ErrTournamentCapacity, pqErr.Constraint)
		}
	}
	return err
}
