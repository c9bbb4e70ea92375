package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/skill-arena/models"
)

var (
	ErrParticipantNotFound          = errors.New("participant not found")
	ErrParticipantConflict          = errors.New("participant conflict: user already registered for this tournament")
	ErrParticipantPositionTaken     = errors.New("bracket position already taken")
	ErrParticipantTournamentInvalid = errors.New("participant tournament conflict or invalid")
)

type ParticipantRepository interface {
	Create(ctx context.Context, exec SQLExecutor, p *models.Participant) error
	FindByUserAndTournament(ctx context.Context, exec SQLExecutor, userID, tournamentID int) (*models.Participant, error)
	// ListByTournament returns participants ordered by bracket_position.
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.Participant, error)
	Delete(ctx context.Context, exec SQLExecutor, id int) error
	// CompactPositionsAfter shifts every position above the vacated one down by one.
	CompactPositionsAfter(ctx context.Context, exec SQLExecutor, tournamentID, position int) error
}

type postgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) ParticipantRepository {
	return &postgresParticipantRepository{db: db}
}

func (r *postgresParticipantRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresParticipantRepository) Create(ctx context.Context, exec SQLExecutor, p *models.Participant) error {
	query := `
		INSERT INTO tournament_participants (tournament_id, user_id, bracket_position)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		p.TournamentID,
		p.UserID,
		p.BracketPosition,
	).Scan(&p.ID, &p.CreatedAt)

	if err != nil {
		if pqErr, ok := asPQError(err); ok {
			switch pqErr.Code {
			case pqUniqueViolation:
				switch pqErr.Constraint {
				case "tournament_participants_user_key":
					return ErrParticipantConflict
				case "tournament_participants_position_key":
					return ErrParticipantPositionTaken
				}
			case pqForeignKeyViolation:
				return ErrParticipantTournamentInvalid
			}
		}
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}

func (r *postgresParticipantRepository) scanParticipant(row rowScanner, p *models.Participant) error {
	return row.Scan(
		&p.ID,
		&p.TournamentID,
		&p.UserID,
		&p.BracketPosition,
		&p.CreatedAt,
	)
}

func (r *postgresParticipantRepository) FindByUserAndTournament(ctx context.Context, exec SQLExecutor, userID, tournamentID int) (*models.Participant, error) {
	query := `
		SELECT id, tournament_id, user_id, bracket_position, created_at
		FROM tournament_participants
		WHERE user_id = $1 AND tournament_id = $2`
	p := &models.Participant{}
	err := r.scanParticipant(r.getExecutor(exec).QueryRowContext(ctx, query, userID, tournamentID), p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	return p, nil
}

func (r *postgresParticipantRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.Participant, error) {
	query := `
		SELECT id, tournament_id, user_id, bracket_position, created_at
		FROM tournament_participants
		WHERE tournament_id = $1
		ORDER BY bracket_position ASC`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	participants := make([]*models.Participant, 0)
	for rows.Next() {
		p := &models.Participant{}
		if scanErr := r.scanParticipant(rows, p); scanErr != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", scanErr)
		}
		participants = append(participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during participant rows iteration: %w", err)
	}
	return participants, nil
}

func (r *postgresParticipantRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	result, err := r.getExecutor(exec).ExecContext(ctx, `DELETE FROM tournament_participants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete participant %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (r *postgresParticipantRepository) CompactPositionsAfter(ctx context.Context, exec SQLExecutor, tournamentID, position int) error {
	query := `
		UPDATE tournament_participants
		SET bracket_position = bracket_position - 1
		WHERE tournament_id = $1 AND bracket_position > $2`
	if _, err := r.getExecutor(exec).ExecContext(ctx, query, tournamentID, position); err != nil {
		return fmt.Errorf("failed to compact bracket positions for tournament %d: %w", tournamentID, err)
	}
	return nil
}
