package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dosada05/skill-arena/models"
)

var (
	ErrMatchNotFound = errors.New("match not found")
	// ErrMatchStateChanged means a conditional update matched no row: another writer got there first.
	ErrMatchStateChanged      = errors.New("match state changed concurrently")
	ErrMatchPositionTaken     = errors.New("match position already exists in this bracket")
	ErrMatchInvalidState      = errors.New("match row violates bracket constraints")
	ErrMatchTournamentInvalid = errors.New("match tournament conflict or invalid")
)

type MatchRepository interface {
	CreateBatch(ctx context.Context, exec SQLExecutor, matches []*models.Match) error
	CountByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) (int, error)
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	GetByPosition(ctx context.Context, exec SQLExecutor, tournamentID, round, number int) (*models.Match, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.Match, error)
	// ListNoShowExpired returns undisputed in-progress matches of running tournaments whose
	// no-show timeout (the tournament's own, else defaultTimeout) has passed at now.
	ListNoShowExpired(ctx context.Context, exec SQLExecutor, now time.Time, defaultTimeout time.Duration) ([]*models.Match, error)

	// SetReport stores a player's report only if their previous report is still prev.
	SetReport(ctx context.Context, exec SQLExecutor, id int, slot models.Slot, prev, next *int) (*models.Match, error)
	// MarkDisputed raises the dispute flag only if both reports are still as observed.
	MarkDisputed(ctx context.Context, exec SQLExecutor, id int, p1Report, p2Report *int) (*models.Match, error)
	// CompleteWithReports completes an undisputed in-progress match whose reports are unchanged.
	CompleteWithReports(ctx context.Context, exec SQLExecutor, id, winnerID int, p1Report, p2Report *int) (*models.Match, error)
	// CompleteByOrganizer completes any not-yet-completed match, overriding reports and disputes.
	CompleteByOrganizer(ctx context.Context, exec SQLExecutor, id, winnerID int) (*models.Match, error)
	// FillSlot writes playerID into slot only while it is empty.
	FillSlot(ctx context.Context, exec SQLExecutor, id int, slot models.Slot, playerID int) (*models.Match, error)
	// Activate moves a pending match with both players to in_progress.
	Activate(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchColumns = `
	id, tournament_id, round_number, match_number, player1_id, player2_id, winner_id, status,
	player1_reported_winner, player2_reported_winner, result_disputed, confirmed_by_organizer,
	is_bye, started_at, completed_at, version, created_at, updated_at`

func scanMatch(row rowScanner, m *models.Match) error {
	return row.Scan(
		&m.ID, &m.TournamentID, &m.RoundNumber, &m.MatchNumber, &m.Player1ID, &m.Player2ID,
		&m.WinnerID, &m.Status, &m.Player1ReportedWinner, &m.Player2ReportedWinner,
		&m.ResultDisputed, &m.ConfirmedByOrganizer, &m.IsBye, &m.StartedAt, &m.CompletedAt,
		&m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
}

func (r *postgresMatchRepository) CreateBatch(ctx context.Context, exec SQLExecutor, matches []*models.Match) error {
	if len(matches) == 0 {
		return nil
	}
	const perRow = 11
	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO tournament_matches
			(tournament_id, round_number, match_number, player1_id, player2_id, winner_id,
			 status, is_bye, started_at, completed_at, version)
		VALUES `)
	args := make([]interface{}, 0, len(matches)*perRow)
	byPosition := make(map[[2]int]*models.Match, len(matches))
	for i, m := range matches {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * perRow
		sb.WriteString("(")
		for j := 1; j <= perRow; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")
		if m.Version == 0 {
			m.Version = 1
		}
		args = append(args,
			m.TournamentID, m.RoundNumber, m.MatchNumber, m.Player1ID, m.Player2ID, m.WinnerID,
			m.Status, m.IsBye, m.StartedAt, m.CompletedAt, m.Version,
		)
		byPosition[[2]int{m.RoundNumber, m.MatchNumber}] = m
	}
	sb.WriteString(" RETURNING id, round_number, match_number, created_at, updated_at")

	rows, err := r.getExecutor(exec).QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return r.handleMatchError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, round, number    int
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&id, &round, &number, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("failed to scan inserted match: %w", err)
		}
		if m, ok := byPosition[[2]int{round, number}]; ok {
			m.ID = id
			m.CreatedAt = createdAt
			m.UpdatedAt = updatedAt
		}
	}
	if err := rows.Err(); err != nil {
		return r.handleMatchError(err)
	}
	return nil
}

func (r *postgresMatchRepository) CountByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) (int, error) {
	var n int
	err := r.getExecutor(exec).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tournament_matches WHERE tournament_id = $1`, tournamentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count matches for tournament %d: %w", tournamentID, err)
	}
	return n, nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM tournament_matches WHERE id = $1`
	return r.getOne(ctx, exec, query, id)
}

func (r *postgresMatchRepository) GetByPosition(ctx context.Context, exec SQLExecutor, tournamentID, round, number int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + `
		FROM tournament_matches
		WHERE tournament_id = $1 AND round_number = $2 AND match_number = $3`
	return r.getOne(ctx, exec, query, tournamentID, round, number)
}

func (r *postgresMatchRepository) getOne(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) (*models.Match, error) {
	m := &models.Match{}
	if err := scanMatch(r.getExecutor(exec).QueryRowContext(ctx, query, args...), m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match: %w", err)
	}
	return m, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + `
		FROM tournament_matches
		WHERE tournament_id = $1
		ORDER BY round_number ASC, match_number ASC`
	return r.list(ctx, exec, query, tournamentID)
}

func (r *postgresMatchRepository) ListNoShowExpired(ctx context.Context, exec SQLExecutor, now time.Time, defaultTimeout time.Duration) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + `
		FROM tournament_matches
		WHERE status = 'in_progress' AND result_disputed = FALSE AND started_at IS NOT NULL
		  AND EXISTS (
			SELECT 1 FROM tournaments t
			WHERE t.id = tournament_matches.tournament_id
			  AND t.status = 'in_progress'
			  AND tournament_matches.started_at + make_interval(mins => CASE
					WHEN t.no_show_timeout_minutes > 0 THEN t.no_show_timeout_minutes
					ELSE $2::int END) <= $1)
		ORDER BY started_at ASC, id ASC`
	return r.list(ctx, exec, query, now, int(defaultTimeout/time.Minute))
}

func (r *postgresMatchRepository) list(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) ([]*models.Match, error) {
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m := &models.Match{}
		if scanErr := scanMatch(rows, m); scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func slotColumns(slot models.Slot) (player, report string, err error) {
	switch slot {
	case models.SlotPlayer1:
		return "player1_id", "player1_reported_winner", nil
	case models.SlotPlayer2:
		return "player2_id", "player2_reported_winner", nil
	}
	return "", "", fmt.Errorf("unknown match slot %d", slot)
}

func (r *postgresMatchRepository) SetReport(ctx context.Context, exec SQLExecutor, id int, slot models.Slot, prev, next *int) (*models.Match, error) {
	_, reportCol, err := slotColumns(slot)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		UPDATE tournament_matches
		SET %[1]s = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND status = 'in_progress' AND %[1]s IS NOT DISTINCT FROM $3
		RETURNING `+matchColumns, reportCol)
	return r.conditionalUpdate(ctx, exec, query, next, id, prev)
}

func (r *postgresMatchRepository) MarkDisputed(ctx context.Context, exec SQLExecutor, id int, p1Report, p2Report *int) (*models.Match, error) {
	query := `
		UPDATE tournament_matches
		SET result_disputed = TRUE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'
		  AND player1_reported_winner IS NOT DISTINCT FROM $2
		  AND player2_reported_winner IS NOT DISTINCT FROM $3
		RETURNING ` + matchColumns
	return r.conditionalUpdate(ctx, exec, query, id, p1Report, p2Report)
}

func (r *postgresMatchRepository) CompleteWithReports(ctx context.Context, exec SQLExecutor, id, winnerID int, p1Report, p2Report *int) (*models.Match, error) {
	query := `
		UPDATE tournament_matches
		SET status = 'completed', winner_id = $1, result_disputed = FALSE, completed_at = NOW(),
		    version = version + 1, updated_at = NOW()
		WHERE id = $2 AND status = 'in_progress' AND result_disputed = FALSE
		  AND player1_reported_winner IS NOT DISTINCT FROM $3
		  AND player2_reported_winner IS NOT DISTINCT FROM $4
		  AND (player1_id = $1 OR player2_id = $1)
		RETURNING ` + matchColumns
	return r.conditionalUpdate(ctx, exec, query, winnerID, id, p1Report, p2Report)
}

func (r *postgresMatchRepository) CompleteByOrganizer(ctx context.Context, exec SQLExecutor, id, winnerID int) (*models.Match, error) {
	query := `
		UPDATE tournament_matches
		SET status = 'completed', winner_id = $1, result_disputed = FALSE, confirmed_by_organizer = TRUE,
		    completed_at = NOW(), started_at = COALESCE(started_at, NOW()),
		    version = version + 1, updated_at = NOW()
		WHERE id = $2 AND status <> 'completed'
		  AND player1_id IS NOT NULL AND player2_id IS NOT NULL
		  AND (player1_id = $1 OR player2_id = $1)
		RETURNING ` + matchColumns
	return r.conditionalUpdate(ctx, exec, query, winnerID, id)
}

func (r *postgresMatchRepository) FillSlot(ctx context.Context, exec SQLExecutor, id int, slot models.Slot, playerID int) (*models.Match, error) {
	playerCol, _, err := slotColumns(slot)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		UPDATE tournament_matches
		SET %[1]s = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND %[1]s IS NULL
		RETURNING `+matchColumns, playerCol)
	return r.conditionalUpdate(ctx, exec, query, playerID, id)
}

func (r *postgresMatchRepository) Activate(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	query := `
		UPDATE tournament_matches
		SET status = 'in_progress', started_at = NOW(), version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND player1_id IS NOT NULL AND player2_id IS NOT NULL
		RETURNING ` + matchColumns
	return r.conditionalUpdate(ctx, exec, query, id)
}

func (r *postgresMatchRepository) conditionalUpdate(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) (*models.Match, error) {
	m := &models.Match{}
	if err := scanMatch(r.getExecutor(exec).QueryRowContext(ctx, query, args...), m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchStateChanged
		}
		return nil, r.handleMatchError(err)
	}
	return m, nil
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := asPQError(err); ok {
		switch pqErr.Code {
		case pqUniqueViolation:
			if pqErr.Constraint == "tournament_matches_position_key" {
				return ErrMatchPositionTaken
			}
		case pqCheckViolation:
			return fmt.Errorf("%w: %s", ErrMatchInvalidState, pqErr.Constraint)
		case pqForeignKeyViolation:
			return ErrMatchTournamentInvalid
		}
	}
	return err
}
