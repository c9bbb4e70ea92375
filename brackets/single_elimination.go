package brackets

import (
	"context"
	"fmt"
	"sort"

	"github.com/Dosada05/skill-arena/models"
)

// BracketMatch is one generated slot of the match tree before it is persisted.
type BracketMatch struct {
	UID          string
	Round        int
	OrderInRound int

	Participant1ID *int
	Participant2ID *int

	SourceMatch1UID *string
	SourceMatch2UID *string

	Status   models.MatchStatus
	WinnerID *int
	IsBye    bool
}

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

func matchUID(round, order int) string {
	return fmt.Sprintf("R%dM%d", round, order)
}

// GenerateBracket builds every round of a single-elimination tree. Round 1 pairs consecutive
// bracket positions; later rounds start empty unless a bye advanced a player into them.
func (g *SingleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error) {
	if params.Tournament == nil {
		return nil, fmt.Errorf("%w: tournament is required", ErrInvalidSize)
	}
	size := params.Tournament.MaxParticipants
	if size < 2 || !models.IsPowerOfTwo(size) {
		return nil, fmt.Errorf("%w: max participants %d is not a power of two", ErrInvalidSize, size)
	}

	seats, err := seatParticipants(size, params.Participants, params.AllowByes)
	if err != nil {
		return nil, err
	}

	numRounds := models.RoundsFor(size)
	byPosition := make(map[string]*BracketMatch, size-1)
	all := make([]*BracketMatch, 0, size-1)

	for r := 1; r <= numRounds; r++ {
		count := models.MatchesInRound(size, r)
		for i := 1; i <= count; i++ {
			bm := &BracketMatch{
				UID:          matchUID(r, i),
				Round:        r,
				OrderInRound: i,
				Status:       models.MatchPending,
			}
			if r == 1 {
				bm.Participant1ID = seats[2*(i-1)]
				bm.Participant2ID = seats[2*(i-1)+1]
			} else {
				src1 := matchUID(r-1, 2*i-1)
				src2 := matchUID(r-1, 2*i)
				bm.SourceMatch1UID = &src1
				bm.SourceMatch2UID = &src2
			}
			byPosition[bm.UID] = bm
			all = append(all, bm)
		}
	}

	// Settle round 1: full pairs start immediately, single-player pairs are byes that
	// complete now and push their player into round 2.
	for _, bm := range all {
		if bm.Round != 1 {
			break
		}
		switch {
		case bm.Participant1ID != nil && bm.Participant2ID != nil:
			bm.Status = models.MatchInProgress
		case bm.Participant1ID != nil || bm.Participant2ID != nil:
			winner := bm.Participant1ID
			if winner == nil {
				winner = bm.Participant2ID
			}
			bm.IsBye = true
			bm.Status = models.MatchCompleted
			bm.WinnerID = winner
			if numRounds > 1 {
				nr, nn, slot := models.NextPosition(bm.Round, bm.OrderInRound)
				next := byPosition[matchUID(nr, nn)]
				if slot == models.SlotPlayer1 {
					next.Participant1ID = winner
				} else {
					next.Participant2ID = winner
				}
			}
		default:
			return nil, fmt.Errorf("%w: match %s has no players", ErrInvalidSize, bm.UID)
		}
	}
	for _, bm := range all {
		if bm.Round == 2 && bm.Participant1ID != nil && bm.Participant2ID != nil {
			bm.Status = models.MatchInProgress
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Round != all[j].Round {
			return all[i].Round < all[j].Round
		}
		return all[i].OrderInRound < all[j].OrderInRound
	})
	return all, nil
}

// seatParticipants returns one user id (or nil) per round-1 seat.
func seatParticipants(size int, participants []*models.Participant, allowByes bool) ([]*int, error) {
	ordered := make([]*models.Participant, 0, len(participants))
	for _, p := range participants {
		if p != nil {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].BracketPosition < ordered[j].BracketPosition
	})

	n := len(ordered)
	seenUsers := make(map[int]struct{}, n)
	seenPositions := make(map[int]struct{}, n)
	for _, p := range ordered {
		if _, dup := seenUsers[p.UserID]; dup {
			return nil, fmt.Errorf("%w: user %d appears twice", ErrInvalidSeeding, p.UserID)
		}
		if _, dup := seenPositions[p.BracketPosition]; dup {
			return nil, fmt.Errorf("%w: bracket position %d appears twice", ErrInvalidSeeding, p.BracketPosition)
		}
		seenUsers[p.UserID] = struct{}{}
		seenPositions[p.BracketPosition] = struct{}{}
	}

	seats := make([]*int, size)
	switch {
	case n == size:
		for i, p := range ordered {
			uid := p.UserID
			seats[i] = &uid
		}
	case allowByes && n > size/2 && n < size:
		for seat, seed := range SeedOrder(size) {
			if seed < n {
				uid := ordered[seed].UserID
				seats[seat] = &uid
			}
		}
	default:
		return nil, fmt.Errorf("%w: %d participants for a bracket of %d", ErrInvalidSize, n, size)
	}
	return seats, nil
}

// SeedOrder returns, for each round-1 seat, the zero-based seed placed there so that seed k
// meets seed size-1-k. With more than size/2 entrants no pair is left empty.
func SeedOrder(size int) []int {
	if size <= 0 {
		return []int{}
	}
	order := []int{0}
	for len(order) < size {
		next := make([]int, 0, len(order)*2)
		count := len(order) * 2
		for _, seed := range order {
			next = append(next, seed, (count-1)-seed)
		}
		order = next
	}
	return order
}

// ToMatches converts generated slots into match rows for tournamentID.
func ToMatches(tournamentID int, generated []*BracketMatch) []*models.Match {
	out := make([]*models.Match, 0, len(generated))
	for _, bm := range generated {
		out = append(out, &models.Match{
			TournamentID: tournamentID,
			RoundNumber:  bm.Round,
			MatchNumber:  bm.OrderInRound,
			Player1ID:    bm.Participant1ID,
			Player2ID:    bm.Participant2ID,
			WinnerID:     bm.WinnerID,
			Status:       bm.Status,
			IsBye:        bm.IsBye,
		})
	}
	return out
}
