package brackets

import (
	"sort"
	"sync"

	"github.com/Dosada05/skill-arena/models"
)

// BracketView is a subscriber-side copy of one tournament's bracket. Every event replaces the
// held match wholesale; events older than the held version are ignored.
type BracketView struct {
	mu           sync.RWMutex
	tournamentID int
	matches      map[int]*models.Match
}

func NewBracketView(tournamentID int) *BracketView {
	return &BracketView{tournamentID: tournamentID, matches: make(map[int]*models.Match)}
}

// Reset replaces the whole view with a freshly fetched bracket, e.g. after a reconnect.
func (v *BracketView) Reset(matches []*models.Match) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.matches = make(map[int]*models.Match, len(matches))
	for _, m := range matches {
		if m != nil && m.TournamentID == v.tournamentID {
			v.matches[m.ID] = m.Clone()
		}
	}
}

// Merge folds a fetched bracket into the view match by match. A match the view already
// holds at the same or a newer version is kept, so a snapshot read before a live event
// cannot roll that event back.
func (v *BracketView) Merge(matches []*models.Match) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	changed := 0
	for _, m := range matches {
		if m == nil || m.TournamentID != v.tournamentID {
			continue
		}
		if held, ok := v.matches[m.ID]; ok && held.Version >= m.Version {
			continue
		}
		v.matches[m.ID] = m.Clone()
		changed++
	}
	return changed
}

// Apply stores the event's match state and reports whether the view changed.
func (v *BracketView) Apply(ev MatchEvent) bool {
	if ev.Match == nil || ev.Match.TournamentID != v.tournamentID {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if held, ok := v.matches[ev.Match.ID]; ok && held.Version >= ev.Match.Version {
		return false
	}
	v.matches[ev.Match.ID] = ev.Match.Clone()
	return true
}

func (v *BracketView) Match(id int) (*models.Match, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	m, ok := v.matches[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

func (v *BracketView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.matches)
}

// Rounds groups the held matches by round, each round ordered by match number.
func (v *BracketView) Rounds() [][]*models.Match {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return GroupRounds(mapValues(v.matches))
}

// GroupRounds returns matches bucketed by round_number (index 0 is round 1).
func GroupRounds(matches []*models.Match) [][]*models.Match {
	maxRound := 0
	for _, m := range matches {
		if m.RoundNumber > maxRound {
			maxRound = m.RoundNumber
		}
	}
	rounds := make([][]*models.Match, maxRound)
	for _, m := range matches {
		if m.RoundNumber < 1 {
			continue
		}
		rounds[m.RoundNumber-1] = append(rounds[m.RoundNumber-1], m.Clone())
	}
	for _, r := range rounds {
		sort.Slice(r, func(i, j int) bool { return r[i].MatchNumber < r[j].MatchNumber })
	}
	return rounds
}

func mapValues(in map[int]*models.Match) []*models.Match {
	out := make([]*models.Match, 0, len(in))
	for _, m := range in {
		out = append(out, m)
	}
	return out
}
