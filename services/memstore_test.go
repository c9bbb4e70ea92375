package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/skill-arena/brackets"
	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
	"github.com/Dosada05/skill-arena/storage"
)

// memStore is an in-memory stand-in for the postgres repositories. Transactions are serialized
// and roll back by restoring a snapshot; conditional updates follow the same WHERE clauses.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID       int
	tournaments  map[int]*models.Tournament
	participants map[int]*models.Participant
	matches      map[int]*models.Match
	disputes     map[int]*models.Dispute
	now          time.Time
}

func newMemStore() *memStore {
	return &memStore{
		tournaments:  make(map[int]*models.Tournament),
		participants: make(map[int]*models.Participant),
		matches:      make(map[int]*models.Match),
		disputes:     make(map[int]*models.Dispute),
		now:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) id() int {
	s.nextID++
	return s.nextID
}

type memSnapshot struct {
	nextID       int
	tournaments  map[int]models.Tournament
	participants map[int]models.Participant
	matches      map[int]*models.Match
	disputes     map[int]models.Dispute
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		nextID:       s.nextID,
		tournaments:  make(map[int]models.Tournament, len(s.tournaments)),
		participants: make(map[int]models.Participant, len(s.participants)),
		matches:      make(map[int]*models.Match, len(s.matches)),
		disputes:     make(map[int]models.Dispute, len(s.disputes)),
	}
	for k, v := range s.tournaments {
		snap.tournaments[k] = *v
	}
	for k, v := range s.participants {
		snap.participants[k] = *v
	}
	for k, v := range s.matches {
		snap.matches[k] = v.Clone()
	}
	for k, v := range s.disputes {
		snap.disputes[k] = *v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.tournaments = make(map[int]*models.Tournament, len(snap.tournaments))
	for k, v := range snap.tournaments {
		v := v
		s.tournaments[k] = &v
	}
	s.participants = make(map[int]*models.Participant, len(snap.participants))
	for k, v := range snap.participants {
		v := v
		s.participants[k] = &v
	}
	s.matches = snap.matches
	s.disputes = make(map[int]*models.Dispute, len(snap.disputes))
	for k, v := range snap.disputes {
		v := v
		s.disputes[k] = &v
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()
	return fn(nil)
}

// seedTournament inserts an open tournament with n joined participants (user ids 101..100+n).
func (s *memStore) seedTournament(creatorID, maxParticipants, n int) *models.Tournament {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &models.Tournament{
		ID:                  s.id(),
		CreatorID:           creatorID,
		Name:                fmt.Sprintf("cup %d", s.nextID),
		MaxParticipants:     maxParticipants,
		CurrentParticipants: n,
		EntryFee:            10,
		PrizePool:           float64(10 * n),
		Status:              models.TournamentOpen,
		StartTime:           s.now,
		CreatedAt:           s.now,
	}
	s.tournaments[t.ID] = t
	for i := 1; i <= n; i++ {
		p := &models.Participant{ID: s.id(), TournamentID: t.ID, UserID: 100 + i, BracketPosition: i, CreatedAt: s.now}
		s.participants[p.ID] = p
	}
	c := *t
	return &c
}

func (s *memStore) tournament(id int) *models.Tournament {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.tournaments[id]
	return &c
}

func (s *memStore) matchAt(tournamentID, round, number int) *models.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.TournamentID == tournamentID && m.RoundNumber == round && m.MatchNumber == number {
			return m.Clone()
		}
	}
	return nil
}

func (s *memStore) pendingDisputes() []*models.Dispute {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Dispute, 0)
	for _, d := range s.disputes {
		if d.Status == models.DisputePending {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- tournaments ---

type memTournaments struct{ s *memStore }

func (r memTournaments) Create(ctx context.Context, exec repositories.SQLExecutor, t *models.Tournament) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.ID = r.s.id()
	t.CreatedAt = r.s.now
	c := *t
	r.s.tournaments[t.ID] = &c
	return nil
}

func (r memTournaments) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Tournament, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tournaments[id]
	if !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	c := *t
	return &c, nil
}

func (r memTournaments) GetForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Tournament, error) {
	return r.GetByID(ctx, exec, id)
}

func (r memTournaments) update(id int, fn func(t *models.Tournament) bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tournaments[id]
	if !ok || !fn(t) {
		return repositories.ErrTournamentNotFound
	}
	return nil
}

func (r memTournaments) UpdateParticipation(ctx context.Context, exec repositories.SQLExecutor, id int, current int, prizePool float64) error {
	return r.update(id, func(t *models.Tournament) bool {
		t.CurrentParticipants, t.PrizePool = current, prizePool
		return true
	})
}

func (r memTournaments) UpdateStatus(ctx context.Context, exec repositories.SQLExecutor, id int, status models.TournamentStatus) error {
	return r.update(id, func(t *models.Tournament) bool {
		t.Status = status
		return true
	})
}

func (r memTournaments) Complete(ctx context.Context, exec repositories.SQLExecutor, id int, winnerID int) error {
	return r.update(id, func(t *models.Tournament) bool {
		if t.Status != models.TournamentInProgress {
			return false
		}
		t.Status = models.TournamentCompleted
		t.WinnerID = &winnerID
		return true
	})
}

func (r memTournaments) SetAdvancementHalt(ctx context.Context, exec repositories.SQLExecutor, id int, halted bool, reason *string) error {
	return r.update(id, func(t *models.Tournament) bool {
		t.AdvancementHalted, t.HaltReason = halted, reason
		return true
	})
}

func (r memTournaments) LastCreatedFromTemplate(ctx context.Context, exec repositories.SQLExecutor, templateID int) (*time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var last *time.Time
	for _, t := range r.s.tournaments {
		if t.TemplateID != nil && *t.TemplateID == templateID && (last == nil || t.CreatedAt.After(*last)) {
			at := t.CreatedAt
			last = &at
		}
	}
	return last, nil
}

// --- participants ---

type memParticipants struct{ s *memStore }

func (r memParticipants) Create(ctx context.Context, exec repositories.SQLExecutor, p *models.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.participants {
		if other.TournamentID != p.TournamentID {
			continue
		}
		if other.UserID == p.UserID {
			return repositories.ErrParticipantConflict
		}
		if other.BracketPosition == p.BracketPosition {
			return repositories.ErrParticipantPositionTaken
		}
	}
	p.ID = r.s.id()
	p.CreatedAt = r.s.now
	c := *p
	r.s.participants[p.ID] = &c
	return nil
}

func (r memParticipants) FindByUserAndTournament(ctx context.Context, exec repositories.SQLExecutor, userID, tournamentID int) (*models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.participants {
		if p.UserID == userID && p.TournamentID == tournamentID {
			c := *p
			return &c, nil
		}
	}
	return nil, repositories.ErrParticipantNotFound
}

func (r memParticipants) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]*models.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.Participant, 0)
	for _, p := range r.s.participants {
		if p.TournamentID == tournamentID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BracketPosition < out[j].BracketPosition })
	return out, nil
}

func (r memParticipants) Delete(ctx context.Context, exec repositories.SQLExecutor, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.participants[id]; !ok {
		return repositories.ErrParticipantNotFound
	}
	delete(r.s.participants, id)
	return nil
}

func (r memParticipants) CompactPositionsAfter(ctx context.Context, exec repositories.SQLExecutor, tournamentID, position int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.participants {
		if p.TournamentID == tournamentID && p.BracketPosition > position {
			p.BracketPosition--
		}
	}
	return nil
}

// --- matches ---

type memMatches struct{ s *memStore }

func (r memMatches) CreateBatch(ctx context.Context, exec repositories.SQLExecutor, matches []*models.Match) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range matches {
		for _, other := range r.s.matches {
			if other.TournamentID == m.TournamentID && other.RoundNumber == m.RoundNumber && other.MatchNumber == m.MatchNumber {
				return repositories.ErrMatchPositionTaken
			}
		}
		m.ID = r.s.id()
		m.Version = 1
		m.CreatedAt, m.UpdatedAt = r.s.now, r.s.now
		r.s.matches[m.ID] = m.Clone()
	}
	return nil
}

func (r memMatches) CountByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.matches {
		if m.TournamentID == tournamentID {
			n++
		}
	}
	return n, nil
}

func (r memMatches) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (r memMatches) GetByPosition(ctx context.Context, exec repositories.SQLExecutor, tournamentID, round, number int) (*models.Match, error) {
	if m := r.s.matchAt(tournamentID, round, number); m != nil {
		return m, nil
	}
	return nil, repositories.ErrMatchNotFound
}

func (r memMatches) sorted(keep func(m *models.Match) bool) []*models.Match {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.Match, 0)
	for _, m := range r.s.matches {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoundNumber != out[j].RoundNumber {
			return out[i].RoundNumber < out[j].RoundNumber
		}
		return out[i].MatchNumber < out[j].MatchNumber
	})
	return out
}

func (r memMatches) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]*models.Match, error) {
	return r.sorted(func(m *models.Match) bool { return m.TournamentID == tournamentID }), nil
}

func (r memMatches) ListNoShowExpired(ctx context.Context, exec repositories.SQLExecutor, now time.Time, defaultTimeout time.Duration) ([]*models.Match, error) {
	return r.sorted(func(m *models.Match) bool {
		if m.Status != models.MatchInProgress || m.ResultDisputed || m.StartedAt == nil {
			return false
		}
		t, ok := r.s.tournaments[m.TournamentID]
		if !ok || t.Status != models.TournamentInProgress {
			return false
		}
		return !m.StartedAt.Add(t.NoShowTimeout(defaultTimeout)).After(now)
	}), nil
}

// cas applies fn to the stored match when cond holds, mimicking UPDATE ... WHERE ... RETURNING.
func (r memMatches) cas(id int, cond func(m *models.Match) bool, fn func(m *models.Match)) (*models.Match, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matches[id]
	if !ok || !cond(m) {
		return nil, repositories.ErrMatchStateChanged
	}
	fn(m)
	m.Version++
	m.UpdatedAt = r.s.now
	return m.Clone(), nil
}

func intPtr(v int) *int { return &v }

func copyPtr(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}

func (r memMatches) SetReport(ctx context.Context, exec repositories.SQLExecutor, id int, slot models.Slot, prev, next *int) (*models.Match, error) {
	return r.cas(id,
		func(m *models.Match) bool {
			return m.Status == models.MatchInProgress && models.EqualIntPtr(m.ReportOf(slot), prev)
		},
		func(m *models.Match) {
			if slot == models.SlotPlayer1 {
				m.Player1ReportedWinner = copyPtr(next)
			} else {
				m.Player2ReportedWinner = copyPtr(next)
			}
		})
}

func (r memMatches) MarkDisputed(ctx context.Context, exec repositories.SQLExecutor, id int, p1Report, p2Report *int) (*models.Match, error) {
	return r.cas(id,
		func(m *models.Match) bool {
			return m.Status == models.MatchInProgress &&
				models.EqualIntPtr(m.Player1ReportedWinner, p1Report) && models.EqualIntPtr(m.Player2ReportedWinner, p2Report)
		},
		func(m *models.Match) { m.ResultDisputed = true })
}

func (r memMatches) CompleteWithReports(ctx context.Context, exec repositories.SQLExecutor, id, winnerID int, p1Report, p2Report *int) (*models.Match, error) {
	now := r.s.now
	return r.cas(id,
		func(m *models.Match) bool {
			return m.Status == models.MatchInProgress && !m.ResultDisputed &&
				models.EqualIntPtr(m.Player1ReportedWinner, p1Report) && models.EqualIntPtr(m.Player2ReportedWinner, p2Report) &&
				m.IsPlayer(winnerID)
		},
		func(m *models.Match) {
			m.Status = models.MatchCompleted
			m.WinnerID = intPtr(winnerID)
			m.CompletedAt = &now
		})
}

func (r memMatches) CompleteByOrganizer(ctx context.Context, exec repositories.SQLExecutor, id, winnerID int) (*models.Match, error) {
	now := r.s.now
	return r.cas(id,
		func(m *models.Match) bool {
			return m.Status != models.MatchCompleted && m.HasBothPlayers() && m.IsPlayer(winnerID)
		},
		func(m *models.Match) {
			m.Status = models.MatchCompleted
			m.WinnerID = intPtr(winnerID)
			m.ResultDisputed = false
			m.ConfirmedByOrganizer = true
			m.CompletedAt = &now
			if m.StartedAt == nil {
				m.StartedAt = &now
			}
		})
}

func (r memMatches) FillSlot(ctx context.Context, exec repositories.SQLExecutor, id int, slot models.Slot, playerID int) (*models.Match, error) {
	return r.cas(id,
		func(m *models.Match) bool { return m.PlayerIn(slot) == nil },
		func(m *models.Match) {
			if slot == models.SlotPlayer1 {
				m.Player1ID = intPtr(playerID)
			} else {
				m.Player2ID = intPtr(playerID)
			}
		})
}

func (r memMatches) Activate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	now := r.s.now
	return r.cas(id,
		func(m *models.Match) bool { return m.Status == models.MatchPending && m.HasBothPlayers() },
		func(m *models.Match) {
			m.Status = models.MatchInProgress
			m.StartedAt = &now
		})
}

// putMatch overwrites a stored match; used to stage inconsistent states.
func (s *memStore) putMatch(m *models.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[m.ID] = m.Clone()
}

// --- disputes ---

type memDisputes struct{ s *memStore }

func (r memDisputes) Create(ctx context.Context, exec repositories.SQLExecutor, d *models.Dispute) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d.MatchID != nil {
		for _, other := range r.s.disputes {
			if other.MatchID != nil && *other.MatchID == *d.MatchID && other.Status == models.DisputePending {
				return repositories.ErrDisputeAlreadyOpen
			}
		}
	}
	if d.Status == "" {
		d.Status = models.DisputePending
	}
	d.ID = r.s.id()
	d.CreatedAt = r.s.now
	c := *d
	r.s.disputes[d.ID] = &c
	return nil
}

func (r memDisputes) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Dispute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.disputes[id]
	if !ok {
		return nil, repositories.ErrDisputeNotFound
	}
	c := *d
	return &c, nil
}

func (r memDisputes) GetPendingByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.Dispute, error) {
	for _, d := range r.s.pendingDisputes() {
		if d.MatchID != nil && *d.MatchID == matchID {
			return d, nil
		}
	}
	return nil, repositories.ErrDisputeNotFound
}

func (r memDisputes) ListPending(ctx context.Context, exec repositories.SQLExecutor, limit int) ([]*models.Dispute, error) {
	pending := r.s.pendingDisputes()
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r memDisputes) Resolve(ctx context.Context, exec repositories.SQLExecutor, id int, winnerID *int, response string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.disputes[id]
	if !ok || d.Status != models.DisputePending {
		return repositories.ErrDisputeNotPending
	}
	d.Status = models.DisputeResolved
	d.ResolvedWinnerID = copyPtr(winnerID)
	d.AdminResponse = &response
	d.ResolvedAt = &at
	return nil
}

// --- side channels ---

type recordedMessage struct {
	Room    string
	Message brackets.WebSocketMessage
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (p *recordingPublisher) BroadcastToRoom(roomID string, message interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, _ := message.(brackets.WebSocketMessage)
	p.messages = append(p.messages, recordedMessage{Room: roomID, Message: msg})
}

func (p *recordingPublisher) count(msgType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.messages {
		if m.Message.Type == msgType {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}

type recordingArchiver struct {
	mu       sync.Mutex
	archives []*storage.BracketArchive
}

func (a *recordingArchiver) ArchiveBracket(ctx context.Context, archive *storage.BracketArchive) (*storage.UploadResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archives = append(a.archives, archive)
	return &storage.UploadResult{Key: storage.ArchiveKey("brackets", archive.Tournament.ID)}, nil
}

// harness wires every service to one memStore.
type harness struct {
	store     *memStore
	publisher *recordingPublisher
	archiver  *recordingArchiver

	tournaments TournamentService
	brackets    BracketService
	results     ResultService
	matches     MatchService
}

const (
	testOrganizerID  = 1
	testSystemUserID = 999
)

func newHarness() *harness {
	store := newMemStore()
	pub := &recordingPublisher{}
	arch := &recordingArchiver{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := ProgressionDeps{
		Tournaments:  memTournaments{store},
		Participants: memParticipants{store},
		Matches:      memMatches{store},
		Disputes:     memDisputes{store},
		Publisher:    pub,
		Archiver:     arch,
		Logger:       logger,
		Now:          func() time.Time { return store.now },
	}
	return &harness{
		store:       store,
		publisher:   pub,
		archiver:    arch,
		tournaments: NewTournamentService(store, deps.Tournaments, deps.Participants, pub, logger),
		brackets:    NewBracketService(store, deps.Tournaments, deps.Participants, deps.Matches, pub, logger, BracketServiceConfig{}),
		results:     NewResultService(store, deps),
		matches:     NewMatchService(store, deps, testSystemUserID, 30*time.Minute),
	}
}

// startBracket seeds a full tournament of size n and generates its bracket.
func (h *harness) startBracket(n int) *models.Tournament {
	t := h.store.seedTournament(testOrganizerID, n, n)
	if _, err := h.brackets.GenerateBracket(context.Background(), t.ID, testOrganizerID); err != nil {
		panic(err)
	}
	h.publisher.reset()
	return h.store.tournament(t.ID)
}

// playMatch has both players report the same winner.
func (h *harness) playMatch(m *models.Match, winner int) (*ReportResult, error) {
	ctx := context.Background()
	if _, err := h.results.ReportResult(ctx, m.ID, winner, *m.Player1ID); err != nil {
		return nil, err
	}
	return h.results.ReportResult(ctx, m.ID, winner, *m.Player2ID)
}
