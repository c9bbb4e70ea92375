package automation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/skill-arena/models"
	"github.com/Dosada05/skill-arena/repositories"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAutomationRepo struct {
	mu      sync.Mutex
	configs map[string]*models.AutomationConfig
	actions []*models.AutomatedAction
}

func newFakeAutomationRepo(types ...string) *fakeAutomationRepo {
	r := &fakeAutomationRepo{configs: make(map[string]*models.AutomationConfig)}
	for _, t := range types {
		r.configs[t] = &models.AutomationConfig{AutomationType: t, IsEnabled: true, RunFrequencyMinutes: 10}
	}
	return r
}

func (r *fakeAutomationRepo) ListDue(ctx context.Context, now time.Time) ([]*models.AutomationConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := make([]*models.AutomationConfig, 0)
	for _, c := range r.configs {
		if c.IsDue(now) {
			cp := *c
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AutomationType < due[j].AutomationType })
	return due, nil
}

func (r *fakeAutomationRepo) Reschedule(ctx context.Context, cfg *models.AutomationConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[cfg.AutomationType]; !ok {
		return repositories.ErrAutomationConfigNotFound
	}
	cp := *cfg
	r.configs[cfg.AutomationType] = &cp
	return nil
}

func (r *fakeAutomationRepo) RecordAction(ctx context.Context, a *models.AutomatedAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	cp.ID = len(r.actions) + 1
	r.actions = append(r.actions, &cp)
	return nil
}

func (r *fakeAutomationRepo) config(t string) models.AutomationConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.configs[t]
}

func (r *fakeAutomationRepo) actionsFor(t string) []*models.AutomatedAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.AutomatedAction, 0)
	for _, a := range r.actions {
		if a.AutomationType == t {
			out = append(out, a)
		}
	}
	return out
}

// stubHandler runs fn, or succeeds with one processed item.
type stubHandler struct {
	typ   string
	fn    func(ctx context.Context) (Result, error)
	mu    sync.Mutex
	calls int
}

func (h *stubHandler) Type() string { return h.typ }

func (h *stubHandler) Run(ctx context.Context) (Result, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.fn != nil {
		return h.fn(ctx)
	}
	return Result{ActionType: h.typ + "_ok", ItemsProcessed: 1}, nil
}

func (h *stubHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// --- marketplace fakes ---

type fakePricing struct {
	rules   []*models.PricingRule
	updates map[int]float64
}

func (f *fakePricing) ListActive(ctx context.Context) ([]*models.PricingRule, error) {
	return f.rules, nil
}

func (f *fakePricing) UpdatePrice(ctx context.Context, id int, price float64, at time.Time) error {
	if f.updates == nil {
		f.updates = make(map[int]float64)
	}
	f.updates[id] = price
	return nil
}

func (f *fakePricing) CurrentPrice(ctx context.Context, gameID int) (float64, bool, error) {
	for _, r := range f.rules {
		if r.GameID == gameID && r.IsActive && r.CurrentPrice > 0 {
			return r.CurrentPrice, true, nil
		}
	}
	return 0, false, nil
}

type fakeChallenges struct {
	active  map[int]int
	queued  map[int]int
	open    map[int]int
	popular []models.GamePopularity
	created []*models.Challenge
	err     error
}

func (f *fakeChallenges) CountOpen(ctx context.Context, gameID int) (int, error) {
	n := f.open[gameID]
	for _, c := range f.created {
		if c.GameID == gameID {
			n++
		}
	}
	return n, f.err
}

func (f *fakeChallenges) CountActive(ctx context.Context, gameID int) (int, error) {
	return f.active[gameID], f.err
}

func (f *fakeChallenges) CountQueued(ctx context.Context, gameID int) (int, error) {
	return f.queued[gameID], f.err
}

func (f *fakeChallenges) PopularGames(ctx context.Context, since time.Time, limit int) ([]models.GamePopularity, error) {
	if len(f.popular) > limit {
		return f.popular[:limit], f.err
	}
	return f.popular, f.err
}

func (f *fakeChallenges) Create(ctx context.Context, c *models.Challenge) error {
	c.ID = len(f.created) + 1
	f.created = append(f.created, c)
	return nil
}

type flagKey struct{ user, pattern int }

type fakeFraud struct {
	patterns     []*models.FraudPattern
	stats        []*models.PlayerStatSnapshot
	flags        map[flagKey]*models.SuspiciousActivity
	restrictions map[int]string
	sinceCalls   []time.Time
	restrictErrs []error
}

func newFakeFraud() *fakeFraud {
	return &fakeFraud{flags: make(map[flagKey]*models.SuspiciousActivity), restrictions: make(map[int]string)}
}

func (f *fakeFraud) ListActivePatterns(ctx context.Context) ([]*models.FraudPattern, error) {
	return f.patterns, nil
}

func (f *fakeFraud) AggregateStatsSince(ctx context.Context, since time.Time) ([]*models.PlayerStatSnapshot, error) {
	f.sinceCalls = append(f.sinceCalls, since)
	out := make([]*models.PlayerStatSnapshot, 0)
	for _, s := range f.stats {
		if !s.CapturedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeFraud) HasOpenFlag(ctx context.Context, userID, patternID int) (bool, error) {
	_, ok := f.flags[flagKey{userID, patternID}]
	return ok, nil
}

func (f *fakeFraud) CreateFlag(ctx context.Context, a *models.SuspiciousActivity) error {
	k := flagKey{a.UserID, a.PatternID}
	if _, ok := f.flags[k]; ok {
		return repositories.ErrFlagAlreadyOpen
	}
	a.Status = "open"
	f.flags[k] = a
	return nil
}

func (f *fakeFraud) RestrictAccount(ctx context.Context, userID int, reason string) error {
	if len(f.restrictErrs) > 0 {
		err := f.restrictErrs[0]
		f.restrictErrs = f.restrictErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := f.restrictions[userID]; !ok {
		f.restrictions[userID] = reason
	}
	return nil
}

type fakeTemplates struct {
	templates []*models.TournamentTemplate
}

func (f *fakeTemplates) ListActive(ctx context.Context) ([]*models.TournamentTemplate, error) {
	return f.templates, nil
}

var errBoom = errors.New("boom")

// tournamentLedgerRepo exposes fakeTournamentLedger as a TournamentRepository; other methods are unused.
type tournamentLedgerRepo struct {
	ledger *fakeTournamentLedger
}

var _ repositories.TournamentRepository = tournamentLedgerRepo{}

func (r tournamentLedgerRepo) Create(ctx context.Context, exec repositories.SQLExecutor, t *models.Tournament) error {
	return errBoom
}

func (r tournamentLedgerRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Tournament, error) {
	return nil, repositories.ErrTournamentNotFound
}

func (r tournamentLedgerRepo) GetForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Tournament, error) {
	return nil, repositories.ErrTournamentNotFound
}

func (r tournamentLedgerRepo) UpdateParticipation(ctx context.Context, exec repositories.SQLExecutor, id int, current int, prizePool float64) error {
	return errBoom
}

func (r tournamentLedgerRepo) UpdateStatus(ctx context.Context, exec repositories.SQLExecutor, id int, status models.TournamentStatus) error {
	return errBoom
}

func (r tournamentLedgerRepo) Complete(ctx context.Context, exec repositories.SQLExecutor, id int, winnerID int) error {
	return errBoom
}

func (r tournamentLedgerRepo) SetAdvancementHalt(ctx context.Context, exec repositories.SQLExecutor, id int, halted bool, reason *string) error {
	return errBoom
}

func (r tournamentLedgerRepo) LastCreatedFromTemplate(ctx context.Context, exec repositories.SQLExecutor, templateID int) (*time.Time, error) {
	return r.ledger.LastCreatedFromTemplate(ctx, templateID)
}

type fakeDisputeQueue struct {
	pending []*models.Dispute
}

var _ repositories.DisputeRepository = (*fakeDisputeQueue)(nil)

func (f *fakeDisputeQueue) Create(ctx context.Context, exec repositories.SQLExecutor, d *models.Dispute) error {
	return errBoom
}

func (f *fakeDisputeQueue) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Dispute, error) {
	for _, d := range f.pending {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, repositories.ErrDisputeNotFound
}

func (f *fakeDisputeQueue) GetPendingByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.Dispute, error) {
	return nil, repositories.ErrDisputeNotFound
}

func (f *fakeDisputeQueue) ListPending(ctx context.Context, exec repositories.SQLExecutor, limit int) ([]*models.Dispute, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeDisputeQueue) Resolve(ctx context.Context, exec repositories.SQLExecutor, id int, winnerID *int, response string, at time.Time) error {
	return errBoom
}
