package reaper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/engine"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/ledger"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/metrics"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/planner"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
)

type seq struct{ n atomic.Int64 }

func (s *seq) NextID() int64 { return s.n.Add(1) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func activeCampaign(t *testing.T, ctx context.Context, eng *engine.Engine, authorID int64, target, pace int) *model.Campaign {
	t.Helper()
	c, err := eng.CreateCampaign(ctx, authorID, engine.NewCampaign{
		Title: "Reaped", TargetReviews: target, ReviewsPerWeek: pace, Formats: model.FormatsEbook,
	})
	require.NoError(t, err)
	_, err = eng.PurchaseCredits(ctx, authorID, int64(target), "checkout")
	require.NoError(t, err)
	c, err = eng.ActivateCampaign(ctx, model.Caller{Role: model.RoleAuthor, ID: authorID}, c.ID)
	require.NoError(t, err)
	return c
}

func approve(t *testing.T, ctx context.Context, eng *engine.Engine, readerID, campaignID int64) *model.Assignment {
	t.Helper()
	a, err := eng.ApplyToCampaign(ctx, readerID, campaignID, model.FormatEbook)
	require.NoError(t, err)
	_, err = eng.ManualGrantAccess(ctx, a.ID)
	require.NoError(t, err)
	return a
}

func TestSweepExpiresAndBackfills(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	clk := &clock{now: time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng := engine.New(repo, &seq{}, zap.NewNop(), engine.WithClock(clk.Now), engine.WithMetrics(m))

	first := activeCampaign(t, ctx, eng, 500, 10, 5)
	second := activeCampaign(t, ctx, eng, 501, 10, 5)

	lapsed := approve(t, ctx, eng, 1, first.ID)
	waiting, err := eng.ApplyToCampaign(ctx, 2, first.ID, model.FormatEbook)
	require.NoError(t, err)
	alone := approve(t, ctx, eng, 3, second.ID)

	r := New(eng, repo, zap.NewNop(), m, Options{Workers: 2, Clock: clk.Now})

	clk.Advance(73 * time.Hour)
	rep, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Expired)
	assert.Equal(t, 1, rep.Backfilled)
	assert.Equal(t, 1, rep.Unfilled)
	assert.Equal(t, 0, rep.Failed)
	// заменивший читатель запланирован на текущий момент и сразу получает материалы
	assert.Equal(t, 1, rep.MaterialsReleased)

	got, err := repo.GetAssignment(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReassigned, got.State)

	got, err = repo.GetAssignment(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, got.State)

	got, err = repo.GetAssignment(ctx, alone.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, got.State)

	rep, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Expired)

	n, err := testutil.GatherAndCount(reg, "reviewengine_reaper_assignments_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "expired, backfilled and unfilled series")
}

type stubEngine struct {
	mu       sync.Mutex
	expired  []int64
	advanced []int64
	failing  map[int64]bool
}

func (s *stubEngine) ExpireAssignment(_ context.Context, id int64) (*engine.Expiry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, id)
	if s.failing[id] {
		return nil, apperr.ErrConcurrentModification
	}
	return &engine.Expiry{Assignment: &model.Assignment{ID: id}, Replacement: &model.Assignment{ID: id + 1000}}, nil
}

func (s *stubEngine) AdvanceQueue(_ context.Context, campaignID int64) (engine.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanced = append(s.advanced, campaignID)
	return engine.Dispatch{Scheduled: 1}, nil
}

// stubStore отдаёт due страницами; назначения не меняют состояние, как при постоянных ошибках.
type stubStore struct {
	due       []model.Assignment
	campaigns []model.Campaign
	err       error
	pages     int
}

func (s *stubStore) ListOverdueAssignments(_ context.Context, _ time.Time, after repository.OverdueCursor, limit int) ([]model.Assignment, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.pages++
	var res []model.Assignment
	for i := range s.due {
		if after.Precedes(&s.due[i]) && len(res) < limit {
			res = append(res, s.due[i])
		}
	}
	return res, nil
}

func (s *stubStore) ListCampaigns(_ context.Context, _ model.CampaignStatus) ([]model.Campaign, error) {
	return s.campaigns, nil
}

func TestSweepContinuesPastFailures(t *testing.T) {
	eng := &stubEngine{failing: map[int64]bool{2: true}}
	store := &stubStore{
		due: []model.Assignment{
			{ID: 1, CampaignID: 10},
			{ID: 2, CampaignID: 10},
			{ID: 3, CampaignID: 10},
			{ID: 4, CampaignID: 20},
		},
		campaigns: []model.Campaign{{ID: 10}, {ID: 20}, {ID: 30}},
	}

	r := New(eng, store, zap.NewNop(), nil, Options{Workers: 4})
	rep, err := r.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Expired)
	assert.Equal(t, 3, rep.Backfilled)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 3, rep.Scheduled)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, eng.expired)
	assert.ElementsMatch(t, []int64{10, 20, 30}, eng.advanced)
}

func TestSweepKeepsCampaignOrder(t *testing.T) {
	eng := &stubEngine{}
	store := &stubStore{due: []model.Assignment{
		{ID: 5, CampaignID: 10},
		{ID: 6, CampaignID: 10},
		{ID: 7, CampaignID: 10},
	}}

	r := New(eng, store, zap.NewNop(), nil, Options{Workers: 8})
	_, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 7}, eng.expired)
}

func TestSweepPagesThroughBacklog(t *testing.T) {
	eng := &stubEngine{}
	store := &stubStore{due: []model.Assignment{
		{ID: 1, CampaignID: 1}, {ID: 2, CampaignID: 2}, {ID: 3, CampaignID: 3}, {ID: 4, CampaignID: 1}, {ID: 5, CampaignID: 2},
	}}

	r := New(eng, store, zap.NewNop(), nil, Options{Batch: 2})
	rep, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Expired)
	assert.Equal(t, 3, store.pages)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4, 5}, eng.expired)
}

func TestSweepFailuresDoNotStarveLaterAssignments(t *testing.T) {
	base := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	at := func(h int) *time.Time {
		v := base.Add(time.Duration(h) * time.Hour)
		return &v
	}
	// три самых старых назначения падают в каждом проходе и занимают всю страницу
	eng := &stubEngine{failing: map[int64]bool{1: true, 2: true, 3: true}}
	store := &stubStore{due: []model.Assignment{
		{ID: 1, CampaignID: 1, DeadlineAt: at(0)},
		{ID: 2, CampaignID: 1, DeadlineAt: at(0)},
		{ID: 3, CampaignID: 2, DeadlineAt: at(1)},
		{ID: 4, CampaignID: 2, DeadlineAt: at(2)},
		{ID: 5, CampaignID: 3, DeadlineAt: at(3)},
	}}

	r := New(eng, store, zap.NewNop(), nil, Options{Batch: 3})
	for i := 0; i < 2; i++ {
		rep, err := r.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, rep.Failed)
		assert.Equal(t, 2, rep.Expired)
	}
	assert.Equal(t, 2, countOf(eng.expired, 4))
	assert.Equal(t, 2, countOf(eng.expired, 5))
}

func countOf(ids []int64, id int64) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}

func TestSweepReturnsStoreError(t *testing.T) {
	boom := errors.New("db down")
	r := New(&stubEngine{}, &stubStore{err: boom}, zap.NewNop(), nil, Options{})
	_, err := r.Sweep(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestRunStopsOnCancel(t *testing.T) {
	eng := &stubEngine{}
	store := &stubStore{campaigns: []model.Campaign{{ID: 1}}}
	r := New(eng, store, zap.NewNop(), nil, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.advanced) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestSweepRacesAdmissionsAndWithdrawals(t *testing.T) {
	const (
		campaigns = 6
		lapsed    = 5
		waiting   = 3
	)
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	clk := &clock{now: time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)}
	eng := engine.New(repo, &seq{}, zap.NewNop(), engine.WithClock(clk.Now))

	var (
		ids       []int64
		withdraws []*model.Assignment
	)
	for i := 0; i < campaigns; i++ {
		author := int64(500 + i)
		c, err := eng.CreateCampaign(ctx, author, engine.NewCampaign{
			Title: "Shared readers", TargetReviews: 20, ReviewsPerWeek: 10, Formats: model.FormatsEbook,
		})
		require.NoError(t, err)
		_, err = eng.AdjustOverbooking(ctx, c.ID, true, 20)
		require.NoError(t, err)
		_, err = eng.PurchaseCredits(ctx, author, 20, "checkout")
		require.NoError(t, err)
		_, err = eng.ActivateCampaign(ctx, model.Caller{Role: model.RoleAuthor, ID: author}, c.ID)
		require.NoError(t, err)
		ids = append(ids, c.ID)

		for r := int64(1); r <= lapsed; r++ {
			approve(t, ctx, eng, r, c.ID)
		}
		for r := int64(lapsed + 1); r <= lapsed+waiting; r++ {
			a, err := eng.ApplyToCampaign(ctx, r, c.ID, model.FormatEbook)
			require.NoError(t, err)
			if r == lapsed+waiting {
				withdraws = append(withdraws, a)
			}
		}
	}

	clk.Advance(73 * time.Hour)
	r := New(eng, repo, zap.NewNop(), nil, Options{Workers: 4, Batch: 7})

	var (
		wg  sync.WaitGroup
		rep Report
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		rep, err = r.Sweep(ctx)
		assert.NoError(t, err)
	}()
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(readerID, campaignID int64) {
			defer wg.Done()
			_, err := eng.ApplyToCampaign(ctx, readerID, campaignID, model.FormatEbook)
			switch apperr.CodeOf(err) {
			case "", apperr.CodeCampaignFull, apperr.CodeDuplicateApplication, apperr.CodeConcurrentModification:
			default:
				t.Errorf("apply reader %d campaign %d: %v", readerID, campaignID, err)
			}
		}(int64(9+(i/campaigns)%12), ids[i%campaigns])
	}
	for _, a := range withdraws {
		wg.Add(1)
		go func(a *model.Assignment) {
			defer wg.Done()
			_, err := eng.WithdrawAssignment(ctx, a.ReaderID, a.ID)
			switch apperr.CodeOf(err) {
			case "", apperr.CodeInvalidStateTransition, apperr.CodeConcurrentModification:
			default:
				t.Errorf("withdraw assignment %d: %v", a.ID, err)
			}
		}(a)
	}
	wg.Wait()

	assert.Equal(t, campaigns*lapsed, rep.Expired+rep.Failed)

	// повторный проход добирает назначения, проигравшие конфликт
	_, err := r.Sweep(ctx)
	require.NoError(t, err)
	left, err := repo.ListOverdueAssignments(ctx, clk.Now(), repository.OverdueCursor{}, 0)
	require.NoError(t, err)
	assert.Empty(t, left)

	for _, id := range ids {
		c, err := repo.GetCampaign(ctx, id)
		require.NoError(t, err)
		as, err := repo.ListAssignmentsByCampaign(ctx, id)
		require.NoError(t, err)

		occupying := 0
		for _, a := range as {
			if a.State.Occupying() {
				occupying++
			}
		}
		assert.Equal(t, occupying, c.TotalAssignedReaders, "campaign %d", id)
		assert.LessOrEqual(t, c.TotalAssignedReaders, planner.MaxAssigned(c), "campaign %d", id)
		assert.GreaterOrEqual(t, c.CreditsAvailable(), int64(0), "campaign %d", id)
	}

	owners := make([]int64, 0, 20+campaigns)
	for reader := int64(1); reader <= 20; reader++ {
		owners = append(owners, reader)
	}
	for i := 0; i < campaigns; i++ {
		owners = append(owners, int64(500+i))
	}
	kinds := []model.AccountKind{model.AccountAuthorCredits, model.AccountReaderWallet, model.AccountReaderReserved}
	for _, owner := range owners {
		for _, kind := range kinds {
			acc, err := repo.GetAccountByOwner(ctx, owner, kind)
			if err != nil {
				continue
			}
			txs, err := repo.ListTransactions(ctx, acc.ID)
			require.NoError(t, err)
			assert.NoError(t, ledger.Verify(acc, txs), "owner %d %s", owner, kind)
		}
	}
}
