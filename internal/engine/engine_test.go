package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/events"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/ledger"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/metrics"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
)

const authorID = 500

var admin = model.Caller{Role: model.RoleAdmin, ID: 1}

type seq struct{ n atomic.Int64 }

func (s *seq) NextID() int64 { return s.n.Add(1) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Emit(_ context.Context, ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func (r *recorder) ofType(typ model.EventType, aud model.Audience) []model.Event {
	var res []model.Event
	for _, ev := range r.all() {
		if ev.Type == typ && ev.Audience == aud {
			res = append(res, ev)
		}
	}
	return res
}

type linkStub struct {
	ttl time.Duration
}

func (l *linkStub) SignedURL(_ context.Context, a *model.Assignment, ttl time.Duration) (*model.MaterialLink, error) {
	l.ttl = ttl
	return &model.MaterialLink{URL: "https://cdn.example.com/materials", ExpiresAt: time.Now().Add(ttl)}, nil
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	repo   *repository.MemoryRepository
	eng    *Engine
	clock  *fakeClock
	events *recorder
	links  *linkStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		repo:   repository.NewMemoryRepository(),
		clock:  &fakeClock{now: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)},
		events: &recorder{},
		links:  &linkStub{},
	}
	f.eng = New(f.repo, &seq{}, zap.NewNop(),
		WithClock(f.clock.Now),
		WithEmitter(f.events),
		WithPresigner(f.links),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	return f
}

type campaignSpec struct {
	target, pace int
	formats      model.FormatSet
	overbooking  int
}

// campaign создаёт, оплачивает и активирует кампанию.
func (f *fixture) campaign(s campaignSpec) *model.Campaign {
	f.t.Helper()
	if s.formats == "" {
		s.formats = model.FormatsEbook
	}

	c, err := f.eng.CreateCampaign(f.ctx, authorID, NewCampaign{
		Title:          "The Long Afternoon",
		TargetReviews:  s.target,
		ReviewsPerWeek: s.pace,
		Formats:        s.formats,
	})
	require.NoError(f.t, err)

	if s.overbooking > 0 {
		_, err = f.eng.AdjustOverbooking(f.ctx, c.ID, true, s.overbooking)
		require.NoError(f.t, err)
	}

	_, err = f.eng.PurchaseCredits(f.ctx, authorID, int64(s.target)*s.formats.CostPerReview(), "checkout")
	require.NoError(f.t, err)

	c, err = f.eng.ActivateCampaign(f.ctx, model.Caller{Role: model.RoleAuthor, ID: authorID}, c.ID)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) apply(readerID, campaignID int64) *model.Assignment {
	f.t.Helper()
	a, err := f.eng.ApplyToCampaign(f.ctx, readerID, campaignID, model.FormatEbook)
	require.NoError(f.t, err)
	return a
}

// approved проводит назначение до выдачи материалов.
func (f *fixture) approved(readerID, campaignID int64) *model.Assignment {
	f.t.Helper()
	a := f.apply(readerID, campaignID)
	_, err := f.eng.ScheduleAssignment(f.ctx, a.ID)
	require.NoError(f.t, err)
	a, err = f.eng.ReleaseMaterials(f.ctx, a.ID)
	require.NoError(f.t, err)
	return a
}

func (f *fixture) assignment(id int64) *model.Assignment {
	f.t.Helper()
	a, err := f.repo.GetAssignment(f.ctx, id)
	require.NoError(f.t, err)
	return a
}

func (f *fixture) campaignByID(id int64) *model.Campaign {
	f.t.Helper()
	c, err := f.repo.GetCampaign(f.ctx, id)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) account(ownerID int64, kind model.AccountKind) *model.Account {
	f.t.Helper()
	acc, err := f.repo.GetAccountByOwner(f.ctx, ownerID, kind)
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) transactions(accountID int64) []model.Transaction {
	f.t.Helper()
	txs, err := f.repo.ListTransactions(f.ctx, accountID)
	require.NoError(f.t, err)
	return txs
}

// verifyLedgers проверяет, что журнал каждого известного счёта сходится с балансом.
func (f *fixture) verifyLedgers(owners ...int64) {
	f.t.Helper()
	kinds := []model.AccountKind{model.AccountAuthorCredits, model.AccountReaderWallet, model.AccountReaderReserved}
	for _, owner := range owners {
		for _, kind := range kinds {
			acc, err := f.repo.GetAccountByOwner(f.ctx, owner, kind)
			if err != nil {
				continue
			}
			require.NoError(f.t, ledger.Verify(acc, f.transactions(acc.ID)), "owner %d %s", owner, kind)
		}
	}
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	store := &conflictingStore{MemoryRepository: f.repo, failures: 100}
	eng := New(store, &seq{}, zap.NewNop(), WithClock(f.clock.Now))

	_, err := eng.CreateCampaign(f.ctx, authorID, NewCampaign{Title: "x", TargetReviews: 1, ReviewsPerWeek: 1, Formats: model.FormatsEbook})
	require.ErrorIs(t, err, apperr.ErrConcurrentModification)
	assert.Equal(t, 3, store.calls)
}

func TestRetryRecoversFromConflict(t *testing.T) {
	f := newFixture(t)
	store := &conflictingStore{MemoryRepository: f.repo, failures: 2}
	eng := New(store, &seq{}, zap.NewNop(), WithClock(f.clock.Now))

	c, err := eng.CreateCampaign(f.ctx, authorID, NewCampaign{Title: "x", TargetReviews: 1, ReviewsPerWeek: 1, Formats: model.FormatsEbook})
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)

	stored := f.campaignByID(c.ID)
	assert.Equal(t, model.CampaignDraft, stored.Status)
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	f := newFixture(t)
	store := &conflictingStore{MemoryRepository: f.repo}
	eng := New(store, &seq{}, zap.NewNop(), WithClock(f.clock.Now))

	_, err := eng.ApplyToCampaign(f.ctx, 1, 12345, model.FormatEbook)
	require.ErrorIs(t, err, apperr.ErrCampaignNotFound)
	assert.Equal(t, 1, store.calls)
}

type conflictingStore struct {
	*repository.MemoryRepository
	failures int
	calls    int
}

func (s *conflictingStore) WithinTx(ctx context.Context, fn func(repository.Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return apperr.Wrap(apperr.ErrConcurrentModification, "injected conflict")
	}
	return s.MemoryRepository.WithinTx(ctx, fn)
}

var adminOnlyKeys = []string{"isBufferAssignment", "overbookingEnabled", "overbookingPercent", "totalAssignedReaders"}

// assertNoLeaks проверяет, что события для авторов и читателей не содержат служебных полей.
func assertNoLeaks(t *testing.T, events []model.Event) {
	t.Helper()
	for _, ev := range events {
		if ev.Audience == model.AudienceAdmin {
			continue
		}
		data, err := json.Marshal(ev.Payload)
		require.NoError(t, err)

		var fields map[string]any
		require.NoError(t, json.Unmarshal(data, &fields))
		for _, key := range adminOnlyKeys {
			assert.NotContains(t, fields, key, "%s event for %s leaks %s", ev.Type, ev.Audience, key)
		}
	}
}

// stalledSink не отвечает, пока не закрыт release.
type stalledSink struct {
	release   chan struct{}
	delivered atomic.Int64
}

func (s *stalledSink) Name() string { return "stalled" }

func (s *stalledSink) Publish(ctx context.Context, _ model.Event) error {
	select {
	case <-s.release:
		s.delivered.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestStalledSinkDoesNotDelayOperations(t *testing.T) {
	f := newFixture(t)
	sink := &stalledSink{release: make(chan struct{})}
	q := events.NewQueued(sink, 0, zap.NewNop(), nil)
	f.eng = New(f.repo, &seq{}, zap.NewNop(),
		WithClock(f.clock.Now),
		WithEmitter(events.NewFanout(zap.NewNop(), nil, q)),
	)
	c := f.campaign(campaignSpec{target: 5, pace: 5})

	start := time.Now()
	a, err := f.eng.ApplyToCampaign(f.ctx, 1, c.ID, model.FormatEbook)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, model.StateWaiting, a.State)
	assert.Zero(t, sink.delivered.Load())
	assert.Positive(t, q.Len())

	close(sink.release)
	require.NoError(t, q.Close(context.Background()))
	assert.Positive(t, sink.delivered.Load())
	assert.Zero(t, q.Len())
}
