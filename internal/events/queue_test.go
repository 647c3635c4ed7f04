package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/metrics"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// gatedSink ждёт release перед каждой доставкой и запоминает порядок событий.
type gatedSink struct {
	release chan struct{}

	mu  sync.Mutex
	ids []int64
}

func newGatedSink() *gatedSink {
	return &gatedSink{release: make(chan struct{})}
}

func (s *gatedSink) Name() string { return "gated" }

func (s *gatedSink) Publish(ctx context.Context, ev model.Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, ev.ID)
	return nil
}

func (s *gatedSink) delivered() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ids...)
}

func TestQueuedPublishDoesNotWait(t *testing.T) {
	sink := newGatedSink()
	q := NewQueued(sink, 8, zap.NewNop(), nil)

	start := time.Now()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, q.Publish(context.Background(), event(i, model.EventCampaignUpdated, model.AudienceAdmin, 0)))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Empty(t, sink.delivered())

	close(sink.release)
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, sink.delivered())
}

func TestQueuedFullAndClosed(t *testing.T) {
	sink := newGatedSink()
	q := NewQueued(sink, 1, zap.NewNop(), nil)
	ctx := context.Background()

	// первое событие забирает горутина доставки, второе ждёт в буфере
	require.NoError(t, q.Publish(ctx, event(1, model.EventQueueChanged, model.AudienceAdmin, 0)))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Publish(ctx, event(2, model.EventQueueChanged, model.AudienceAdmin, 0)))
	assert.ErrorIs(t, q.Publish(ctx, event(3, model.EventQueueChanged, model.AudienceAdmin, 0)), ErrQueueFull)

	close(sink.release)
	require.NoError(t, q.Close(ctx))
	assert.ErrorIs(t, q.Publish(ctx, event(4, model.EventQueueChanged, model.AudienceAdmin, 0)), ErrQueueClosed)
	assert.Equal(t, []int64{1, 2}, sink.delivered())
}

func TestQueuedCloseGivesUpAfterDeadline(t *testing.T) {
	sink := newGatedSink()
	q := NewQueued(sink, 4, zap.NewNop(), nil)
	require.NoError(t, q.Publish(context.Background(), event(1, model.EventQueueChanged, model.AudienceAdmin, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
	assert.Empty(t, sink.delivered())
}

func TestFanoutIgnoresCallerCancellation(t *testing.T) {
	sink := newGatedSink()
	close(sink.release)
	f := NewFanout(zap.NewNop(), nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Emit(ctx, event(1, model.EventCampaignUpdated, model.AudienceAdmin, 0))
	f.Emit(ctx, event(2, model.EventCampaignUpdated, model.AudienceAdmin, 0))

	assert.Equal(t, []int64{1, 2}, sink.delivered())
}

func TestQueuedWebhookKeepsEmitFast(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	codec, err := NewCodec("json")
	require.NoError(t, err)
	hook := NewWebhookSink(srv.URL, codec, WebhookOptions{RetryMax: 1, RetryWaitMin: 50 * time.Millisecond, RetryWaitMax: 50 * time.Millisecond})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := NewQueued(hook, 16, zap.NewNop(), m)
	f := NewFanout(zap.NewNop(), m, q)

	start := time.Now()
	for i := int64(1); i <= 5; i++ {
		f.Emit(context.Background(), event(i, model.EventAssignmentUpdated, model.AudienceAdmin, 0))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, int64(10), hits.Load())
	expected := `
# HELP reviewengine_events_delivery_failures_total Failed event deliveries by sink.
# TYPE reviewengine_events_delivery_failures_total counter
reviewengine_events_delivery_failures_total{sink="webhook"} 5
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "reviewengine_events_delivery_failures_total"))
}
