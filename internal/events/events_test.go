package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/metrics"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

func event(id int64, typ model.EventType, aud model.Audience, recipient int64) model.Event {
	return model.Event{
		ID:          id,
		Type:        typ,
		Audience:    aud,
		CampaignID:  7,
		RecipientID: recipient,
		Payload:     map[string]any{"state": "WAITING"},
		Timestamp:   time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}
}

func TestHubRoutesByAudience(t *testing.T) {
	h := NewHub()
	author := h.Subscribe(model.AudienceAuthor, 5, 4)
	other := h.Subscribe(model.AudienceAuthor, 6, 4)
	admin := h.Subscribe(model.AudienceAdmin, 0, 4)
	defer author.Close()
	defer other.Close()
	defer admin.Close()

	ctx := context.Background()
	require.NoError(t, h.Publish(ctx, event(1, model.EventCampaignUpdated, model.AudienceAuthor, 5)))
	require.NoError(t, h.Publish(ctx, event(2, model.EventCampaignUpdated, model.AudienceAdmin, 0)))
	require.NoError(t, h.Publish(ctx, event(3, model.EventAssignmentUpdated, model.AudienceReader, 5)))

	got := <-author.Events()
	assert.Equal(t, int64(1), got.ID)
	assert.Len(t, author.Events(), 0)
	assert.Len(t, other.Events(), 0)

	got = <-admin.Events()
	assert.Equal(t, int64(2), got.ID)
	assert.Len(t, admin.Events(), 0)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(model.AudienceAdmin, 0, 1)

	ctx := context.Background()
	require.NoError(t, h.Publish(ctx, event(1, model.EventQueueChanged, model.AudienceAdmin, 0)))
	require.NoError(t, h.Publish(ctx, event(2, model.EventQueueChanged, model.AudienceAdmin, 0)))
	assert.Equal(t, int64(1), sub.Dropped())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Subscribers())
	require.NoError(t, h.Publish(ctx, event(3, model.EventQueueChanged, model.AudienceAdmin, 0)))

	_, ok := <-sub.Events()
	assert.True(t, ok, "buffered event is still readable")
	_, ok = <-sub.Events()
	assert.False(t, ok)
}

type failingSink struct{ calls atomic.Int64 }

func (s *failingSink) Name() string { return "broken" }

func (s *failingSink) Publish(context.Context, model.Event) error {
	s.calls.Add(1)
	return errors.New("unreachable")
}

func TestFanoutSurvivesFailingSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := NewHub()
	sub := h.Subscribe(model.AudienceAdmin, 0, 4)
	defer sub.Close()

	broken := &failingSink{}
	f := NewFanout(zap.NewNop(), m, broken, h)
	f.Emit(context.Background(), event(1, model.EventSlotReleaseFailed, model.AudienceAdmin, 0))

	assert.Equal(t, int64(1), broken.calls.Load())
	got := <-sub.Events()
	assert.Equal(t, model.EventSlotReleaseFailed, got.Type)

	n, err := testutil.GatherAndCount(reg, "reviewengine_events_delivery_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCodecs(t *testing.T) {
	ev := event(42, model.EventReviewSubmitted, model.AudienceAuthor, 5)

	c, err := NewCodec("json")
	require.NoError(t, err)
	data, err := c.Marshal(ev)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "review.submitted", decoded["type"])
	assert.Equal(t, "application/json", c.ContentType())

	c, err = NewCodec("cbor")
	require.NoError(t, err)
	data, err = c.Marshal(ev)
	require.NoError(t, err)
	var back model.Event
	require.NoError(t, cbor.Unmarshal(data, &back))
	assert.Equal(t, ev.ID, back.ID)
	assert.Equal(t, ev.Type, back.Type)
	assert.Equal(t, "application/cbor", c.ContentType())

	_, err = NewCodec("xml")
	require.Error(t, err)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("X-Event-Id") != "9" {
			t.Errorf("X-Event-Id = %q", r.Header.Get("X-Event-Id"))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	s := NewWebhookSink(ts.URL, nil, WebhookOptions{RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond})
	require.NoError(t, s.Publish(context.Background(), event(9, model.EventCampaignUpdated, model.AudienceAdmin, 0)))
	assert.Equal(t, int64(3), calls.Load())
}

func TestWebhookGivesUp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	s := NewWebhookSink(ts.URL, nil, WebhookOptions{RetryMax: 1, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond})
	require.Error(t, s.Publish(context.Background(), event(9, model.EventCampaignUpdated, model.AudienceAdmin, 0)))
}

func TestWebhookRejectsClientError(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	s := NewWebhookSink(ts.URL, nil, WebhookOptions{RetryWaitMin: time.Millisecond})
	err := s.Publish(context.Background(), event(9, model.EventCampaignUpdated, model.AudienceAdmin, 0))
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestJetStreamSinkDeduplicates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nc := startNATS(t)
	sink, err := NewJetStreamSink(ctx, nc, JSONCodec{})
	require.NoError(t, err)

	ev := event(77, model.EventAssignmentStatusChanged, model.AudienceAuthor, 5)
	require.NoError(t, sink.Publish(ctx, ev))
	require.NoError(t, sink.Publish(ctx, ev))
	require.NoError(t, sink.Publish(ctx, event(78, model.EventQueueChanged, model.AudienceAdmin, 0)))

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	stream, err := js.Stream(ctx, StreamName)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)

	msg, err := stream.GetLastMsgForSubject(ctx, "bookproof.events.assignment.status_changed")
	require.NoError(t, err)
	var got model.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, int64(77), got.ID)
}

func TestRedisStreamSink(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR is not set")
	}

	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, addr)
	require.NoError(t, err)
	defer rdb.Close()

	stream := "bookproof:test:" + time.Now().Format("150405.000000")
	defer rdb.Del(ctx, stream)

	sink := NewRedisStreamSink(rdb, stream, 10, nil)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, sink.Publish(ctx, event(i, model.EventCampaignUpdated, model.AudienceAdmin, 0)))
	}

	entries, err := rdb.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "1", entries[0].Values["id"])
	assert.Equal(t, "campaign.updated", entries[0].Values["type"])
}
