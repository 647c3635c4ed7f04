package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

const (
	// StreamName — поток JetStream для событий движка.
	StreamName = "BOOKPROOF_EVENTS"
	// SubjectPrefix — префикс тем событий: bookproof.events.<type>.
	SubjectPrefix = "bookproof.events."
)

// JetStreamSink публикует события в NATS JetStream. ID события передаётся как
// Nats-Msg-Id, повторная публикация в окне дедупликации отбрасывается сервером.
type JetStreamSink struct {
	js    jetstream.JetStream
	codec Codec
}

// Connect подключается к NATS по адресу url.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("reviewengine"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// NewJetStreamSink создаёт (или обновляет) поток событий и возвращает получателя.
func NewJetStreamSink(ctx context.Context, nc *nats.Conn, codec Codec) (*JetStreamSink, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	return &JetStreamSink{js: js, codec: codec}, nil
}

// Subject возвращает тему события.
func Subject(ev model.Event) string {
	return SubjectPrefix + string(ev.Type)
}

// Name реализует Sink.
func (s *JetStreamSink) Name() string { return "jetstream" }

// Publish реализует Sink.
func (s *JetStreamSink) Publish(ctx context.Context, ev model.Event) error {
	data, err := s.codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := s.js.Publish(ctx, Subject(ev), data, jetstream.WithMsgID(strconv.FormatInt(ev.ID, 10))); err != nil {
		return fmt.Errorf("publish %s: %w", Subject(ev), err)
	}
	return nil
}
