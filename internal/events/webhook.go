package events

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// WebhookSink отправляет события во внешний сервис уведомлений HTTP POST-запросом
// с повтором при сетевых ошибках и ответах 5xx и 429.
type WebhookSink struct {
	url    string
	client *retryablehttp.Client
	codec  Codec
}

// WebhookOptions — параметры отправки.
type WebhookOptions struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// NewWebhookSink создаёт получателя для адреса url.
func NewWebhookSink(url string, codec Codec, opts WebhookOptions) *WebhookSink {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 3
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 100 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 2 * time.Second
	}
	if codec == nil {
		codec = JSONCodec{}
	}

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = opts.Timeout
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.Logger = nil

	url = strings.TrimRight(url, "/")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return &WebhookSink{url: url, client: client, codec: codec}
}

// Name реализует Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Publish реализует Sink.
func (s *WebhookSink) Publish(ctx context.Context, ev model.Event) error {
	data, err := s.codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", s.codec.ContentType())
	req.Header.Set("X-Event-Id", strconv.FormatInt(ev.ID, 10))
	req.Header.Set("X-Event-Type", string(ev.Type))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
