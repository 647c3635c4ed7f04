package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// Hub раздаёт события подписчикам внутри процесса (SSE). Подписчик получает события
// своей аудитории; авторы и читатели видят только адресованные им события.
// Медленный подписчик теряет события, а не задерживает движок.
type Hub struct {
	next atomic.Int64
	subs *xsync.Map[int64, *Subscription]
}

// NewHub создаёт пустой hub.
func NewHub() *Hub {
	return &Hub{subs: xsync.NewMap[int64, *Subscription]()}
}

// Subscription — подписка на события.
type Subscription struct {
	id          int64
	audience    model.Audience
	recipientID int64
	ch          chan model.Event
	dropped     atomic.Int64

	hub    *Hub
	mu     sync.RWMutex
	closed bool
}

// Subscribe регистрирует подписчика аудитории audience. Для авторов и читателей
// recipientID — идентификатор получателя.
func (h *Hub) Subscribe(audience model.Audience, recipientID int64, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Subscription{
		id:          h.next.Add(1),
		audience:    audience,
		recipientID: recipientID,
		ch:          make(chan model.Event, buffer),
		hub:         h,
	}
	h.subs.Store(s.id, s)
	return s
}

// Events возвращает канал событий подписки. Канал закрывается при Close.
func (s *Subscription) Events() <-chan model.Event {
	return s.ch
}

// Dropped возвращает число событий, потерянных из-за переполнения буфера.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close отменяет подписку.
func (s *Subscription) Close() {
	s.hub.subs.Delete(s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) wants(ev model.Event) bool {
	if ev.Audience != s.audience {
		return false
	}
	return s.audience == model.AudienceAdmin || ev.RecipientID == s.recipientID
}

// Subscribers возвращает число активных подписчиков.
func (h *Hub) Subscribers() int {
	return h.subs.Size()
}

// Name реализует Sink.
func (h *Hub) Name() string { return "hub" }

// Publish реализует Sink.
func (h *Hub) Publish(_ context.Context, ev model.Event) error {
	h.subs.Range(func(_ int64, s *Subscription) bool {
		if !s.wants(ev) {
			return true
		}
		s.deliver(ev)
		return true
	})
	return nil
}

func (s *Subscription) deliver(ev model.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}
