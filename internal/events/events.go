// Package events доставляет события движка подписчикам: в процессе (SSE), в NATS JetStream,
// в поток Redis и во внешний сервис уведомлений. Доставка «хотя бы один раз»,
// потребители дедуплицируют по ID события.
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/metrics"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// Sink — получатель событий.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev model.Event) error
}

// Fanout рассылает событие во все получатели. Ошибка получателя записывается в журнал
// и в метрики и не возвращается вызывающему.
// Получатели вызываются синхронно: внешние подключаются через Queued.
type Fanout struct {
	sinks   []Sink
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewFanout создаёт рассылку по sinks.
func NewFanout(log *zap.Logger, m *metrics.Metrics, sinks ...Sink) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{sinks: sinks, log: log, metrics: m}
}

// Add добавляет получателя.
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Emit реализует engine.Emitter. Отмена ctx вызывающего не прерывает рассылку:
// событие уже зафиксировано и должно дойти до всех получателей.
func (f *Fanout) Emit(ctx context.Context, ev model.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range f.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			f.metrics.EventFailure(s.Name())
			f.log.Warn("event delivery failed",
				zap.String("sink", s.Name()), zap.String("type", string(ev.Type)),
				zap.Int64("eventID", ev.ID), zap.Error(err))
		}
	}
}
