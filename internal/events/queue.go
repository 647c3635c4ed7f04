package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/metrics"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// DefaultQueueSize — ёмкость очереди получателя по умолчанию.
const DefaultQueueSize = 1024

var (
	// ErrQueueFull возвращается, если очередь получателя переполнена.
	ErrQueueFull = errors.New("event queue is full")
	// ErrQueueClosed возвращается после Close.
	ErrQueueClosed = errors.New("event queue is closed")
)

// Queued доставляет события во внешний получатель из отдельной горутины.
// Publish только ставит событие в очередь, поэтому медленный получатель не задерживает
// единицу работы. Доставка идёт в порядке постановки с контекстом, не связанным с запросом.
type Queued struct {
	sink    Sink
	log     *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	ch     chan model.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueued запускает доставку в sink через очередь ёмкостью size.
func NewQueued(sink Sink, size int, log *zap.Logger, m *metrics.Metrics) *Queued {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queued{
		sink:    sink,
		log:     log,
		metrics: m,
		ch:      make(chan model.Event, size),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Name возвращает имя исходного получателя.
func (q *Queued) Name() string {
	return q.sink.Name()
}

// Publish ставит событие в очередь без ожидания.
func (q *Queued) Publish(_ context.Context, ev model.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len возвращает число событий, ожидающих доставки.
func (q *Queued) Len() int {
	return len(q.ch)
}

func (q *Queued) run() {
	defer close(q.done)
	for ev := range q.ch {
		if err := q.sink.Publish(q.ctx, ev); err != nil {
			q.metrics.EventFailure(q.sink.Name())
			q.log.Warn("queued event delivery failed",
				zap.String("sink", q.sink.Name()), zap.String("type", string(ev.Type)),
				zap.Int64("eventID", ev.ID), zap.Error(err))
		}
	}
}

// Close перестаёт принимать события и ждёт доставки уже поставленных.
// Если ctx истекает раньше, текущие попытки прерываются, а остаток очереди
// отбрасывается с записью в журнал.
func (q *Queued) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		pending := len(q.ch)
		q.cancel()
		<-q.done
		q.log.Warn("event queue closed before drain",
			zap.String("sink", q.sink.Name()), zap.Int("pending", pending))
		return ctx.Err()
	}
}
