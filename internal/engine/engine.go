// Package engine реализует движок распределения рецензий: приём заявок, жизненный
// цикл назначений, операции над кампаниями и проводки книги кредитов.
//
// Каждая операция выполняется как единица работы хранилища: сначала блокируется
// кампания, затем назначение, затем счета. Конфликт параллельного изменения
// повторяется не более MaxAttempts раз, события публикуются только после фиксации.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/ledger"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/metrics"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
)

// Store описывает хранилище, используемое движком.
type Store interface {
	repository.Reader
	WithinTx(ctx context.Context, fn func(repository.Tx) error) error
}

// Emitter публикует события после фиксации единицы работы.
type Emitter interface {
	Emit(ctx context.Context, ev model.Event)
}

// Presigner выдаёт ограниченные по времени ссылки на материалы назначения.
type Presigner interface {
	SignedURL(ctx context.Context, a *model.Assignment, ttl time.Duration) (*model.MaterialLink, error)
}

// IDGenerator выдаёт уникальные идентификаторы.
type IDGenerator interface {
	NextID() int64
}

const (
	// EbookAccessWindow — срок на скачивание электронной книги после выдачи материалов.
	EbookAccessWindow = 72 * time.Hour
	// AudiobookAccessWindow — срок доступа к аудиокниге после выдачи материалов.
	AudiobookAccessWindow = 7 * 24 * time.Hour
)

// AccessWindow возвращает срок доступа к материалам для формата.
func AccessWindow(f model.Format) time.Duration {
	if f == model.FormatAudiobook {
		return AudiobookAccessWindow
	}
	return EbookAccessWindow
}

// Options — параметры движка.
type Options struct {
	// PayoutPerCredit — выплата читателю за один кредит в минимальных единицах кошелька.
	PayoutPerCredit int64
	// ReviewWindow — срок на рецензию после первого доступа к материалам.
	ReviewWindow time.Duration
	// AccessTTL — верхняя граница срока жизни ссылки на материалы.
	AccessTTL time.Duration
	// MaxAttempts — число попыток единицы работы при конфликте.
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		PayoutPerCredit: 100,
		ReviewWindow:    14 * 24 * time.Hour,
		AccessTTL:       15 * time.Minute,
		MaxAttempts:     3,
		RetryDelay:      5 * time.Millisecond,
	}
}

// Engine — движок распределения рецензий.
type Engine struct {
	store   Store
	book    *ledger.Book
	ids     IDGenerator
	events  Emitter
	links   Presigner
	metrics *metrics.Metrics
	log     *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	opts    Options
}

// Option настраивает движок.
type Option func(*Engine)

// WithEmitter задаёт получателя событий.
func WithEmitter(em Emitter) Option {
	return func(e *Engine) { e.events = em }
}

// WithPresigner задаёт хранилище материалов.
func WithPresigner(p Presigner) Option {
	return func(e *Engine) { e.links = p }
}

// WithMetrics задаёт коллекторы метрик.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOptions задаёт параметры движка.
func WithOptions(o Options) Option {
	return func(e *Engine) { e.opts = o }
}

// New создаёт движок поверх хранилища store.
func New(store Store, ids IDGenerator, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		ids:    ids,
		log:    log,
		tracer: otel.Tracer("github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/engine"),
		now:    time.Now,
		opts:   DefaultOptions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.opts.MaxAttempts < 1 {
		e.opts.MaxAttempts = 1
	}
	if e.opts.RetryDelay <= 0 {
		e.opts.RetryDelay = time.Millisecond
	}
	if e.opts.AccessTTL < MinLinkTTL {
		e.opts.AccessTTL = MinLinkTTL
	}
	e.book = ledger.NewBook(ids, e.clock)
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

type work func(ctx context.Context, tx repository.Tx, u *unit) error

// do выполняет fn как единицу работы с ограниченным повтором при конфликте
// и публикует накопленные события после фиксации.
func (e *Engine) do(ctx context.Context, op string, fn work) error {
	ctx, span := e.tracer.Start(ctx, "engine."+op)
	defer span.End()

	var (
		u        *unit
		attempts int
	)
	backoff := retry.WithMaxRetries(uint64(e.opts.MaxAttempts-1), retry.NewConstant(e.opts.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			e.metrics.Retry(op)
		}
		u = newUnit()
		err := e.store.WithinTx(ctx, func(tx repository.Tx) error {
			return fn(ctx, tx, u)
		})
		if errors.Is(err, apperr.ErrConcurrentModification) {
			return retry.RetryableError(err)
		}
		return err
	})

	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
		if errors.Is(err, apperr.ErrConcurrentModification) {
			e.log.Warn("unit of work gave up after conflicts", zap.String("op", op), zap.Int("attempts", attempts))
		}
		return err
	}

	e.flush(ctx, u)
	return nil
}

// lockPair блокирует кампанию назначения, затем само назначение.
func (e *Engine) lockPair(ctx context.Context, tx repository.Tx, assignmentID int64) (*model.Campaign, *model.Assignment, error) {
	ref, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	c, err := tx.LockCampaign(ctx, ref.CampaignID)
	if err != nil {
		return nil, nil, err
	}
	a, err := tx.LockAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	return c, a, nil
}

func cloneAssignment(a *model.Assignment) *model.Assignment {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func cloneCampaign(c *model.Campaign) *model.Campaign {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
