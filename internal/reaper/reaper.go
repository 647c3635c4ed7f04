// Package reaper содержит фоновую проверку сроков назначений и продвижение очередей кампаний.
package reaper

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/engine"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/metrics"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
)

// Engine описывает операции движка, которые выполняет проверка.
type Engine interface {
	ExpireAssignment(ctx context.Context, assignmentID int64) (*engine.Expiry, error)
	AdvanceQueue(ctx context.Context, campaignID int64) (engine.Dispatch, error)
}

// Store описывает чтение, необходимое для выбора работы.
type Store interface {
	ListOverdueAssignments(ctx context.Context, now time.Time, after repository.OverdueCursor, limit int) ([]model.Assignment, error)
	ListCampaigns(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)
}

// Options — параметры проверки.
type Options struct {
	Interval time.Duration
	Batch    int
	Workers  int
	// Clock подменяет источник времени.
	Clock func() time.Time
}

// Report — итог одного прохода.
type Report struct {
	Expired    int
	Backfilled int
	Released   int
	Unfilled   int
	Skipped    int
	Failed     int

	Scheduled         int
	MaterialsReleased int
}

func (r *Report) add(o Report) {
	r.Expired += o.Expired
	r.Backfilled += o.Backfilled
	r.Released += o.Released
	r.Unfilled += o.Unfilled
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Scheduled += o.Scheduled
	r.MaterialsReleased += o.MaterialsReleased
}

// Reaper периодически истекает просроченные назначения и продвигает очереди.
type Reaper struct {
	engine  Engine
	store   Store
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	opts    Options
}

// New создаёт проверку сроков.
func New(eng Engine, store Store, log *zap.Logger, m *metrics.Metrics, opts Options) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 500
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Reaper{engine: eng, store: store, log: log, metrics: m, now: opts.Clock, opts: opts}
}

// Run выполняет проходы с интервалом Interval до отмены ctx.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep выполняет один проход: просроченные назначения читаются страницами по Batch
// и обрабатываются по кампаниям параллельно, внутри кампании последовательно, затем
// продвигаются очереди активных кампаний. Ошибка отдельного назначения записывается
// в журнал и не прерывает проход; курсор уходит дальше, поэтому повторяющиеся ошибки
// не закрывают остальные назначения.
func (r *Reaper) Sweep(ctx context.Context) (Report, error) {
	start := time.Now()
	defer func() { r.metrics.ReaperSweep(time.Since(start)) }()

	var (
		mu     sync.Mutex
		report Report
		cursor repository.OverdueCursor
	)

	now := r.now().UTC()
	for {
		due, err := r.store.ListOverdueAssignments(ctx, now, cursor, r.opts.Batch)
		if err != nil {
			return report, err
		}
		if len(due) == 0 {
			break
		}

		if err := r.expirePage(ctx, due, &mu, &report); err != nil {
			return report, err
		}
		if len(due) < r.opts.Batch {
			break
		}
		cursor = repository.CursorOf(&due[len(due)-1])
	}

	active, err := r.store.ListCampaigns(ctx, model.CampaignActive)
	if err != nil {
		return report, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, c := range active {
		g.Go(func() error {
			d, err := r.engine.AdvanceQueue(gctx, c.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				r.log.Error("advance queue failed", zap.Int64("campaignID", c.ID), zap.Error(err))
				return gctx.Err()
			}
			report.Scheduled += d.Scheduled
			report.MaterialsReleased += d.Released
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	r.record(report)
	if report.Expired > 0 || report.Failed > 0 {
		r.log.Info("reaper sweep finished",
			zap.Int("expired", report.Expired), zap.Int("backfilled", report.Backfilled),
			zap.Int("unfilled", report.Unfilled), zap.Int("failed", report.Failed),
			zap.Int("scheduled", report.Scheduled), zap.Int("materialsReleased", report.MaterialsReleased))
	}
	return report, nil
}

// expirePage истекает страницу назначений, группируя их по кампаниям.
func (r *Reaper) expirePage(ctx context.Context, due []model.Assignment, mu *sync.Mutex, report *Report) error {
	byCampaign := make(map[int64][]int64)
	var order []int64
	for _, a := range due {
		if _, ok := byCampaign[a.CampaignID]; !ok {
			order = append(order, a.CampaignID)
		}
		byCampaign[a.CampaignID] = append(byCampaign[a.CampaignID], a.ID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, campaignID := range order {
		ids := byCampaign[campaignID]
		g.Go(func() error {
			part := r.expireCampaign(gctx, campaignID, ids)
			mu.Lock()
			report.add(part)
			mu.Unlock()
			return gctx.Err()
		})
	}
	return g.Wait()
}

func (r *Reaper) expireCampaign(ctx context.Context, campaignID int64, ids []int64) Report {
	var part Report
	for _, id := range ids {
		if ctx.Err() != nil {
			return part
		}

		x, err := r.engine.ExpireAssignment(ctx, id)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return part
			}
			part.Failed++
			r.log.Error("expire assignment failed",
				zap.Int64("campaignID", campaignID), zap.Int64("assignmentID", id),
				zap.String("code", string(apperr.CodeOf(err))), zap.Error(err))
			continue
		}
		if x == nil {
			part.Skipped++
			continue
		}

		part.Expired++
		switch {
		case x.Replacement != nil:
			part.Backfilled++
		case x.Released:
			part.Released++
		default:
			part.Unfilled++
			r.log.Warn("expired slot left unfilled",
				zap.Int64("campaignID", campaignID), zap.Int64("assignmentID", id), zap.Error(x.Err()))
		}
	}
	return part
}

func (r *Reaper) record(rep Report) {
	r.metrics.ReaperOutcome("expired", rep.Expired)
	r.metrics.ReaperOutcome("backfilled", rep.Backfilled)
	r.metrics.ReaperOutcome("released", rep.Released)
	r.metrics.ReaperOutcome("unfilled", rep.Unfilled)
	r.metrics.ReaperOutcome("skipped", rep.Skipped)
	r.metrics.ReaperOutcome("failed", rep.Failed)
}
