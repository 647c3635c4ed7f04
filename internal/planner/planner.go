// Package planner рассчитывает недельную ёмкость кампании: видимые автору слоты
// темпа и скрытый буфер перебронирования.
package planner

import "github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"

// Capacity — остаток слотов кампании на неделю.
type Capacity struct {
	VisibleSlotsRemaining int
	BufferSlotsRemaining  int
}

// Full сообщает, что свободных слотов не осталось.
func (c Capacity) Full() bool {
	return c.VisibleSlotsRemaining <= 0 && c.BufferSlotsRemaining <= 0
}

// Slot выбирает слот для новой заявки: видимый слот имеет приоритет перед буферным.
func (c Capacity) Slot() (buffer bool, ok bool) {
	if c.VisibleSlotsRemaining > 0 {
		return false, true
	}
	if c.BufferSlotsRemaining > 0 {
		return true, true
	}
	return false, false
}

// Pace возвращает недельный темп: ручную квоту администратора, если автоматический
// расчёт приостановлен, иначе reviewsPerWeek.
func Pace(c *model.Campaign) int {
	if c.ManualDistributionOverride {
		return c.ManualWeeklyQuota
	}
	return c.ReviewsPerWeek
}

// VisibleTarget — видимая автору цель недели: min(темп, осталось доставить).
func VisibleTarget(c *model.Campaign) int {
	return clamp(min(Pace(c), c.TargetReviews-c.ReviewsDelivered))
}

// MaxAssigned — верхняя граница totalAssignedReaders для кампании.
func MaxAssigned(c *model.Campaign) int {
	return MaxAssignedFor(c.TargetReviews, c.OverbookingEnabled, c.OverbookingPercent)
}

// MaxAssignedFor — floor(target × (1 + percent/100)) при включённом перебронировании, иначе target.
func MaxAssignedFor(target int, enabled bool, percent int) int {
	if !enabled {
		return target
	}
	return target * (100 + percent) / 100
}

// Usage — занятость слотов кампании, посчитанная по её назначениям.
type Usage struct {
	Total       int
	Visible     int
	VisibleWeek int
	BufferWeek  int
}

// Count считает назначения, занимающие слоты кампании.
func Count(assignments []model.Assignment, week int) Usage {
	var u Usage
	for i := range assignments {
		a := &assignments[i]
		if !a.State.Occupying() {
			continue
		}
		u.Total++
		if a.IsBufferAssignment {
			if a.ScheduledWeek == week {
				u.BufferWeek++
			}
			continue
		}
		u.Visible++
		if a.ScheduledWeek == week {
			u.VisibleWeek++
		}
	}
	return u
}

// Compute рассчитывает ёмкость кампании на неделю week по текущим назначениям.
func Compute(c *model.Campaign, assignments []model.Assignment, week int) Capacity {
	u := Count(assignments, week)
	target := VisibleTarget(c)
	headroom := clamp(MaxAssigned(c) - u.Total)

	visible := clamp(min(target-u.VisibleWeek, c.TargetReviews-u.Visible, headroom))

	var buffer int
	if c.OverbookingEnabled && c.ReviewsDelivered < c.TargetReviews {
		bufferTarget := ceilPercent(target, c.OverbookingPercent)
		buffer = clamp(min(bufferTarget-u.BufferWeek, headroom-visible))
	}

	return Capacity{VisibleSlotsRemaining: visible, BufferSlotsRemaining: buffer}
}

func ceilPercent(n, percent int) int {
	if n <= 0 || percent <= 0 {
		return 0
	}
	return (n*percent + 99) / 100
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
