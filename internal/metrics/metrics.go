// Package metrics содержит Prometheus-метрики движка распределения.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reviewengine"

// Metrics — набор коллекторов движка. Нулевой указатель допустим: методы ничего не делают.
type Metrics struct {
	admissions     *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	retries        *prometheus.CounterVec
	postings       *prometheus.CounterVec
	reaperOutcomes *prometheus.CounterVec
	reaperDuration prometheus.Histogram
	eventFailures  *prometheus.CounterVec
}

// New создаёт коллекторы и регистрирует их в reg (prometheus.DefaultRegisterer, если nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "results_total",
			Help:      "Reader applications by outcome (visible, buffer or rejection reason).",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "transitions_total",
			Help:      "Assignment state transitions by source and target state.",
		}, []string{"from", "to"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "retries_total",
			Help:      "Units of work retried after a concurrent modification, by operation.",
		}, []string{"op"}),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "postings_total",
			Help:      "Committed ledger postings by transaction type.",
		}, []string{"type"}),
		reaperOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "assignments_total",
			Help:      "Overdue assignments handled by the reaper, by outcome.",
		}, []string{"outcome"}),
		reaperDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a full reaper sweep in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "delivery_failures_total",
			Help:      "Failed event deliveries by sink.",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.admissions, m.transitions, m.retries, m.postings,
		m.reaperOutcomes, m.reaperDuration, m.eventFailures,
	)
	return m
}

// Admission учитывает результат заявки.
func (m *Metrics) Admission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

// Transition учитывает переход назначения.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// Retry учитывает повтор единицы работы.
func (m *Metrics) Retry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// Posting учитывает проводку книги кредитов.
func (m *Metrics) Posting(txType string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(txType).Inc()
}

// ReaperOutcome учитывает обработку просроченного назначения.
func (m *Metrics) ReaperOutcome(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.reaperOutcomes.WithLabelValues(outcome).Add(float64(n))
}

// ReaperSweep учитывает длительность прохода.
func (m *Metrics) ReaperSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.reaperDuration.Observe(d.Seconds())
}

// EventFailure учитывает неудачную доставку события.
func (m *Metrics) EventFailure(sink string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(sink).Inc()
}
