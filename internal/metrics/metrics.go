// Package metrics exposes Prometheus collectors for the alert evaluation
// engine and a small Recorder the engine reports through.
//
// Label sets are bounded: outcome is one of the engine's fixed outcomes,
// plan is a plan tier, channel is a registered channel type and status a
// delivery status.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives engine measurements. It is implemented by Prom and by
// Nop.
type Recorder interface {
	Evaluation(outcome, plan string, took time.Duration)
	Duplicate(plan string)
	Delivery(channel, status string)
	Batch(took time.Duration)
}

// Prom records to Prometheus collectors.
type Prom struct {
	evaluations *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	ruleLatency *prometheus.HistogramVec
	batch       prometheus.Histogram
}

// NewProm builds the alerting collectors and registers them with reg. A nil
// reg skips registration.
func NewProm(reg prometheus.Registerer) (*Prom, error) {
	p := &Prom{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_evaluations_total",
			Help: "Alert rule evaluations by outcome and plan tier.",
		}, []string{"outcome", "plan"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_duplicates_total",
			Help: "Notifications suppressed because the matched event set was unchanged.",
		}, []string{"plan"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_deliveries_total",
			Help: "Channel dispatch attempts by channel type and status.",
		}, []string{"channel", "status"}),
		ruleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alert_rule_evaluation_seconds",
			Help:    "Duration of a single rule evaluation.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alert_batch_duration_seconds",
			Help:    "Duration of one evaluation pass.",
			Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{p.evaluations, p.duplicates, p.deliveries, p.ruleLatency, p.batch} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

// MustProm is NewProm that panics on registration errors.
func MustProm(reg prometheus.Registerer) *Prom {
	p, err := NewProm(reg)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Prom) Evaluation(outcome, plan string, took time.Duration) {
	p.evaluations.WithLabelValues(outcome, plan).Inc()
	p.ruleLatency.WithLabelValues(outcome).Observe(took.Seconds())
}

func (p *Prom) Duplicate(plan string) { p.duplicates.WithLabelValues(plan).Inc() }

func (p *Prom) Delivery(channel, status string) {
	p.deliveries.WithLabelValues(channel, status).Inc()
}

func (p *Prom) Batch(took time.Duration) { p.batch.Observe(took.Seconds()) }

// Nop discards everything.
type Nop struct{}

func (Nop) Evaluation(string, string, time.Duration) {}
func (Nop) Duplicate(string)                         {}
func (Nop) Delivery(string, string)                  {}
func (Nop) Batch(time.Duration)                      {}
