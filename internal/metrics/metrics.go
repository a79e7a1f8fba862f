// Package metrics exposes lifecycle activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ldi/tend/internal/lifecycle"
	"github.com/ldi/tend/pkg/models"
)

const namespace = "tend"

var _ lifecycle.Observer = (*Observer)(nil)

// Observer records coordinator events on its own registry.
type Observer struct {
	registry *prometheus.Registry

	completions   *prometheus.CounterVec
	intents       *prometheus.CounterVec
	sweeps        prometheus.Counter
	sweepFailures prometheus.Counter
	sweepTasks    *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	lastSweep     prometheus.Gauge
}

func New() *Observer {
	o := &Observer{
		registry: prometheus.NewRegistry(),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completions recorded, by whether they counted toward a streak and whether they cascaded.",
		}, []string{"counted", "cascaded"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Intents emitted after a commit, by kind.",
		}, []string{"kind"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Daily sweeps run, one per owner.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "task_failures_total",
			Help:      "Tasks a sweep could not evaluate.",
		}),
		sweepTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "tasks_total",
			Help:      "Sweep outcomes per task.",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Wall time of one owner's sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_run_timestamp_seconds",
			Help:      "Sweep instant of the most recent sweep.",
		}),
	}
	o.registry.MustRegister(
		o.completions, o.intents,
		o.sweeps, o.sweepFailures, o.sweepTasks, o.sweepDuration, o.lastSweep,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return o
}

func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{Registry: o.registry})
}

func (o *Observer) CompletionRecorded(c *models.Completion) {
	o.completions.WithLabelValues(strconv.FormatBool(c.CountedTowardStreak), strconv.FormatBool(c.Cascaded)).Inc()
}

func (o *Observer) IntentEmitted(kind models.IntentKind) {
	o.intents.WithLabelValues(string(kind)).Inc()
}

func (o *Observer) SweepFinished(res *lifecycle.SweepResult, elapsed time.Duration) {
	o.sweeps.Inc()
	o.sweepDuration.Observe(elapsed.Seconds())
	o.sweepTasks.WithLabelValues("evaluated").Add(float64(res.Evaluated))
	o.sweepTasks.WithLabelValues("streak_reset").Add(float64(len(res.StreaksReset)))
	o.sweepTasks.WithLabelValues("nudged").Add(float64(len(res.NudgesRaised)))
	o.sweepFailures.Add(float64(len(res.Failed)))
	o.lastSweep.Set(float64(res.At.Unix()))
}
