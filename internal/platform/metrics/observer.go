package metrics

import (
	"net/http"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "consent"

// Observer exports controller lifecycle notifications as prometheus series.
type Observer struct {
	actions  *prometheus.CounterVec
	ignored  prometheus.Counter
	phases   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Completed consent actions by outcome, error kind and resulting state.",
		}, []string{"outcome", "kind", "state"}),
		ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_ignored_total",
			Help:      "Actions dropped because another action was in flight.",
		}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_entries_total",
			Help:      "Controller phase entries.",
		}, []string{"phase"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Wall time of consent actions.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actions_in_flight",
			Help:      "Consent actions currently running.",
		}),
	}
	if reg == nil {
		return o, nil
	}
	for _, c := range []prometheus.Collector{o.actions, o.ignored, o.phases, o.duration, o.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) ActionStarted(string) {
	o.inflight.Inc()
}

func (o *Observer) ActionIgnored(model.Phase) {
	o.ignored.Inc()
}

func (o *Observer) PhaseEntered(_ string, phase model.Phase) {
	o.phases.WithLabelValues(string(phase)).Inc()
}

func (o *Observer) ActionSucceeded(_ string, event model.Event, elapsed time.Duration) {
	o.inflight.Dec()
	o.actions.WithLabelValues("success", "", event.State.String()).Inc()
	o.duration.WithLabelValues("success").Observe(elapsed.Seconds())
}

func (o *Observer) ActionFailed(_ string, _ model.Phase, err error, elapsed time.Duration) {
	o.inflight.Dec()
	o.actions.WithLabelValues("failure", model.Kind(err), "").Inc()
	o.duration.WithLabelValues("failure").Observe(elapsed.Seconds())
}

// Handler serves the gatherer in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
