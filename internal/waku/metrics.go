package waku

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports transport health. A nil *Metrics records nothing.
type Metrics struct {
	dials        *prometheus.CounterVec
	storeQueries *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	peers        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consent",
			Subsystem: "waku",
			Name:      "bootstrap_dials_total",
			Help:      "Bootstrap peer redials by result.",
		}, []string{"result"}),
		storeQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consent",
			Subsystem: "waku",
			Name:      "store_queries_total",
			Help:      "Store history queries by result; failover counts queries answered by a fallback peer.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consent",
			Subsystem: "waku",
			Name:      "state_transitions_total",
			Help:      "Node state changes by target state.",
		}, []string{"state"}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consent",
			Subsystem: "waku",
			Name:      "peers",
			Help:      "Connected peers of the most recently polled node.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.dials, m.storeQueries, m.transitions, m.peers} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) dialed(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.dials.WithLabelValues(result).Inc()
}

func (m *Metrics) storeQuery(result string) {
	if m == nil {
		return
	}
	m.storeQueries.WithLabelValues(result).Inc()
}

func (m *Metrics) transitioned(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) observePeers(n int) {
	if m == nil {
		return
	}
	m.peers.Set(float64(n))
}
