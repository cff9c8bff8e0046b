package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultAccepted      = "accepted"
	ResultRejected      = "rejected"
	ResultLimited       = "limited"
	ResultUnconstrained = "unconstrained"
	ResultError         = "error"
)

// Recorder receives engine observations. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveValidation(result, rule string)
	ObserveQuery(result string, took time.Duration)
	ObserveMutation(op, result string)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveValidation(string, string)   {}
func (Nop) ObserveQuery(string, time.Duration) {}
func (Nop) ObserveMutation(string, string)     {}

// Prom records engine activity as Prometheus metrics.
type Prom struct {
	validations *prometheus.CounterVec
	queries     *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	mutations   *prometheus.CounterVec
}

// NewProm registers the engine metrics on reg. A nil registerer defaults to
// the global Prometheus registerer.
func NewProm(namespace string, reg prometheus.Registerer) (*Prom, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_validations_total",
			Help:      "Charging profile validations by result and violated rule",
		}, []string{"result", "rule"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_queries_total",
			Help:      "Effective limit queries by result",
		}, []string{"result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "limit_resolution_seconds",
			Help:      "Time to load a profile snapshot and resolve the effective limit",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"result"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_mutations_total",
			Help:      "Profile store mutations by operation and result",
		}, []string{"op", "result"}),
	}
	for _, c := range []prometheus.Collector{p.validations, p.queries, p.latency, p.mutations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prom) ObserveValidation(result, rule string) {
	p.validations.WithLabelValues(result, rule).Inc()
}

func (p *Prom) ObserveQuery(result string, took time.Duration) {
	p.queries.WithLabelValues(result).Inc()
	p.latency.WithLabelValues(result).Observe(took.Seconds())
}

func (p *Prom) ObserveMutation(op, result string) {
	p.mutations.WithLabelValues(op, result).Inc()
}

// Handler serves the metrics gathered by g, or the default gatherer when g
// is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
