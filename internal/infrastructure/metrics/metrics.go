package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the crawler's Prometheus collectors on a private registry
type Registry struct {
	reg            *prometheus.Registry
	FetchAttempts  *prometheus.CounterVec
	CircuitOpen    *prometheus.CounterVec
	ShortCircuited *prometheus.CounterVec
	Records        *prometheus.CounterVec
	Delay          *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_fetch_attempts_total",
		Help: "Network fetch attempts by partition and outcome.",
	}, []string{"partition", "outcome"})
	circuit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_circuit_open_total",
		Help: "Times a partition's circuit opened on a 429.",
	}, []string{"partition"})
	short := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_fetch_short_circuit_total",
		Help: "Fetches rejected by an open circuit without a network call.",
	}, []string{"partition"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_records_total",
		Help: "Records surviving each pipeline stage.",
	}, []string{"partition", "stage"})
	delay := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scraper_partition_delay_seconds",
		Help: "Current adaptive inter-request delay per partition.",
	}, []string{"partition"})

	r.MustRegister(attempts, circuit, short, records, delay)
	return &Registry{
		reg:            r,
		FetchAttempts:  attempts,
		CircuitOpen:    circuit,
		ShortCircuited: short,
		Records:        records,
		Delay:          delay,
	}
}

// ObserveAttempt counts one network call and its outcome label
func (r *Registry) ObserveAttempt(partition, outcome string) {
	r.FetchAttempts.WithLabelValues(partition, outcome).Inc()
}

// ObserveCircuitOpen counts a circuit transition to open
func (r *Registry) ObserveCircuitOpen(partition string) {
	r.CircuitOpen.WithLabelValues(partition).Inc()
}

// ObserveShortCircuit counts a fetch rejected without a network call
func (r *Registry) ObserveShortCircuit(partition string) {
	r.ShortCircuited.WithLabelValues(partition).Inc()
}

// ObserveDelay publishes the partition's current delay
func (r *Registry) ObserveDelay(partition string, seconds float64) {
	r.Delay.WithLabelValues(partition).Set(seconds)
}

// ObserveStage adds the number of records that left a pipeline stage
func (r *Registry) ObserveStage(partition, stage string, count int) {
	r.Records.WithLabelValues(partition, stage).Add(float64(count))
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
