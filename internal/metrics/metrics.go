// Package metrics exposes Prometheus counters for code issuance, claims and
// consumption.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespaces label which code space an event belongs to.
const (
	NamespaceLogin = "login"
	NamespaceWeb   = "web"
)

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	CodesIssued   *prometheus.CounterVec
	Collisions    *prometheus.CounterVec
	WebClaims     *prometheus.CounterVec
	Consumptions  *prometheus.CounterVec
	StoreFailures *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CodesIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperlogin_codes_issued_total",
				Help: "Codes handed out by namespace and whether an existing code was reused",
			},
			[]string{"namespace", "result"},
		),
		Collisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperlogin_code_collisions_total",
				Help: "Generated codes rejected because the key was already live",
			},
			[]string{"namespace"},
		),
		WebClaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperlogin_web_claims_total",
				Help: "Web code claims by outcome",
			},
			[]string{"result"},
		),
		Consumptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperlogin_web_consumptions_total",
				Help: "Web code consumption attempts by outcome",
			},
			[]string{"result"},
		),
		StoreFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperlogin_store_errors_total",
				Help: "Store failures surfaced to callers by operation",
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(m.CodesIssued, m.Collisions, m.WebClaims, m.Consumptions, m.StoreFailures)
	return m
}

// NewRegistry returns a registry with the Go and process collectors and the
// service counters registered.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, New(reg)
}

func (m *Metrics) Issued(namespace string, reused bool) {
	if m == nil {
		return
	}
	result := "new"
	if reused {
		result = "reused"
	}
	m.CodesIssued.WithLabelValues(namespace, result).Inc()
}

func (m *Metrics) Collision(namespace string) {
	if m == nil {
		return
	}
	m.Collisions.WithLabelValues(namespace).Inc()
}

func (m *Metrics) Claim(result string) {
	if m == nil {
		return
	}
	m.WebClaims.WithLabelValues(result).Inc()
}

func (m *Metrics) Consumption(consumed bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if consumed {
		result = "consumed"
	}
	m.Consumptions.WithLabelValues(result).Inc()
}

func (m *Metrics) StoreFailure(operation string) {
	if m == nil {
		return
	}
	m.StoreFailures.WithLabelValues(operation).Inc()
}
