// Copyright 2025 Certen Protocol
//
// Package telemetry is the validator's Prometheus sink. Grounded on
// kopexa-grc-common/khttp/metric/prometheus.go's Registry wrapper and
// namespaced CounterVec/HistogramVec construction; unlike that file's
// HTTP middleware (out of scope — this core never serves HTTP, per
// spec.md §1), the only instrumentation point is §4.7's single
// Observe call at the end of a validation.
//
// Per §6's privacy rule, labels are limited to reason code, policy id,
// policy version, and origin — never credential ids, subject ids,
// claims, nonces, or device tags.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/credential-core/pkg/certenerr"
)

const (
	namespace = "certen"
	subsystem = "validator"
)

// Registry wraps a prometheus.Registry with the validator's metrics
// pre-registered and an HTTP handler for scraping.
type Registry struct {
	*prometheus.Registry

	validations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewRegistry constructs a Registry with the validator's metrics
// registered against a fresh prometheus.Registry.
func NewRegistry() *Registry {
	r := &Registry{Registry: prometheus.NewRegistry()}

	r.validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "validations_total",
		Help:      "Total proof-envelope validations by outcome reason code.",
	}, []string{"reason", "policy_id", "policy_version", "origin"})

	r.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "validation_duration_seconds",
		Help:      "Validation wall-clock duration by outcome reason code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"reason"})

	r.MustRegister(r.validations, r.duration)
	return r
}

// Handler returns an HTTP handler for the "/metrics" scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r, promhttp.HandlerOpts{})
}

// Sink adapts a Registry to pkg/validator.Telemetry.
type Sink struct {
	registry *Registry
}

// NewSink constructs a Sink reporting into registry.
func NewSink(registry *Registry) *Sink {
	return &Sink{registry: registry}
}

// Observe implements pkg/validator.Telemetry.
func (s *Sink) Observe(reason certenerr.Reason, policyID, policyVersion, origin string, duration time.Duration) {
	s.registry.validations.WithLabelValues(string(reason), policyID, policyVersion, origin).Inc()
	s.registry.duration.WithLabelValues(string(reason)).Observe(duration.Seconds())
}
