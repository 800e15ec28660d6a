package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "signup"

// Metrics holds the domain collectors for admission checks and registration outcomes.
type Metrics struct {
	RateLimitDecisions   *prometheus.CounterVec
	CounterFallbacks     *prometheus.CounterVec
	RegistrationOutcomes *prometheus.CounterVec
	BackgroundFailures   *prometheus.CounterVec
	EventDeliveryErrors  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg, reusing collectors that are
// already registered under the same name.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	m := &Metrics{}

	if m.RateLimitDecisions, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Admission decisions partitioned by namespace and outcome.",
	}, "namespace", "outcome"); err != nil {
		return nil, err
	}

	if m.CounterFallbacks, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "counter_fallbacks_total",
		Help:      "Shared counter failures partitioned by namespace, reason and policy action.",
	}, "namespace", "reason", "action"); err != nil {
		return nil, err
	}

	if m.RegistrationOutcomes, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registration",
		Name:      "outcomes_total",
		Help:      "Registration operations partitioned by operation and outcome.",
	}, "operation", "outcome"); err != nil {
		return nil, err
	}

	if m.BackgroundFailures, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registration",
		Name:      "background_failures_total",
		Help:      "Best-effort side effects that failed after promotion.",
	}, "task"); err != nil {
		return nil, err
	}

	if m.EventDeliveryErrors, err = registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "delivery_errors_total",
		Help:      "Asynchronous event delivery failures partitioned by topic.",
	}, "topic"); err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveDecision counts one admission decision.
func (m *Metrics) ObserveDecision(namespace string, allowed, degraded bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	if degraded {
		outcome += "_degraded"
	}
	m.RateLimitDecisions.WithLabelValues(namespace, outcome).Inc()
}

// ObserveFallback counts one shared counter failure and how the policy handled it.
func (m *Metrics) ObserveFallback(namespace, reason, action string) {
	if m == nil {
		return
	}
	m.CounterFallbacks.WithLabelValues(namespace, reason, action).Inc()
}

// ObserveOutcome counts one registration operation result.
func (m *Metrics) ObserveOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.RegistrationOutcomes.WithLabelValues(operation, outcome).Inc()
}

// ObserveBackgroundFailure counts one failed side effect.
func (m *Metrics) ObserveBackgroundFailure(task string) {
	if m == nil {
		return
	}
	m.BackgroundFailures.WithLabelValues(task).Inc()
}

// ObserveEventDeliveryError counts one failed Kafka delivery.
func (m *Metrics) ObserveEventDeliveryError(topic string) {
	if m == nil {
		return
	}
	m.EventDeliveryErrors.WithLabelValues(topic).Inc()
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
	}
	return vec, nil
}
