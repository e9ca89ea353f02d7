// Package metrics exports auth activity and HTTP traffic as Prometheus
// collectors.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-uas"
)

type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
}

// Sink is a uas.ActivitySink that counts events.
type Sink struct {
	Events        *prometheus.CounterVec
	LoginFailures *prometheus.CounterVec
}

var _ uas.ActivitySink = (*Sink)(nil)

func NewSink(opts Options) (*Sink, error) {
	namespace, reg := defaults(opts)
	subsystem := opts.Subsystem
	if subsystem == "" {
		subsystem = "auth"
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "events_total",
		Help:      "Auth activity events partitioned by event type.",
	}, []string{"event"}))
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "login_failures_total",
		Help:      "Failed logins partitioned by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}

	return &Sink{Events: events, LoginFailures: failures}, nil
}

func (s *Sink) Record(_ context.Context, event uas.ActivityEvent) error {
	if s == nil {
		return nil
	}

	s.Events.WithLabelValues(string(event.EventType)).Inc()

	if event.EventType == uas.ActivityEventLoginFailure {
		reason, _ := event.Metadata["reason"].(string)
		if reason == "" {
			reason = "unknown"
		}
		s.LoginFailures.WithLabelValues(reason).Inc()
	}
	return nil
}

func defaults(opts Options) (string, prometheus.Registerer) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "uas"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return namespace, reg
}

// registerCounterVec registers c or returns the collector already
// registered under the same name.
func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}
