package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bobo-rpc/message"
)

// Call outcomes recorded by Metrics.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty" // Completed without a payload, e.g. a script timeout
	OutcomeError   = "error"
)

// Metrics counts calls and observes their latency.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg (nil skips registration).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bobo",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Completed calls by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bobo",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Time from send to completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.calls, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Middleware records one sample per completed call.
func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call, done message.Done) {
			start := time.Now()
			next(ctx, call, func(result json.RawMessage, err error) {
				outcome := OutcomeSuccess
				switch {
				case err != nil:
					outcome = OutcomeError
				case result == nil:
					outcome = OutcomeEmpty
				}
				m.calls.WithLabelValues(call.Method, outcome).Inc()
				m.duration.WithLabelValues(call.Method).Observe(time.Since(start).Seconds())
				done(result, err)
			})
		}
	}
}
