package deferred

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vitwit/x402-deferred/logger"
	"github.com/vitwit/x402-deferred/metrics"
)

type Option func(*Facilitator)

func WithLogger(l logger.Logger) Option {
	return func(x *Facilitator) {
		x.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *Facilitator) {
		x.metrics = metrics.OrNoop(r)
	}
}

// WithTimeout bounds each verification, including its ledger reads.
func WithTimeout(t time.Duration) Option {
	return func(x *Facilitator) {
		x.timeout = t
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(x *Facilitator) {
		x.tracer = t
	}
}
