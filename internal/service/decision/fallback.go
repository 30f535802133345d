package decision

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/clinicore/clinical-governance-backend/internal/metrics"
)

// DefaultAITimeout bounds how long the primary model path may run before
// the deterministic fallback takes over.
const DefaultAITimeout = 10 * time.Second

// Processor runs a primary model path with a deterministic fallback. The
// fallback must be total: it takes no context and cannot fail, so a
// Processor result always carries a usable value.
type Processor struct {
	logger  *zap.Logger
	metrics *metrics.Registry
	timeout time.Duration
}

// NewProcessor builds a processor with the given primary-path timeout.
func NewProcessor(logger *zap.Logger, registry *metrics.Registry, timeout time.Duration) *Processor {
	if timeout <= 0 {
		timeout = DefaultAITimeout
	}
	return &Processor{
		logger:  logger,
		metrics: registry,
		timeout: timeout,
	}
}

// Result is one processed value and how it was produced.
type Result[T any] struct {
	Value  T
	Method Method
}

// Process runs the primary path under the processor's timeout and falls
// back to the deterministic path on error, timeout or failed validation.
// The fallback never sees the primary's error; it computes from scratch.
func Process[T any](ctx context.Context, p *Processor, stage string,
	primary func(context.Context) (T, error),
	fallback func() T,
	validate func(T) bool,
) Result[T] {
	primaryCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := primary(primaryCtx)
		done <- outcome{value: value, err: err}
	}()

	var reason string
	select {
	case <-primaryCtx.Done():
		reason = primaryCtx.Err().Error()
	case out := <-done:
		if out.err != nil {
			reason = out.err.Error()
		} else if validate != nil && !validate(out.value) {
			reason = "primary output failed validation"
		} else {
			return Result[T]{Value: out.value, Method: MethodAI}
		}
	}

	p.logger.Warn("primary path unavailable, using deterministic fallback",
		zap.String("stage", stage),
		zap.String("reason", reason))
	p.metrics.FallbackInvocations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)))

	return Result[T]{Value: fallback(), Method: MethodFallback}
}

// combineMethods folds per-stage methods into the result-level tag: all
// model output stays ai, all deterministic stays fallback, any mix is
// hybrid.
func combineMethods(methods ...Method) Method {
	sawAI, sawFallback := false, false
	for _, m := range methods {
		switch m {
		case MethodAI:
			sawAI = true
		case MethodFallback:
			sawFallback = true
		case MethodHybrid:
			return MethodHybrid
		}
	}
	switch {
	case sawAI && sawFallback:
		return MethodHybrid
	case sawFallback:
		return MethodFallback
	default:
		return MethodAI
	}
}
