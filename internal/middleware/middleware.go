// Package middleware implements the Scheduler's logging and budget
// wrappers (spec §4.10): "A middleware is (ctx, next) → Promise ...
// Logging wraps each handler with start/complete/failed events; budget
// wraps with a wall-clock deadline that converts overruns into
// performance warnings (not failures). Middleware order: budget outer,
// logging inner." Grounded on the teacher's client-decorator shape
// (features/model/middleware.AdaptiveRateLimiter.Middleware, a
// func(next T) T wrapping a single collaborator interface) generalized
// to a plain handler function, since the thing being wrapped here is one
// turn-scoped operation rather than a client interface with multiple
// methods.
package middleware

import (
	"context"
	"time"

	"github.com/machellerogden/thinksuit/internal/telemetry"
)

// Handler is the single operation a middleware wraps: one named,
// turn-scoped step that either succeeds or fails. The scheduler closes
// over its own mutable result variable to get it out of the closure,
// mirroring how the teacher's decorators close over the wrapped
// client rather than threading a generic result value through.
type Handler func(ctx context.Context) error

// Middleware decorates a Handler with cross-cutting behavior.
type Middleware func(next Handler) Handler

// Chain composes middlewares so the first one passed to Chain ends up
// outermost: callers pass Budget before Logging to get spec §4.10's
// "budget outer, logging inner" order.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Apply is a convenience for Chain(mws...)(next)(ctx): build the
// decorated handler and invoke it in one call.
func Apply(ctx context.Context, next Handler, mws ...Middleware) error {
	return Chain(mws...)(next)(ctx)
}

// Logging wraps next with start/complete/failed log events under name
// (spec §4.10). A nil logger degrades to calling next directly.
func Logging(log telemetry.Logger, name string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context) error {
			if log == nil {
				return next(ctx)
			}
			log.Info(ctx, name+".start")
			start := time.Now()
			err := next(ctx)
			d := time.Since(start)
			if err != nil {
				log.Error(ctx, name+".failed", "durationMs", d.Milliseconds(), "error", err.Error())
				return err
			}
			log.Info(ctx, name+".complete", "durationMs", d.Milliseconds())
			return nil
		}
	}
}

// WarnFunc reports that a handler's wall-clock elapsed time exceeded its
// budget. It is called after next has already returned: Budget never
// cancels or truncates the call it wraps.
type WarnFunc func(ctx context.Context, name string, elapsed, budget time.Duration)

// LogWarn adapts a telemetry.Logger into a WarnFunc, the usual wiring for
// Budget (spec §4.10 "converts overruns into performance warnings (not
// failures)": a log line, not a returned error).
func LogWarn(log telemetry.Logger) WarnFunc {
	return func(ctx context.Context, name string, elapsed, budget time.Duration) {
		if log == nil {
			return
		}
		log.Warn(ctx, name+".budget_exceeded",
			"elapsedMs", elapsed.Milliseconds(),
			"budgetMs", budget.Milliseconds(),
		)
	}
}

// Budget wraps next with a wall-clock deadline of d. Unlike a
// context.WithTimeout, exceeding the deadline never cancels or fails
// next: cancellation is the abort signal's job (spec §5). Budget only
// observes elapsed time after the fact and reports an overrun via warn.
// d <= 0 disables the check.
func Budget(d time.Duration, name string, warn WarnFunc) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context) error {
			start := time.Now()
			err := next(ctx)
			if d > 0 {
				if elapsed := time.Since(start); elapsed > d && warn != nil {
					warn(ctx, name, elapsed, d)
				}
			}
			return err
		}
	}
}
