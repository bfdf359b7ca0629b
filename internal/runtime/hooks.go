package runtime

import (
	"context"
	"time"

	"github.com/drblury/servoflow/internal/runtime/logging"
)

// StepContext describes one module step to hooks.
type StepContext struct {
	// Module is the instance id (the configured id, or the type name).
	Module string
	// Type is the registered module type.
	Type string
	// Index is the module's position in the active list.
	Index int
	// Cycle is the 1-based cycle number.
	Cycle uint64
	// Context is the context handed to Step.
	Context context.Context
	StartedAt time.Time
	// Duration is only set in OnStepDone and OnStepError.
	Duration time.Duration
}

// StepHooks are callbacks around every module step. Nil hooks are skipped.
type StepHooks struct {
	// OnStepStart runs before Step is called.
	OnStepStart func(ctx StepContext)
	// OnStepDone runs after Step returns without error.
	OnStepDone func(ctx StepContext)
	// OnStepError runs after Step fails.
	OnStepError func(ctx StepContext, err error)
}

// Merge combines two StepHooks. The hooks from other run after those from h.
func (h StepHooks) Merge(other StepHooks) StepHooks {
	return StepHooks{
		OnStepStart: chainStepHooks(h.OnStepStart, other.OnStepStart),
		OnStepDone:  chainStepHooks(h.OnStepDone, other.OnStepDone),
		OnStepError: chainErrorHooks(h.OnStepError, other.OnStepError),
	}
}

func chainStepHooks(a, b func(StepContext)) func(StepContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx StepContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(StepContext, error)) func(StepContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx StepContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h StepHooks) start(ctx StepContext) {
	if h.OnStepStart != nil {
		h.OnStepStart(ctx)
	}
}

func (h StepHooks) finish(ctx StepContext, err error) {
	if err != nil {
		if h.OnStepError != nil {
			h.OnStepError(ctx, err)
		}
		return
	}
	if h.OnStepDone != nil {
		h.OnStepDone(ctx)
	}
}

// LoggingHooks returns hooks that trace every step and log failures.
func LoggingHooks(logger logging.ServiceLogger) StepHooks {
	return StepHooks{
		OnStepStart: func(ctx StepContext) {
			logger.Trace("Step started", logging.LogFields{
				"module": ctx.Module,
				"cycle":  ctx.Cycle,
			})
		},
		OnStepDone: func(ctx StepContext) {
			logger.Trace("Step completed", logging.LogFields{
				"module":      ctx.Module,
				"cycle":       ctx.Cycle,
				"duration_us": ctx.Duration.Microseconds(),
			})
		},
		OnStepError: func(ctx StepContext, err error) {
			logger.Error("Step failed", err, logging.LogFields{
				"module":      ctx.Module,
				"type":        ctx.Type,
				"cycle":       ctx.Cycle,
				"duration_us": ctx.Duration.Microseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that forward step outcomes to plain callbacks.
func MetricsHooks(onStart, onDone, onError func(module string)) StepHooks {
	return StepHooks{
		OnStepStart: func(ctx StepContext) {
			if onStart != nil {
				onStart(ctx.Module)
			}
		},
		OnStepDone: func(ctx StepContext) {
			if onDone != nil {
				onDone(ctx.Module)
			}
		},
		OnStepError: func(ctx StepContext, err error) {
			if onError != nil {
				onError(ctx.Module)
			}
		},
	}
}

// AlertingHooks returns hooks that call alertFunc on step failures.
func AlertingHooks(alertFunc func(ctx StepContext, err error)) StepHooks {
	return StepHooks{
		OnStepError: alertFunc,
	}
}
