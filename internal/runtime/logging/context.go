package logging

import "context"

type ctxKey struct{}

// NewContext returns a copy of ctx carrying log.
func NewContext(ctx context.Context, log ServiceLogger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored by NewContext, or a Nop logger.
func FromContext(ctx context.Context) ServiceLogger {
	if ctx != nil {
		if log, ok := ctx.Value(ctxKey{}).(ServiceLogger); ok && log != nil {
			return log
		}
	}
	return Nop()
}
