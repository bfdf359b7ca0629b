package runtime

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/servoflow/internal/runtime/logging"
)

func TestStepHooksMergeRunsInOrder(t *testing.T) {
	var calls []string
	first := StepHooks{
		OnStepStart: func(StepContext) { calls = append(calls, "first-start") },
		OnStepError: func(StepContext, error) { calls = append(calls, "first-error") },
	}
	second := StepHooks{
		OnStepStart: func(StepContext) { calls = append(calls, "second-start") },
		OnStepDone:  func(StepContext) { calls = append(calls, "second-done") },
	}

	merged := first.Merge(second)
	merged.start(StepContext{})
	merged.finish(StepContext{}, nil)
	merged.finish(StepContext{}, errors.New("boom"))

	assert.Equal(t, []string{"first-start", "second-start", "second-done", "first-error"}, calls)
}

func TestStepHooksMergeWithEmpty(t *testing.T) {
	merged := StepHooks{}.Merge(StepHooks{})
	assert.Nil(t, merged.OnStepStart)
	assert.Nil(t, merged.OnStepDone)
	assert.Nil(t, merged.OnStepError)

	// Calling the helpers on empty hooks must not panic.
	merged.start(StepContext{})
	merged.finish(StepContext{}, errors.New("ignored"))
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewSlogServiceLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: logging.LevelTrace})))
	hooks := LoggingHooks(log)

	ctx := StepContext{Module: "left-servo", Type: "ServoWriter", Cycle: 3, Context: context.Background(), Duration: 2 * time.Millisecond}
	hooks.OnStepStart(ctx)
	hooks.OnStepDone(ctx)
	hooks.OnStepError(ctx, errors.New("stalled"))

	out := buf.String()
	assert.Contains(t, out, "Step started")
	assert.Contains(t, out, "Step completed")
	assert.Contains(t, out, "Step failed")
	assert.Contains(t, out, "module=left-servo")
	assert.Contains(t, out, "stalled")
}

func TestMetricsHooks(t *testing.T) {
	var started, done, failed []string
	hooks := MetricsHooks(
		func(m string) { started = append(started, m) },
		func(m string) { done = append(done, m) },
		func(m string) { failed = append(failed, m) },
	)

	hooks.start(StepContext{Module: "a"})
	hooks.finish(StepContext{Module: "a"}, nil)
	hooks.finish(StepContext{Module: "b"}, errors.New("x"))

	assert.Equal(t, []string{"a"}, started)
	assert.Equal(t, []string{"a"}, done)
	assert.Equal(t, []string{"b"}, failed)

	// Nil callbacks are tolerated.
	MetricsHooks(nil, nil, nil).finish(StepContext{}, errors.New("x"))
}

func TestAlertingHooks(t *testing.T) {
	var alerted error
	hooks := AlertingHooks(func(_ StepContext, err error) { alerted = err })
	assert.Nil(t, hooks.OnStepStart)
	assert.Nil(t, hooks.OnStepDone)

	boom := errors.New("boom")
	hooks.finish(StepContext{}, boom)
	assert.Equal(t, boom, alerted)
}
