/*
Package runtime drives a servoflow robot: it turns configuration into an
ordered list of modules, threads one bus through them every cycle and
optionally ships that bus to or from peers over the distribution bridge.

# Lifecycle

An Orchestrator moves through

	created -> initializing -> initialized -> running -> stopped
	        -> deinitializing -> terminated

with init_failed, run_failed and deinit_failed as absorbing failure states.
Init validates the configuration, constructs every active module through the
module registry, opens the bridge and calls Init on each module in order.
Run repeats the cycle until its context is cancelled; RunOnce runs a single
cycle. Deinit releases every constructed module, whether or not its Init ran,
and then closes the bridge.

# Cycle

	[receive] -> module 1 -> module 2 -> ... -> module n -> [publish]

Receive only happens when the bridge subscribes and is the only point that
may block indefinitely. Cancelling the run context while blocked there ends
the loop cleanly. Modules run strictly one at a time and are lent the live
bus for the duration of their Step.

# Observability (hooks.go, metrics.go, models.go, status.go)

  - StepHooks: callbacks around every step
  - Metrics: Prometheus collectors served on metrics.port
  - ModuleStats: per-module latency percentiles, step rate, failure kinds
  - Status API: /api/modules, /api/bus and /api/status on status.port
  - One OpenTelemetry span per cycle and per step

# Sub-packages

  - bridge/: distribution bridge on top of the transport registry
  - codec/: msgpack, json and protobuf bus encodings
  - config/: YAML configuration with defaults and validation
  - errors/: error taxonomy
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - metadata/: message metadata utilities

# Usage Example

	cfg, err := config.Load("modules.yml")
	if err != nil {
		return err
	}
	orch, err := runtime.New(cfg, runtime.WithLogger(logger))
	if err != nil {
		return err
	}
	defer orch.Deinit(context.Background())

	if err := orch.Init(ctx); err != nil {
		return err
	}
	return orch.Run(ctx)
*/
package runtime
