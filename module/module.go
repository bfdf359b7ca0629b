// Package module defines the lifecycle every processing stage implements and
// the registry the orchestrator builds stages from.
//
// A stage is constructed from its configuration entry without touching any
// device or socket, acquires what it needs in Init, transforms the bus once
// per cycle in Step, and releases everything in Deinit.
package module

import (
	"context"

	"github.com/drblury/servoflow/bus"
)

// Module is one stage of the cycle.
type Module interface {
	// Init acquires resources. It fails with a ConfigError for bad
	// parameters or a ResourceError when a device cannot be opened.
	Init(ctx context.Context) error

	// Step receives the live bus and returns the bus to hand to the next
	// stage, which may be the same value. The bus must not be kept after
	// Step returns.
	Step(ctx context.Context, b *bus.Bus) (*bus.Bus, error)

	// Deinit releases whatever Init acquired. It is called once, also when
	// Init failed or never ran.
	Deinit(ctx context.Context) error
}

// Info describes a module type for status output and help text.
type Info struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Params      []string `json:"params,omitempty"`
	// Observer is set for stages that never modify the bus.
	Observer bool `json:"observer,omitempty"`
}

// Describer is implemented by modules that report more than their
// registered Info, e.g. what they last observed.
type Describer interface {
	Describe() map[string]any
}

// StepFunc adapts a function to a Module that holds no resources.
type StepFunc func(ctx context.Context, b *bus.Bus) (*bus.Bus, error)

func (f StepFunc) Init(context.Context) error   { return nil }
func (f StepFunc) Deinit(context.Context) error { return nil }

func (f StepFunc) Step(ctx context.Context, b *bus.Bus) (*bus.Bus, error) {
	return f(ctx, b)
}
