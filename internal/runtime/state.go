package runtime

import "github.com/drblury/servoflow/internal/runtime/jsoncodec"

// State is the orchestrator lifecycle position.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateInitialized
	StateRunning
	StateStopped
	StateDeinitializing
	StateTerminated

	// Failure states are absorbing: Run can never be entered from them.
	StateInitFailed
	StateRunFailed
	StateDeinitFailed
)

var stateNames = map[State]string{
	StateCreated:        "created",
	StateInitializing:   "initializing",
	StateInitialized:    "initialized",
	StateRunning:        "running",
	StateStopped:        "stopped",
	StateDeinitializing: "deinitializing",
	StateTerminated:     "terminated",
	StateInitFailed:     "init_failed",
	StateRunFailed:      "run_failed",
	StateDeinitFailed:   "deinit_failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Failed reports whether s is one of the failure states.
func (s State) Failed() bool {
	return s == StateInitFailed || s == StateRunFailed || s == StateDeinitFailed
}

// canRun reports whether Run or RunOnce may start from s.
func (s State) canRun() bool {
	return s == StateInitialized || s == StateStopped
}

func (s State) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(s.String())
}
