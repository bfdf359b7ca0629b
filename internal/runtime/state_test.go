package runtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateNames(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "run_failed", StateRunFailed.String())
	assert.Equal(t, "unknown", State(99).String())

	data, err := json.Marshal(StateDeinitializing)
	require.NoError(t, err)
	assert.Equal(t, `"deinitializing"`, string(data))
}

func TestStateTransitions(t *testing.T) {
	for _, s := range []State{StateInitFailed, StateRunFailed, StateDeinitFailed} {
		assert.True(t, s.Failed(), s.String())
		assert.False(t, s.canRun(), s.String())
	}
	assert.True(t, StateInitialized.canRun())
	assert.True(t, StateStopped.canRun())
	assert.False(t, StateCreated.canRun())
	assert.False(t, StateRunning.canRun())
	assert.False(t, StateTerminated.canRun())
}
