package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	At       time.Time         `json:"at"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
}

func TestMarshalSortsMapKeys(t *testing.T) {
	md := map[string]string{"servoflow_source": "robot", "servoflow_codec": "msgpack", "a": "1"}

	first, err := Marshal(md)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","servoflow_codec":"msgpack","servoflow_source":"robot"}`, string(first))

	for range 5 {
		again, err := Marshal(md)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestLineRoundTrip(t *testing.T) {
	in := record{
		At:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Metadata: map[string]string{"servoflow_cycle": "7"},
		Payload:  []byte{0x81, 0xa6},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeLine(&buf, in))
	require.NoError(t, EncodeLine(&buf, in))
	lines := strings.SplitAfter(buf.String(), "\n")
	require.Len(t, lines, 3)
	assert.Empty(t, lines[2])

	var out record
	require.NoError(t, UnmarshalLine([]byte(lines[0]), &out))
	assert.True(t, in.At.Equal(out.At))
	assert.Equal(t, in.Metadata, out.Metadata)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestUnmarshalLine(t *testing.T) {
	var out record
	assert.ErrorIs(t, UnmarshalLine([]byte("\n"), &out), ErrEmptyLine)
	assert.ErrorIs(t, UnmarshalLine([]byte("  \r\n"), &out), ErrEmptyLine)
	require.NoError(t, UnmarshalLine([]byte("{\"payload\":\"AQ==\"}\r\n"), &out))
	assert.Equal(t, []byte{1}, out.Payload)
	assert.Error(t, UnmarshalLine([]byte("{not json"), &out))
}
