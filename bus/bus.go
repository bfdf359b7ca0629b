// Package bus holds the shared state record that the orchestrator threads
// through every module on each cycle and that the distribution bridge ships
// between peers.
package bus

import (
	"fmt"
	"strings"
	"time"
)

// Channel identifies one servo output on the bus.
type Channel int

const (
	Left Channel = iota
	Right
	Aux

	// NumChannels is the number of servo channels carried on the bus.
	NumChannels = 3
)

// Neutral is the servo value a fresh bus starts with.
const Neutral = 90.0

var channelNames = [NumChannels]string{"left", "right", "aux"}

func (c Channel) String() string {
	if c < 0 || int(c) >= NumChannels {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// Valid reports whether c addresses one of the bus channels.
func (c Channel) Valid() bool {
	return c >= 0 && int(c) < NumChannels
}

// ParseChannel resolves a channel by name. "top" and "camera" are accepted
// for the auxiliary channel.
func ParseChannel(name string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	case "aux", "top", "camera":
		return Aux, nil
	}
	return 0, fmt.Errorf("bus: unknown channel %q", name)
}

// Channels returns all channels in index order.
func Channels() []Channel {
	return []Channel{Left, Right, Aux}
}

// ServoValues is the servo channel record with the time it was last written.
type ServoValues struct {
	Values     [NumChannels]float64 `json:"values" msgpack:"values"`
	LastUpdate time.Time            `json:"last_update" msgpack:"last_update"`
}

// Frame is an opaque image payload produced by a capture stage.
type Frame struct {
	Width  int    `json:"width" msgpack:"width"`
	Height int    `json:"height" msgpack:"height"`
	Format string `json:"format" msgpack:"format"`
	Data   []byte `json:"data,omitempty" msgpack:"data"`
}

func (f *Frame) clone() *Frame {
	if f == nil {
		return nil
	}
	cp := *f
	if f.Data != nil {
		cp.Data = append([]byte(nil), f.Data...)
	}
	return &cp
}

// Bus is the state handed from module to module within a cycle. Only one
// live Bus exists per orchestrator; modules must not keep a reference to it
// after Step returns.
type Bus struct {
	Servos ServoValues `json:"servos" msgpack:"servos"`
	Frame  *Frame      `json:"frame,omitempty" msgpack:"frame,omitempty"`
}

// New returns a bus with every channel at Neutral and no frame.
func New() *Bus {
	b := &Bus{}
	for i := range b.Servos.Values {
		b.Servos.Values[i] = Neutral
	}
	return b
}

// Get returns the value of channel c. Out of range channels read as zero.
func (b *Bus) Get(c Channel) float64 {
	if !c.Valid() {
		return 0
	}
	return b.Servos.Values[c]
}

// Set writes channel c and stamps LastUpdate with now.
func (b *Bus) Set(c Channel, v float64, now time.Time) {
	if !c.Valid() {
		return
	}
	b.Servos.Values[c] = v
	b.Servos.LastUpdate = now
}

// SetAll writes the three channels in order and stamps LastUpdate once.
func (b *Bus) SetAll(left, right, aux float64, now time.Time) {
	b.Servos.Values = [NumChannels]float64{left, right, aux}
	b.Servos.LastUpdate = now
}

// Touch refreshes LastUpdate without changing any value.
func (b *Bus) Touch(now time.Time) {
	b.Servos.LastUpdate = now
}

// Clone returns a deep copy of b.
func (b *Bus) Clone() *Bus {
	if b == nil {
		return nil
	}
	return &Bus{
		Servos: b.Servos,
		Frame:  b.Frame.clone(),
	}
}

func (b *Bus) String() string {
	if b == nil {
		return "<nil>"
	}
	return fmt.Sprintf("left=%g right=%g aux=%g updated=%s",
		b.Servos.Values[Left], b.Servos.Values[Right], b.Servos.Values[Aux],
		b.Servos.LastUpdate.Format(time.RFC3339Nano))
}
