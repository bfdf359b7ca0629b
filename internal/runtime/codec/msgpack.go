package codec

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/drblury/servoflow/bus"
)

// Msgpack is the default wire encoding.
type Msgpack struct{}

func (Msgpack) Name() string        { return "msgpack" }
func (Msgpack) ContentType() string { return "application/msgpack" }

func (Msgpack) Encode(b *bus.Bus) ([]byte, error) {
	if b == nil {
		return nil, ErrNilBus
	}
	return msgpack.Marshal(b)
}

func (Msgpack) Decode(data []byte) (*bus.Bus, error) {
	out := &bus.Bus{}
	if err := msgpack.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
