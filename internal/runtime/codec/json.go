package codec

import (
	"github.com/drblury/servoflow/bus"
	"github.com/drblury/servoflow/internal/runtime/jsoncodec"
)

// JSON encodes the bus with the shared JSON codec.
type JSON struct{}

func (JSON) Name() string        { return "json" }
func (JSON) ContentType() string { return "application/json" }

func (JSON) Encode(b *bus.Bus) ([]byte, error) {
	if b == nil {
		return nil, ErrNilBus
	}
	return jsoncodec.Marshal(b)
}

func (JSON) Decode(data []byte) (*bus.Bus, error) {
	out := &bus.Bus{}
	if err := jsoncodec.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
