package codec

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/drblury/servoflow/bus"
)

// Proto lays the bus out as protobuf wire data:
//
//	message Bus {
//	  ServoValues servos = 1;
//	  Frame frame = 2;
//	}
//	message ServoValues {
//	  repeated double values = 1; // packed
//	  int64 last_update_unix_nano = 2;
//	}
//	message Frame {
//	  int32 width = 1;
//	  int32 height = 2;
//	  string format = 3;
//	  bytes data = 4;
//	}
type Proto struct{}

func (Proto) Name() string        { return "proto" }
func (Proto) ContentType() string { return "application/x-protobuf" }

const (
	fieldBusServos = 1
	fieldBusFrame  = 2

	fieldServoValues     = 1
	fieldServoLastUpdate = 2

	fieldFrameWidth  = 1
	fieldFrameHeight = 2
	fieldFrameFormat = 3
	fieldFrameData   = 4
)

var errTruncated = errors.New("codec: truncated protobuf data")

func (Proto) Encode(b *bus.Bus) ([]byte, error) {
	if b == nil {
		return nil, ErrNilBus
	}
	var out []byte
	out = protowire.AppendTag(out, fieldBusServos, protowire.BytesType)
	out = protowire.AppendBytes(out, encodeServos(b.Servos))
	if b.Frame != nil {
		out = protowire.AppendTag(out, fieldBusFrame, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeFrame(b.Frame))
	}
	return out, nil
}

func encodeServos(s bus.ServoValues) []byte {
	packed := make([]byte, 0, len(s.Values)*8)
	for _, v := range s.Values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	var out []byte
	out = protowire.AppendTag(out, fieldServoValues, protowire.BytesType)
	out = protowire.AppendBytes(out, packed)
	if !s.LastUpdate.IsZero() {
		out = protowire.AppendTag(out, fieldServoLastUpdate, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(s.LastUpdate.UnixNano()))
	}
	return out
}

func encodeFrame(f *bus.Frame) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldFrameWidth, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(int64(f.Width)))
	out = protowire.AppendTag(out, fieldFrameHeight, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(int64(f.Height)))
	if f.Format != "" {
		out = protowire.AppendTag(out, fieldFrameFormat, protowire.BytesType)
		out = protowire.AppendString(out, f.Format)
	}
	if len(f.Data) > 0 {
		out = protowire.AppendTag(out, fieldFrameData, protowire.BytesType)
		out = protowire.AppendBytes(out, f.Data)
	}
	return out
}

func (Proto) Decode(data []byte) (*bus.Bus, error) {
	out := &bus.Bus{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == fieldBusServos && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			servos, err := decodeServos(v)
			if err != nil {
				return 0, err
			}
			out.Servos = servos
			return n, nil
		case num == fieldBusFrame && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			frame, err := decodeFrame(v)
			if err != nil {
				return 0, err
			}
			out.Frame = frame
			return n, nil
		}
		return skip(num, typ, data)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeServos(data []byte) (bus.ServoValues, error) {
	var s bus.ServoValues
	idx := 0
	put := func(bits uint64) {
		if idx < len(s.Values) {
			s.Values[idx] = math.Float64frombits(bits)
		}
		idx++
	}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == fieldServoValues && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			for len(packed) > 0 {
				bits, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				put(bits)
				packed = packed[m:]
			}
			return n, nil
		case num == fieldServoValues && typ == protowire.Fixed64Type:
			bits, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			put(bits)
			return n, nil
		case num == fieldServoLastUpdate && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			s.LastUpdate = time.Unix(0, int64(v)).UTC()
			return n, nil
		}
		return skip(num, typ, data)
	})
	if err != nil {
		return s, err
	}
	if idx != len(s.Values) {
		return s, fmt.Errorf("codec: expected %d servo values, got %d", len(s.Values), idx)
	}
	return s, nil
}

func decodeFrame(data []byte) (*bus.Frame, error) {
	f := &bus.Frame{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == fieldFrameWidth && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f.Width = int(int64(v))
			return n, nil
		case num == fieldFrameHeight && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f.Height = int(int64(v))
			return n, nil
		case num == fieldFrameFormat && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f.Format = v
			return n, nil
		case num == fieldFrameData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f.Data = append([]byte(nil), v...)
			return n, nil
		}
		return skip(num, typ, data)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// walkFields calls fn for every field in data. fn returns how many bytes of
// the field value it consumed.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, data []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m > len(data) {
			return errTruncated
		}
		data = data[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, data)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}
