// Package jsoncodec is the JSON encoder shared by the json bus codec, the
// record-log transports and the status API. Output is deterministic: map
// keys are sorted so the same bus and metadata always encode to the same
// bytes.
package jsoncodec

import (
	"bytes"
	"errors"
	"io"

	"github.com/bytedance/sonic"
)

// ErrEmptyLine is returned by UnmarshalLine for a blank record.
var ErrEmptyLine = errors.New("jsoncodec: empty line")

var api = sonic.Config{
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// EncodeLine writes v as one JSON-lines record.
func EncodeLine(w io.Writer, v any) error {
	data, err := api.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// UnmarshalLine decodes one JSON-lines record, tolerating CRLF endings.
func UnmarshalLine(line []byte, v any) error {
	line = bytes.TrimRight(line, "\r\n")
	if len(bytes.TrimSpace(line)) == 0 {
		return ErrEmptyLine
	}
	return api.Unmarshal(line, v)
}
