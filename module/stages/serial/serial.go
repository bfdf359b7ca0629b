// Package serial provides SerialWriter, which sends the servo channels to a
// microcontroller over a serial device as one text frame per cycle:
//
//	!<left>@<right>#<aux>$\n
package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/drblury/servoflow/bus"
	sferrors "github.com/drblury/servoflow/internal/runtime/errors"
	"github.com/drblury/servoflow/internal/runtime/logging"
	"github.com/drblury/servoflow/module"
)

// WriterType is the type name used in configuration.
const WriterType = "SerialWriter"

// SupportedBaudRates lists the rates the port can be configured with.
var SupportedBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400}

var errNotTerminal = errors.New("not a terminal")

// OpenPort allows overriding how the device is opened for testing.
var OpenPort = func(path string) (*os.File, error) {
	return os.OpenFile(path, openFlags, 0)
}

func init() {
	Register(module.DefaultRegistry)
}

// Register adds SerialWriter to r.
func Register(r *module.Registry) {
	r.Register(WriterType, NewWriter, module.Info{
		Description: "writes the servo channels to a serial device",
		Params:      []string{"port", "baudrate"},
		Observer:    true,
	})
}

// Writer writes one frame per Step. It does not modify the bus.
type Writer struct {
	port     string
	baudrate int

	file *os.File
	out  *bufio.Writer
}

// NewWriter only records the parameters; presence is checked by Init.
func NewWriter(params module.Params) (module.Module, error) {
	port, err := params.String("", "port")
	if err != nil {
		return nil, err
	}
	baud, err := params.Int(0, "baudrate", "baud")
	if err != nil {
		return nil, err
	}
	return &Writer{port: port, baudrate: baud}, nil
}

func (w *Writer) Init(ctx context.Context) error {
	log := logging.FromContext(ctx).With(logging.LogFields{"port": w.port, "baudrate": w.baudrate})
	log.Info("Initializing SerialWriter", nil)

	if w.port == "" || w.baudrate == 0 {
		return sferrors.ConfigErrorf(WriterType, "init", "port and baudrate are required")
	}
	if !supported(w.baudrate) {
		return sferrors.ConfigErrorf(WriterType, "init", "unsupported baudrate %d (supported: %v)", w.baudrate, SupportedBaudRates)
	}

	f, err := OpenPort(w.port)
	if err != nil {
		return sferrors.ResourceError(WriterType, "open", err)
	}
	if err := configurePort(f, w.baudrate); err != nil {
		if !errors.Is(err, errNotTerminal) {
			_ = f.Close()
			return sferrors.ResourceError(WriterType, "configure", err)
		}
		log.Debug("Port is not a terminal, skipping line settings", nil)
	}

	w.file = f
	w.out = bufio.NewWriter(f)
	return nil
}

func (w *Writer) Step(ctx context.Context, b *bus.Bus) (*bus.Bus, error) {
	if w.out == nil {
		return b, sferrors.StepError(WriterType, "write", errors.New("port is not open"))
	}
	frame := Frame(b)
	logging.FromContext(ctx).Trace("Writing servo frame", logging.LogFields{"frame": frame})

	if _, err := w.out.WriteString(frame); err != nil {
		return b, sferrors.StepError(WriterType, "write", err)
	}
	if err := w.out.Flush(); err != nil {
		return b, sferrors.StepError(WriterType, "flush", err)
	}
	return b, nil
}

func (w *Writer) Deinit(ctx context.Context) error {
	logging.FromContext(ctx).Info("Deinitializing SerialWriter", nil)
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file, w.out = nil, nil
	if err := f.Close(); err != nil {
		return sferrors.TeardownError(WriterType, "close", err)
	}
	return nil
}

// Frame encodes the servo channels of b.
func Frame(b *bus.Bus) string {
	return fmt.Sprintf("!%s@%s#%s$\n",
		formatValue(b.Get(bus.Left)),
		formatValue(b.Get(bus.Right)),
		formatValue(b.Get(bus.Aux)))
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func supported(baud int) bool {
	for _, b := range SupportedBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}
