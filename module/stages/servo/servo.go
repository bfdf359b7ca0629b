// Package servo provides the constant-value writer and the logging reader
// used to exercise the servo channels of the bus.
package servo

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/servoflow/bus"
	sferrors "github.com/drblury/servoflow/internal/runtime/errors"
	"github.com/drblury/servoflow/internal/runtime/logging"
	"github.com/drblury/servoflow/module"
)

// Type names used in configuration.
const (
	WriterType = "ServoWriter"
	ReaderType = "ServoReader"
)

func init() {
	Register(module.DefaultRegistry)
}

// Register adds both servo stages to r.
func Register(r *module.Registry) {
	r.Register(WriterType, NewWriter, module.Info{
		Description: "writes constant values to the servo channels every cycle",
		Params:      []string{"left", "right", "aux"},
	})
	r.Register(ReaderType, NewReader, module.Info{
		Description: "logs the servo channels at debug level",
		Observer:    true,
	})
}

// Writer sets all three channels to fixed values and refreshes LastUpdate.
type Writer struct {
	values [bus.NumChannels]float64
	now    func() time.Time
}

// NewWriter reads left, right and aux. The older names left_val, right_val
// and top_val are accepted too. Missing channels stay neutral.
func NewWriter(params module.Params) (module.Module, error) {
	w := &Writer{now: time.Now}
	keys := [bus.NumChannels][]string{
		bus.Left:  {"left", "left_val"},
		bus.Right: {"right", "right_val"},
		bus.Aux:   {"aux", "top_val", "camera"},
	}
	for ch, names := range keys {
		v, err := params.Float(bus.Neutral, names...)
		if err != nil {
			return nil, sferrors.ConfigError(WriterType, "construct", err)
		}
		w.values[ch] = v
	}
	return w, nil
}

// Values returns the configured channel values.
func (w *Writer) Values() [bus.NumChannels]float64 {
	return w.values
}

func (w *Writer) Init(ctx context.Context) error {
	logging.FromContext(ctx).Info("Initializing ServoWriter", logging.LogFields{
		"left":  w.values[bus.Left],
		"right": w.values[bus.Right],
		"aux":   w.values[bus.Aux],
	})
	return nil
}

func (w *Writer) Step(_ context.Context, b *bus.Bus) (*bus.Bus, error) {
	b.SetAll(w.values[bus.Left], w.values[bus.Right], w.values[bus.Aux], w.now())
	return b, nil
}

func (w *Writer) Deinit(ctx context.Context) error {
	logging.FromContext(ctx).Info("Deinitializing ServoWriter", nil)
	return nil
}

// Reader logs the servo channels and remembers the last values it saw.
type Reader struct {
	mu       sync.Mutex
	last     bus.ServoValues
	observed uint64
}

// NewReader takes no parameters.
func NewReader(module.Params) (module.Module, error) {
	return &Reader{}, nil
}

func (r *Reader) Init(ctx context.Context) error {
	logging.FromContext(ctx).Info("Initializing ServoReader", nil)
	return nil
}

func (r *Reader) Step(ctx context.Context, b *bus.Bus) (*bus.Bus, error) {
	logging.FromContext(ctx).Debug("Servo values", logging.LogFields{
		"left":        b.Get(bus.Left),
		"right":       b.Get(bus.Right),
		"aux":         b.Get(bus.Aux),
		"last_update": b.Servos.LastUpdate,
	})

	r.mu.Lock()
	r.last = b.Servos
	r.observed++
	r.mu.Unlock()
	return b, nil
}

func (r *Reader) Deinit(ctx context.Context) error {
	logging.FromContext(ctx).Info("Deinitializing ServoReader", nil)
	return nil
}

// Last returns the servo record seen by the most recent Step and how many
// steps have run.
func (r *Reader) Last() (bus.ServoValues, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.observed
}

// Describe reports the last observed values.
func (r *Reader) Describe() map[string]any {
	last, n := r.Last()
	return map[string]any{
		"observed":    n,
		"left":        last.Values[bus.Left],
		"right":       last.Values[bus.Right],
		"aux":         last.Values[bus.Aux],
		"last_update": last.LastUpdate,
	}
}
