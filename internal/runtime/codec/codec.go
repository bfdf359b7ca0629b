// Package codec turns a bus into bytes for the distribution bridge and back.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/drblury/servoflow/bus"
)

// ErrNilBus is returned when asked to encode a nil bus.
var ErrNilBus = errors.New("codec: bus is nil")

// Codec encodes and decodes a complete bus.
type Codec interface {
	Name() string
	ContentType() string
	Encode(b *bus.Bus) ([]byte, error)
	Decode(data []byte) (*bus.Bus, error)
}

var (
	mu     sync.RWMutex
	codecs = map[string]Codec{}
)

func init() {
	Register(Msgpack{})
	Register(JSON{})
	Register(Proto{})
}

// Register makes c available to ByName, replacing any codec of that name.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()
	codecs[c.Name()] = c
}

// ByName returns the registered codec called name.
func ByName(name string) (Codec, error) {
	mu.RLock()
	defer mu.RUnlock()
	if c, ok := codecs[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("codec: unknown codec %q (registered: %v)", name, namesLocked())
}

// Names returns the registered codec names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
