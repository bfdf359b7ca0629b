// Package metadata holds the headers carried alongside a bus message.
package metadata

import (
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Prefix starts every key the bridge reads or writes. Brokers add their own
// headers next to these.
const Prefix = "servoflow_"

// Keys set on every message the bridge publishes.
const (
	KeyCodec  = "servoflow_codec"
	KeyCycle  = "servoflow_cycle"
	KeySentAt = "servoflow_sent_at"
	KeySource = "servoflow_source"
)

// Metadata represents the headers carried alongside a bus message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// ForBus builds the headers for one published bus.
func ForBus(codec string, cycle uint64, sentAt time.Time, source string) Metadata {
	md := Metadata{
		KeyCodec:  codec,
		KeyCycle:  strconv.FormatUint(cycle, 10),
		KeySentAt: sentAt.UTC().Format(time.RFC3339Nano),
	}
	if source != "" {
		md[KeySource] = source
	}
	return md
}

// Codec returns the codec name the payload was encoded with, or "".
func (m Metadata) Codec() string {
	return m[KeyCodec]
}

// Source returns the publishing peer's identifier, or "".
func (m Metadata) Source() string {
	return m[KeySource]
}

// Cycle returns the publisher's cycle counter.
func (m Metadata) Cycle() (uint64, bool) {
	raw, ok := m[KeyCycle]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SentAt returns when the publisher sent the message.
func (m Metadata) SentAt() (time.Time, bool) {
	raw, ok := m[KeySentAt]
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Lag returns how long ago the message was sent relative to now. Negative
// lags from clock skew are reported as zero.
func (m Metadata) Lag(now time.Time) (time.Duration, bool) {
	sent, ok := m.SentAt()
	if !ok {
		return 0, false
	}
	lag := now.Sub(sent)
	if lag < 0 {
		lag = 0
	}
	return lag, true
}

// FromMessage returns the servoflow headers of msg. Headers added by the
// broker or the transport are left out.
func FromMessage(msg *message.Message) Metadata {
	md := Metadata{}
	for k, v := range msg.Metadata {
		if strings.HasPrefix(k, Prefix) {
			md[k] = v
		}
	}
	return md
}

// Apply sets every entry on msg, keeping any headers already there.
func (m Metadata) Apply(msg *message.Message) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, len(m))
	}
	for k, v := range m {
		msg.Metadata.Set(k, v)
	}
}
