package metadata

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil || len(cloned) != 0 {
		t.Fatal("expected empty non-nil map")
	}
}

func TestWithAndWithAll(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")
	if base["baz"] != "" {
		t.Fatalf("expected base map to remain unchanged")
	}
	merged := enriched.WithAll(Metadata{"alpha": "beta"})
	if merged["alpha"] != "beta" || merged["baz"] != "qux" {
		t.Fatalf("unexpected merged metadata: %v", merged)
	}
}

func TestNewPairsIgnoresDanglingKey(t *testing.T) {
	md := New("key", "value", "dangling")
	if md["key"] != "value" {
		t.Fatalf("expected key to be set")
	}
	if _, ok := md["dangling"]; ok {
		t.Fatalf("odd trailing key should be ignored")
	}
}

func TestForBusAccessors(t *testing.T) {
	sent := time.Date(2024, 2, 3, 4, 5, 6, 7, time.UTC)
	md := ForBus("msgpack", 42, sent, "rover-1")

	if md.Codec() != "msgpack" {
		t.Errorf("Codec() = %q", md.Codec())
	}
	if md.Source() != "rover-1" {
		t.Errorf("Source() = %q", md.Source())
	}
	if cycle, ok := md.Cycle(); !ok || cycle != 42 {
		t.Errorf("Cycle() = %d, %v", cycle, ok)
	}
	if got, ok := md.SentAt(); !ok || !got.Equal(sent) {
		t.Errorf("SentAt() = %v, %v", got, ok)
	}
	if lag, ok := md.Lag(sent.Add(time.Second)); !ok || lag != time.Second {
		t.Errorf("Lag() = %v, %v", lag, ok)
	}
	if lag, _ := md.Lag(sent.Add(-time.Second)); lag != 0 {
		t.Errorf("negative lag should clamp to zero, got %v", lag)
	}
	if _, ok := ForBus("json", 1, sent, "")[KeySource]; ok {
		t.Error("empty source should be omitted")
	}
}

func TestAccessorsOnMissingOrBadValues(t *testing.T) {
	md := Metadata{KeyCycle: "x", KeySentAt: "yesterday"}
	if _, ok := md.Cycle(); ok {
		t.Error("bad cycle should not parse")
	}
	if _, ok := md.SentAt(); ok {
		t.Error("bad timestamp should not parse")
	}
	if _, ok := (Metadata{}).Lag(time.Now()); ok {
		t.Error("missing timestamp has no lag")
	}
}

func TestFromMessageKeepsOnlyServoflowHeaders(t *testing.T) {
	msg := message.NewMessage("1", nil)
	msg.Metadata.Set(KeySource, "base")
	msg.Metadata.Set(KeyCodec, "json")
	msg.Metadata.Set("kafka_partition", "3")
	msg.Metadata.Set("_watermill_message_uuid", "1")

	md := FromMessage(msg)
	if len(md) != 2 || md.Source() != "base" || md.Codec() != "json" {
		t.Fatalf("unexpected headers: %v", md)
	}
	md[KeyCodec] = "mutation"
	if msg.Metadata.Get(KeyCodec) != "json" {
		t.Fatal("expected message headers to stay untouched")
	}
	if md := FromMessage(message.NewMessage("2", nil)); md == nil || len(md) != 0 {
		t.Fatal("expected empty non-nil map")
	}
}

func TestApplyKeepsExistingHeaders(t *testing.T) {
	msg := &message.Message{UUID: "1"}
	New(KeyCodec, "msgpack").Apply(msg)
	if msg.Metadata.Get(KeyCodec) != "msgpack" {
		t.Fatalf("expected codec header, got %v", msg.Metadata)
	}

	msg.Metadata.Set("trace_id", "abc")
	ForBus("json", 7, time.Unix(0, 0), "robot").Apply(msg)
	if msg.Metadata.Get("trace_id") != "abc" || msg.Metadata.Get(KeyCodec) != "json" || msg.Metadata.Get(KeyCycle) != "7" {
		t.Fatalf("unexpected headers: %v", msg.Metadata)
	}
}
