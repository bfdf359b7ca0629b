package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

func newJSONLogger(buf *bytes.Buffer, level slog.Level) ServiceLogger {
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level, ReplaceAttr: ReplaceLevelNames})
	return NewSlogServiceLogger(slog.New(handler))
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestSlogServiceLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, LevelTrace)

	logger.Trace("trace", nil)
	logger.Debug("debug", nil)
	logger.Info("info", LogFields{"module": "ServoReader"})
	logger.Warn("warn", nil)
	logger.Error("error", errors.New("boom"), nil)
	logger.Critical("critical", errors.New("fatal"), LogFields{"phase": "init"})

	recs := decodeLines(t, &buf)
	if len(recs) != 6 {
		t.Fatalf("expected 6 records, got %d", len(recs))
	}
	wantLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "CRITICAL"}
	for i, want := range wantLevels {
		if recs[i]["level"] != want {
			t.Errorf("record %d level = %v, want %s", i, recs[i]["level"], want)
		}
	}
	if recs[2]["module"] != "ServoReader" {
		t.Errorf("expected module field, got %#v", recs[2])
	}
	if recs[5]["error"] != "fatal" || recs[5]["phase"] != "init" {
		t.Errorf("unexpected critical record: %#v", recs[5])
	}
}

func TestSlogServiceLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, LevelCritical)

	logger.Error("hidden", errors.New("x"), nil)
	logger.Critical("shown", nil, nil)

	recs := decodeLines(t, &buf)
	if len(recs) != 1 || recs[0]["msg"] != "shown" {
		t.Fatalf("expected only the critical record, got %#v", recs)
	}
}

func TestSlogServiceLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelDebug)

	if logger.With(nil) != logger {
		t.Fatal("With(nil) should return the same logger")
	}
	logger.With(LogFields{"component": "bridge"}).Info("hello", nil)

	recs := decodeLines(t, &buf)
	if recs[0]["component"] != "bridge" {
		t.Fatalf("expected inherited field, got %#v", recs[0])
	}
}

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "watermill"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})
	logger.Error("oops", errors.New("boom"), LogFields{"failed": true})
	logger.Warn("careful", nil)
	logger.Critical("dead", errors.New("boom"), nil)

	if len(base.entries) != 6 {
		t.Fatalf("expected 6 log entries, got %d", len(base.entries))
	}
	if base.entries[0].level != "debug" || base.entries[0].fields["component"] != "watermill" {
		t.Fatalf("unexpected first entry: %#v", base.entries[0])
	}
	if base.entries[4].level != "info" || base.entries[4].fields["severity"] != "warning" {
		t.Fatalf("warn should map to info with severity, got %#v", base.entries[4])
	}
	if base.entries[5].level != "error" || base.entries[5].fields["severity"] != "critical" {
		t.Fatalf("critical should map to error with severity, got %#v", base.entries[5])
	}
}

func TestConstructorsPanicOnNil(t *testing.T) {
	for name, fn := range map[string]func(){
		"slog":      func() { NewSlogServiceLogger(nil) },
		"watermill": func() { NewWatermillServiceLogger(nil) },
		"adapter":   func() { NewWatermillAdapter(nil) },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Fatal("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &recordingServiceLogger{}
	adapter := NewWatermillAdapter(base)

	adapter.Debug("dbg", watermill.LogFields{"k": "v"})
	adapter.Info("info", nil)
	adapter.Trace("trace", nil)
	adapter.Error("err", errors.New("boom"), nil)

	if len(base.entries) != 4 {
		t.Fatalf("expected 4 delegated entries on base, got %d", len(base.entries))
	}
	if base.entries[0].fields["k"] != "v" {
		t.Fatalf("expected fields to be forwarded, got %#v", base.entries[0])
	}

	child := adapter.With(watermill.LogFields{"child": "yes"})
	if _, ok := child.(*serviceLoggerAdapter); !ok {
		t.Fatalf("expected service logger adapter child, got %T", child)
	}
}

func TestWatermillAdapterUnwrapsKnownLoggers(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewWatermillAdapter(newJSONLogger(&buf, slog.LevelDebug))
	adapter.Info("from watermill", watermill.LogFields{"topic": "servoflow.bus"})

	recs := decodeLines(t, &buf)
	if len(recs) != 1 || recs[0]["topic"] != "servoflow.bus" {
		t.Fatalf("unexpected records: %#v", recs)
	}

	inner := newRecordingWatermillLogger()
	if NewWatermillAdapter(NewWatermillServiceLogger(inner)) != watermill.LoggerAdapter(inner) {
		t.Fatal("watermill-backed loggers should be returned unwrapped")
	}
}

func TestLevelFromScale(t *testing.T) {
	want := []slog.Level{LevelTrace, slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError, LevelCritical}
	for n, level := range want {
		got, err := LevelFromScale(n)
		if err != nil || got != level {
			t.Errorf("LevelFromScale(%d) = %v, %v; want %v", n, got, err, level)
		}
	}
	if _, err := LevelFromScale(6); err == nil {
		t.Error("expected error for out of range level")
	}
	if _, err := LevelFromScale(-1); err == nil {
		t.Error("expected error for negative level")
	}
}

func TestNopDiscards(t *testing.T) {
	logger := Nop()
	logger.Critical("ignored", errors.New("x"), LogFields{"a": 1})
}

type recordingWatermillLogger struct {
	entries []watermillEntry
}

type watermillEntry struct {
	level  string
	fields watermill.LogFields
	err    error
}

func newRecordingWatermillLogger() *recordingWatermillLogger {
	return &recordingWatermillLogger{}
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.entries = append(r.entries, watermillEntry{level: "error", fields: fields, err: err})
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.entries = append(r.entries, watermillEntry{level: "info", fields: fields})
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.entries = append(r.entries, watermillEntry{level: "debug", fields: fields})
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.entries = append(r.entries, watermillEntry{level: "trace", fields: fields})
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return r
}

type recordingServiceLogger struct {
	entries []loggedEntry
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

func (r *recordingServiceLogger) With(fields LogFields) ServiceLogger {
	return &recordingServiceLogger{}
}

func (r *recordingServiceLogger) add(level, msg string, err error, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: level, msg: msg, fields: fields, err: err})
}

func (r *recordingServiceLogger) Debug(msg string, fields LogFields) { r.add("debug", msg, nil, fields) }
func (r *recordingServiceLogger) Info(msg string, fields LogFields)  { r.add("info", msg, nil, fields) }
func (r *recordingServiceLogger) Warn(msg string, fields LogFields)  { r.add("warn", msg, nil, fields) }
func (r *recordingServiceLogger) Trace(msg string, fields LogFields) { r.add("trace", msg, nil, fields) }

func (r *recordingServiceLogger) Error(msg string, err error, fields LogFields) {
	r.add("error", msg, err, fields)
}

func (r *recordingServiceLogger) Critical(msg string, err error, fields LogFields) {
	r.add("critical", msg, err, fields)
}
