package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const writerReader = `
modules:
  - name: ServoWriter
    left: 10
    right: 20
    aux: 30
  - name: ServoReader
`

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modules.yml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestRunOnceLogsToStreamAndFile(t *testing.T) {
	cfgPath := writeConfig(t, writerReader)
	logPath := filepath.Join(t.TempDir(), "servoflow.log")
	var stderr bytes.Buffer

	code := run(context.Background(), []string{"-cfg", cfgPath, "-loglevel", "1", "-logfile", logPath, "-once"}, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	assert.Contains(t, stderr.String(), "Initializing ServoWriter")
	assert.Contains(t, stderr.String(), "Servo values")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Deinitializing ServoReader")
}

func TestValidateOnly(t *testing.T) {
	cfgPath := writeConfig(t, writerReader)
	var stderr bytes.Buffer

	code := run(context.Background(), []string{"-cfg", cfgPath, "-validate", "-loglevel", "2", "-log-format", "json"}, &stderr)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stderr.String(), `"msg":"Configuration is valid"`)
	assert.NotContains(t, stderr.String(), "Initializing ServoWriter")
}

func TestValidateRejectsUnknownModule(t *testing.T) {
	cfgPath := writeConfig(t, "modules:\n  - name: Teleporter\n")
	var stderr bytes.Buffer

	code := run(context.Background(), []string{"-cfg", cfgPath, "-validate"}, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "CRITICAL")
	assert.Contains(t, stderr.String(), "Teleporter")
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	cfgPath := writeConfig(t, "connection:\n  connection_type: PUB\n  transport: carrier-pigeon\n  pub_port: 5555\nmodules:\n  - name: ServoReader\n")
	var stderr bytes.Buffer

	code := run(context.Background(), []string{"-cfg", cfgPath, "-validate"}, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "carrier-pigeon")
}

func TestMissingConfigFile(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-cfg", filepath.Join(t.TempDir(), "absent.yml")}, &stderr)
	assert.Equal(t, exitUsage, code)
}

func TestBadFlags(t *testing.T) {
	for name, args := range map[string][]string{
		"level out of range": {"-loglevel", "7"},
		"unknown format":     {"-log-format", "xml"},
		"unknown flag":       {"-verbose"},
		"positional":         {"extra"},
	} {
		t.Run(name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, exitUsage, run(context.Background(), args, &stderr))
		})
	}
}

func TestHelpExitsCleanly(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, exitOK, run(context.Background(), []string{"-h"}, &stderr))
	assert.Contains(t, stderr.String(), "-loglevel")
}

func TestEnvironmentFallbacks(t *testing.T) {
	cfgPath := writeConfig(t, writerReader)
	t.Setenv("SERVOFLOW_CONFIG", cfgPath)
	t.Setenv("SERVOFLOW_LOG_LEVEL", "4")

	cli, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, cfgPath, cli.ConfigPath)
	assert.Equal(t, 4, cli.LogLevel)
	assert.Equal(t, "text", cli.LogFormat)
}

func TestInitFailureExitsWithFailure(t *testing.T) {
	cfgPath := writeConfig(t, "modules:\n  - name: SerialWriter\n    port: /nonexistent/tty\n    baudrate: 9600\n")
	var stderr bytes.Buffer

	code := run(context.Background(), []string{"-cfg", cfgPath, "-once"}, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr.String(), "init_failed")
}

func TestInterruptedRunExitsCleanly(t *testing.T) {
	cfgPath := writeConfig(t, writerReader)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stderr bytes.Buffer
	assert.Equal(t, exitOK, run(ctx, []string{"-cfg", cfgPath, "-loglevel", "2"}, &stderr))
	assert.Contains(t, stderr.String(), "terminated")
}
