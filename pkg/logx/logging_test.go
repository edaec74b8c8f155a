package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFieldsInOrder(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").With(String("comp", "reminder"))

	log.Info("scheduled", String("supplement", "s1"), Int("day", 3), Err(errors.New("boom")))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scheduled", line["message"])
	assert.Equal(t, "reminder", line["comp"])
	assert.Equal(t, "s1", line["supplement"])
	assert.EqualValues(t, 3, line["day"])
	assert.Equal(t, "boom", line["err"])
	assert.Contains(t, line["caller"], "logging_test.go")
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Debug("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelDebug))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsNop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	assert.NotPanics(t, func() { log.Error("nothing happens") })
	assert.False(t, Nop().IsZero())
}

func TestValidLevel(t *testing.T) {
	for _, lvl := range []string{"", "debug", "INFO", "warning"} {
		assert.True(t, ValidLevel(lvl), lvl)
	}
	assert.False(t, ValidLevel("verbose"))
}

func TestServiceApplySwapsFileSink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	svc, log := NewService(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()

	log.Info("one")
	log.Debug("filtered")

	second := filepath.Join(dir, "b.log")
	require.NoError(t, svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: second}}))
	log.Debug("two")

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Contains(t, string(a), `"message":"one"`)
	assert.NotContains(t, string(a), "filtered")
	assert.NotContains(t, string(a), "two")

	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"two"`)
}

func TestServiceApplyReportsBadFile(t *testing.T) {
	svc, _ := NewService(Config{Level: "info"})
	defer svc.Close()

	err := svc.Apply(Config{File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "missing", "x.log")}})
	assert.Error(t, err)
}
