package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Infow("info", map[string]any{"k": 2})
	l.Warnf("warn")
	l.Errorf("error")
}

func TestStructuredFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "engine", zerolog.DebugLevel)
	l.Infow("batch processed", map[string]any{"events": 3})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "engine", rec["component"])
	assert.Equal(t, "batch processed", rec["message"])
	assert.Equal(t, float64(3), rec["events"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "x", zerolog.WarnLevel)
	l.Infof("hidden")
	assert.Zero(t, buf.Len())
	l.Warnf("shown")
	assert.NotZero(t, buf.Len())
}

func TestSetupRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinic.log")
	require.NoError(t, Setup(Config{Level: "debug", Format: "json", File: path, MaxSizeMB: 1}))
	defer func() { assert.NoError(t, Close()) }()

	New("optimizer").Infof("written to file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Setup(Config{Level: "loud"}))
}
