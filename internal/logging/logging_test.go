// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ffutop/relayctl/internal/config"
)

func TestNew_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayctl.log")
	logger, _, err := New(config.LogConfig{Level: "info", Format: "json", File: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("coil set", zap.Int("coil", 3))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "coil set", entry["msg"])
	assert.Equal(t, float64(3), entry["coil"])
}

func TestNew_Levels(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error"} {
		_, level, err := New(config.LogConfig{Level: name})
		require.NoError(t, err)
		assert.Equal(t, name, level.Level().String())
	}

	_, _, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
	_, _, err = New(config.LogConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestNew_UnwritableFileFallsBack(t *testing.T) {
	logger, _, err := New(config.LogConfig{File: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestSetLevel(t *testing.T) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	require.NoError(t, SetLevel(level, "debug"))
	assert.True(t, level.Enabled(zapcore.DebugLevel))
	require.NoError(t, SetLevel(level, ""))
	assert.Equal(t, zapcore.InfoLevel, level.Level())
}

func TestFrameTracer(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	trace := FrameTracer(zap.New(core))

	trace("send", []byte{0x01, 0x05, 0x09, 0x10, 0xFF, 0x00, 0x8E, 0x63})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "send", entry.Message)
	assert.Equal(t, "01050910ff008e63", entry.ContextMap()["frame"])

	quiet, logs := observer.New(zapcore.InfoLevel)
	FrameTracer(zap.New(quiet))("recv", []byte{0x01})
	assert.Zero(t, logs.Len())
}
