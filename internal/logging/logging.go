// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package logging builds the zap logger used by the command line tool.
package logging

import (
	"encoding/hex"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ffutop/relayctl/internal/config"
)

// New returns a logger for cfg and the level handle behind it, so the level
// can follow configuration reloads. A log file that cannot be opened falls
// back to stdout.
func New(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if err := SetLevel(level, cfg.Level); err != nil {
		return nil, level, err
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "", "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	default:
		return nil, level, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var (
		out     zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
		openErr error
	)
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			openErr = err
		} else {
			out = zapcore.Lock(f)
		}
	}

	logger := zap.New(zapcore.NewCore(encoder, out, level), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	if openErr != nil {
		logger.Warn("Failed to open log file, falling back to stdout", zap.String("file", cfg.File), zap.Error(openErr))
	}
	return logger, level, nil
}

// SetLevel applies a level name (debug, info, warn, error) to level.
func SetLevel(level zap.AtomicLevel, name string) error {
	if name == "" {
		name = "info"
	}
	l, err := zapcore.ParseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

// FrameTracer logs every frame on the bus at debug level.
func FrameTracer(logger *zap.Logger) func(direction string, frame []byte) {
	return func(direction string, frame []byte) {
		if ce := logger.Check(zapcore.DebugLevel, direction); ce != nil {
			ce.Write(zap.String("frame", hex.EncodeToString(frame)), zap.Int("len", len(frame)))
		}
	}
}
