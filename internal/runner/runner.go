// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package runner drives relay boards from caller-side loops: a blinker that
// toggles coils at a fixed cadence and a poller that reads registers.
//
// Loops own their cadence and retry policy. A failed exchange is logged and
// retried after a jittered exponential backoff; invalid arguments stop the
// loop because retrying cannot fix them.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ffutop/relayctl/internal/config"
	"github.com/ffutop/relayctl/internal/snapshot"
	"github.com/ffutop/relayctl/modbus"
	"github.com/ffutop/relayctl/relay"
)

// Deps are the collaborators shared by the loops.
type Deps struct {
	Exchanger relay.Exchanger
	Logger    *zap.Logger
	Retry     config.RetryConfig
	// Store is optional.
	Store *snapshot.Store
	// Now is optional and defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

func (d Deps) backoff() *retryDelay {
	return newRetryDelay(d.Retry)
}

// retry logs a failed exchange and waits out the backoff. A non-nil result
// stops the loop.
func (d Deps) retry(ctx context.Context, b *retryDelay, err error, fields ...zap.Field) error {
	kind := modbus.KindOf(err)
	fields = append(fields, zap.Error(err), zap.Duration("backoff", b.next()))
	switch {
	case kind == modbus.KindInvalidArgument:
		return err
	case kind.Recoverable():
		d.logger().Warn("Exchange failed", fields...)
	default:
		d.logger().Error("Exchange failed", fields...)
	}
	return b.wait(ctx)
}

// record runs fn against the store, if any. Storage errors are logged.
func (d Deps) record(fn func(*snapshot.Store) error) {
	if d.Store == nil {
		return
	}
	if err := fn(d.Store); err != nil {
		d.logger().Warn("Failed to update snapshot", zap.Error(err))
	}
}
