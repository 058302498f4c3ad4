// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serialport opens RTU transport ports on serial devices.
//
// Two drivers are available. "gridx" (github.com/grid-x/serial) supports the
// RS485 RTS controls and polls with a fixed per-read timeout. "bugst"
// (go.bug.st/serial) flushes the kernel input queue directly and sets the
// read timeout per call.
package serialport

import (
	"fmt"
	"io"

	"github.com/ffutop/relayctl/internal/config"
	"github.com/ffutop/relayctl/transport"
)

const (
	DriverGridx = "gridx"
	DriverBugst = "bugst"

	// maxDrain bounds Flush on a bus that never goes quiet.
	maxDrain = 4096
)

// Open opens the device named in cfg with the configured driver.
func Open(cfg config.SerialConfig) (transport.Port, error) {
	switch cfg.Driver {
	case "", DriverGridx:
		return openGridx(cfg)
	case DriverBugst:
		return openBugst(cfg)
	}
	return nil, fmt.Errorf("unknown serial driver %q", cfg.Driver)
}

// Opener binds cfg to Open.
func Opener(cfg config.SerialConfig) transport.Opener {
	return func() (transport.Port, error) {
		return Open(cfg)
	}
}

func writeFull(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}
