// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serialport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/ffutop/relayctl/internal/config"
)

// bugstConn is the subset of serial.Port the driver uses.
type bugstConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

type bugstPort struct {
	conn bugstConn
}

func bugstMode(cfg config.SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}
	switch cfg.Parity {
	case "", "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", cfg.Parity)
	}
	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", cfg.StopBits)
	}
	return mode, nil
}

func openBugst(cfg config.SerialConfig) (*bugstPort, error) {
	if cfg.RS485 {
		return nil, errors.New("rs485 settings require the gridx driver")
	}
	mode, err := bugstMode(cfg)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", cfg.Device, err)
	}
	return &bugstPort{conn: port}, nil
}

func (p *bugstPort) Flush() error {
	return p.conn.ResetInputBuffer()
}

func (p *bugstPort) Write(b []byte) error {
	return writeFull(p.conn, b)
}

// ReadWithDeadline arms the driver timeout with whatever is left before the
// deadline. The driver returns 0, nil when it expires.
func (p *bugstPort) ReadWithDeadline(b []byte, deadline time.Time) (int, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		if err := p.conn.SetReadTimeout(remaining); err != nil {
			return 0, err
		}
		n, err := p.conn.Read(b)
		if err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (p *bugstPort) Close() error {
	return p.conn.Close()
}
