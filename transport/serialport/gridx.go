// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serialport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/relayctl/internal/config"
)

// gridxPort reads with the fixed driver timeout as a poll interval, so a
// read may overrun its deadline by at most one interval. config.Decode keeps
// the interval at a tenth of the response timeout.
type gridxPort struct {
	serial.Config

	port io.ReadWriteCloser
}

func gridxConfig(cfg config.SerialConfig) serial.Config {
	c := serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.PollInterval,
	}
	if cfg.RS485 {
		c.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		}
	}
	return c
}

func openGridx(cfg config.SerialConfig) (*gridxPort, error) {
	p := &gridxPort{Config: gridxConfig(cfg)}
	port, err := serial.Open(&p.Config)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", p.Address, err)
	}
	p.port = port
	return p, nil
}

func (p *gridxPort) Flush() error {
	var scratch [64]byte
	for drained := 0; drained < maxDrain; {
		n, err := p.port.Read(scratch[:])
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
		drained += n
	}
	return nil
}

func (p *gridxPort) Write(b []byte) error {
	return writeFull(p.port, b)
}

func (p *gridxPort) ReadWithDeadline(b []byte, deadline time.Time) (int, error) {
	for time.Now().Before(deadline) {
		n, err := p.port.Read(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			return 0, err
		}
	}
	return 0, nil
}

func (p *gridxPort) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}
