// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package relay drives 8-channel Modbus RTU relay/LED boards.
package relay

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ffutop/relayctl/modbus"
	"github.com/ffutop/relayctl/modbus/rtu"
)

const (
	// CoilBase is the hardware address of coil 1. Coil n lives at CoilBase+n-1.
	CoilBase uint16 = 0x0910
	// Coils is the number of channels on a board.
	Coils = 8

	// BaudRateRegister holds the line speed code of the board.
	BaudRateRegister uint16 = 0x2000
)

// baudRates maps the code stored in BaudRateRegister to bits per second.
var baudRates = map[uint16]int{
	0: 4800,
	1: 9600,
	2: 19200,
	3: 38400,
	4: 57600,
	5: 115200,
}

// Exchanger runs one Modbus request/response exchange. *rtu.Client from
// package transport/rtu implements it.
type Exchanger interface {
	Exchange(ctx context.Context, addr modbus.Address, fc modbus.FunctionCode, payload []byte) ([]byte, error)
}

// CoilAddress maps a 1-based coil index to its hardware address.
func CoilAddress(coil int) (uint16, error) {
	if coil < 1 || coil > Coils {
		return 0, modbus.InvalidArgument(fmt.Sprintf("coil %d out of range 1-%d", coil, Coils))
	}
	return CoilBase + uint16(coil-1), nil
}

// WriteCoil switches one coil on or off and checks the echoed request.
func WriteCoil(ctx context.Context, ex Exchanger, addr modbus.Address, coil int, on bool) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	hw, err := CoilAddress(coil)
	if err != nil {
		return err
	}
	payload := rtu.WriteCoilPayload(hw, on)
	echo, err := ex.Exchange(ctx, addr, modbus.FuncCodeWriteSingleCoil, payload)
	if err != nil {
		return err
	}
	if !bytes.Equal(echo, payload) {
		return modbus.Malformed(fmt.Sprintf("echo mismatch: sent % X, got % X", payload, echo))
	}
	return nil
}

// ReadRegisters reads count holding registers starting at start.
func ReadRegisters(ctx context.Context, ex Exchanger, addr modbus.Address, start, count uint16) ([]uint16, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	if count < 1 || count > rtu.MaxRegisterCount {
		return nil, modbus.InvalidArgument(fmt.Sprintf("register count %d out of range 1-%d", count, rtu.MaxRegisterCount))
	}
	req := rtu.ReadRequest{Address: addr, Start: start, Count: count}
	payload, err := ex.Exchange(ctx, addr, modbus.FuncCodeReadHoldingRegisters, req.Payload())
	if err != nil {
		return nil, err
	}
	resp, err := rtu.ParseReadResponse(req, payload)
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// BaudRate converts a BaudRateRegister code to bits per second.
func BaudRate(code uint16) (int, error) {
	rate, ok := baudRates[code]
	if !ok {
		return 0, modbus.Malformed("unknown value")
	}
	return rate, nil
}

// ReadBaudRate reads the configured line speed of the board at addr.
func ReadBaudRate(ctx context.Context, ex Exchanger, addr modbus.Address) (int, error) {
	values, err := ReadRegisters(ctx, ex, addr, BaudRateRegister, 1)
	if err != nil {
		return 0, err
	}
	return BaudRate(values[0])
}

// Board binds an Exchanger to one device address.
type Board struct {
	Exchanger
	Address modbus.Address
}

func (b Board) SetCoil(ctx context.Context, coil int, on bool) error {
	return WriteCoil(ctx, b.Exchanger, b.Address, coil, on)
}

// SetCoils writes the same state to each coil in order and stops at the
// first error.
func (b Board) SetCoils(ctx context.Context, coils []int, on bool) error {
	for _, coil := range coils {
		if err := b.SetCoil(ctx, coil, on); err != nil {
			return fmt.Errorf("coil %d: %w", coil, err)
		}
	}
	return nil
}

func (b Board) Registers(ctx context.Context, start, count uint16) ([]uint16, error) {
	return ReadRegisters(ctx, b.Exchanger, b.Address, start, count)
}

func (b Board) BaudRate(ctx context.Context) (int, error) {
	return ReadBaudRate(ctx, b.Exchanger, b.Address)
}
