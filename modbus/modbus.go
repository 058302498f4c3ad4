// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the types shared by the RTU codec, the session and
// the relay command helpers.
package modbus

import "fmt"

// Address is a slave address on the bus. 0 is broadcast and is not supported.
type Address uint8

const (
	MinAddress Address = 1
	MaxAddress Address = 127
)

// Validate rejects addresses outside 1..127.
func (a Address) Validate() error {
	if a < MinAddress || a > MaxAddress {
		return InvalidArgument(fmt.Sprintf("device address %d out of range %d-%d", a, MinAddress, MaxAddress))
	}
	return nil
}

// FunctionCode is one of the supported Modbus function codes.
type FunctionCode uint8

const (
	FuncCodeReadHoldingRegisters FunctionCode = 0x03
	FuncCodeWriteSingleCoil      FunctionCode = 0x05
)

// ExceptionFlag is set in the function code of an exception response.
const ExceptionFlag = 0x80

// Supported reports whether fc belongs to the closed set this package speaks.
func (fc FunctionCode) Supported() bool {
	switch fc {
	case FuncCodeReadHoldingRegisters, FuncCodeWriteSingleCoil:
		return true
	}
	return false
}

func (fc FunctionCode) String() string {
	switch fc {
	case FuncCodeReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncCodeWriteSingleCoil:
		return "WriteSingleCoil"
	}
	return fmt.Sprintf("FunctionCode(0x%02X)", uint8(fc))
}

// Coil values for Write Single Coil. Nothing else is legal on the wire.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Exception codes carried by exception responses.
const (
	ExceptionCodeIllegalFunction                    = 0x01
	ExceptionCodeIllegalDataAddress                 = 0x02
	ExceptionCodeIllegalDataValue                   = 0x03
	ExceptionCodeServerDeviceFailure                = 0x04
	ExceptionCodeAcknowledge                        = 0x05
	ExceptionCodeServerDeviceBusy                   = 0x06
	ExceptionCodeMemoryParityError                  = 0x08
	ExceptionCodeGatewayPathUnavailable             = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 0x0B
)

// ExceptionName returns a readable name for an exception code.
func ExceptionName(code byte) string {
	switch code {
	case ExceptionCodeIllegalFunction:
		return "illegal function"
	case ExceptionCodeIllegalDataAddress:
		return "illegal data address"
	case ExceptionCodeIllegalDataValue:
		return "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		return "server device failure"
	case ExceptionCodeAcknowledge:
		return "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		return "server device busy"
	case ExceptionCodeMemoryParityError:
		return "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	}
	return "unknown exception"
}
