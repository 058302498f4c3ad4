// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/relayctl/modbus"
	"github.com/ffutop/relayctl/modbus/crc"
)

// Encode builds an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes, low byte first
//
// The payload shape is the caller's business.
func Encode(addr modbus.Address, fc modbus.FunctionCode, payload []byte) ([]byte, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	length := len(payload) + MinSize
	if length > MaxSize {
		return nil, modbus.InvalidArgument(fmt.Sprintf("frame length %d exceeds %d", length, MaxSize))
	}
	raw := make([]byte, length)
	raw[0] = byte(addr)
	raw[1] = byte(fc)
	copy(raw[2:], payload)

	checksum := crc.Checksum(raw[:length-2])
	binary.LittleEndian.PutUint16(raw[length-2:], checksum)
	return raw, nil
}

// Decode validates a response frame and returns its payload (the bytes
// between the function code and the CRC). The CRC is checked before anything
// else in the frame is interpreted.
func Decode(raw []byte, addr modbus.Address, fc modbus.FunctionCode) ([]byte, error) {
	length := len(raw)
	if length < MinResponseSize {
		return nil, modbus.Malformed("too short")
	}

	received := binary.LittleEndian.Uint16(raw[length-2:])
	if computed := crc.Checksum(raw[:length-2]); received != computed {
		return nil, modbus.ChecksumMismatch(received, computed)
	}

	if got := modbus.Address(raw[0]); got != addr {
		return nil, modbus.AddressMismatch(got, addr)
	}

	switch raw[1] {
	case byte(fc):
	case byte(fc) | modbus.ExceptionFlag:
		if length != ExceptionSize {
			return nil, modbus.Malformed("length mismatch")
		}
		return nil, modbus.Exception(fc, raw[2])
	default:
		return nil, modbus.Malformed("unexpected function code")
	}

	payload := raw[2 : length-2]
	switch fc {
	case modbus.FuncCodeReadHoldingRegisters:
		n := int(payload[0])
		if length != 2+1+n+2 || n%2 != 0 {
			return nil, modbus.Malformed("length mismatch")
		}
	case modbus.FuncCodeWriteSingleCoil:
		if length != WriteSingleCoilSize {
			return nil, modbus.Malformed("length mismatch")
		}
	default:
		return nil, modbus.Malformed("unsupported function code")
	}
	return payload, nil
}

// ResponseLength returns the expected length of a normal response to the
// given request frame.
func ResponseLength(request []byte) int {
	length := MinSize
	if len(request) < 2 {
		return length
	}
	switch modbus.FunctionCode(request[1]) {
	case modbus.FuncCodeReadHoldingRegisters:
		if len(request) >= 6 {
			count := int(binary.BigEndian.Uint16(request[4:]))
			length += 1 + count*2
		}
	case modbus.FuncCodeWriteSingleCoil:
		length += 4
	}
	if length > MaxSize {
		length = MaxSize
	}
	return length
}

// ExpectedLength returns the total frame length implied by the first bytes
// of a response. ok is false while the header is too short to tell, or when
// the function code is neither fc nor its exception form; the caller keeps
// reading toward the length implied by the request so Decode sees the whole
// frame and checks its CRC.
func ExpectedLength(fc modbus.FunctionCode, header []byte) (length int, ok bool) {
	if len(header) < 2 {
		return 0, false
	}
	switch header[1] {
	case byte(fc) | modbus.ExceptionFlag:
		return ExceptionSize, true
	case byte(fc):
	default:
		return 0, false
	}
	switch fc {
	case modbus.FuncCodeWriteSingleCoil:
		return WriteSingleCoilSize, true
	case modbus.FuncCodeReadHoldingRegisters:
		if len(header) < 3 {
			return 0, false
		}
		length = 2 + 1 + int(header[2]) + 2
		if length > MaxSize {
			length = MaxSize
		}
		return length, true
	}
	return len(header), true
}

// DecodeRegisters converts a Read Holding Registers payload, starting with
// its byte count, to big-endian register values.
func DecodeRegisters(payload []byte) ([]uint16, error) {
	if len(payload) < 1 {
		return nil, modbus.Malformed("too short")
	}
	n := int(payload[0])
	if n%2 != 0 || len(payload) != 1+n {
		return nil, modbus.Malformed("length mismatch")
	}
	values := make([]uint16, n/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(payload[1+2*i:])
	}
	return values, nil
}

// EncodeRegisters is the inverse of DecodeRegisters.
func EncodeRegisters(values []uint16) []byte {
	payload := make([]byte, 1+2*len(values))
	payload[0] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(payload[1+2*i:], v)
	}
	return payload
}

// WriteCoilPayload is [addrHi][addrLo][valueHi][valueLo] with value 0xFF00 or 0x0000.
func WriteCoilPayload(coil uint16, on bool) []byte {
	value := modbus.CoilOff
	if on {
		value = modbus.CoilOn
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:], coil)
	binary.BigEndian.PutUint16(payload[2:], value)
	return payload
}

// ReadRequest is a Read Holding Registers request.
type ReadRequest struct {
	Address modbus.Address
	Start   uint16
	Count   uint16
}

// Payload is [startHi][startLo][countHi][countLo].
func (r ReadRequest) Payload() []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:], r.Start)
	binary.BigEndian.PutUint16(payload[2:], r.Count)
	return payload
}

// ReadResponse is a decoded Read Holding Registers response.
type ReadResponse struct {
	Address   modbus.Address
	ByteCount byte
	Values    []uint16
}

// ParseReadResponse turns a payload returned by Decode into a ReadResponse.
// It also rejects a register count different from the one requested.
func ParseReadResponse(req ReadRequest, payload []byte) (*ReadResponse, error) {
	values, err := DecodeRegisters(payload)
	if err != nil {
		return nil, err
	}
	if len(values) != int(req.Count) {
		return nil, modbus.Malformed(fmt.Sprintf("length mismatch: %d registers, requested %d", len(values), req.Count))
	}
	return &ReadResponse{
		Address:   req.Address,
		ByteCount: payload[0],
		Values:    values,
	}, nil
}
