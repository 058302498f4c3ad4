// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ffutop/relayctl/modbus"
	"github.com/ffutop/relayctl/modbus/rtu"
)

// Layout:
// - Header: 16 bytes, magic "relayctl" then reserved zeros
// - One 288 byte slot per device address 0-127 (slot 0 unused):
//   - Coil states: 8 bytes (Offset 0)
//   - Coils updated, unix nanoseconds: 8 bytes (Offset 8)
//   - Register window start: 2 bytes (Offset 16)
//   - Register window count: 2 bytes (Offset 18)
//   - Registers updated, unix nanoseconds: 8 bytes (Offset 20)
//   - Register values: 125 * 2 bytes (Offset 28)
//
// Multi-byte fields are little-endian so files move between hosts.
const (
	headerSize = 16
	slotSize   = 288
	slotCount  = int(modbus.MaxAddress) + 1
	totalSize  = headerSize + slotCount*slotSize

	coilCount = 8
	maxWindow = rtu.MaxRegisterCount

	offCoils        = 0
	offCoilsUpdated = offCoils + coilCount
	offRegStart     = offCoilsUpdated + 8
	offRegCount     = offRegStart + 2
	offRegsUpdated  = offRegCount + 2
	offRegValues    = offRegsUpdated + 8
)

var magic = []byte("relayctl")

// CoilState is the last known state of one coil.
type CoilState byte

const (
	CoilUnknown CoilState = iota
	CoilOff
	CoilOn
)

func (c CoilState) String() string {
	switch c {
	case CoilOff:
		return "off"
	case CoilOn:
		return "on"
	}
	return "?"
}

// DeviceCoils is the coil section of a device slot.
type DeviceCoils struct {
	States  [coilCount]CoilState
	Updated time.Time
}

// RegisterWindow is the last register range read from a device.
type RegisterWindow struct {
	Start   uint16
	Values  []uint16
	Updated time.Time
}

// State holds the last known state of every device on the bus in a flat
// byte layout, so storages can back it with a file or a memory map.
type State struct {
	mu   sync.RWMutex
	data []byte
}

// NewState returns an empty in-memory State.
func NewState() *State {
	s, _ := mapState(make([]byte, totalSize))
	return s
}

// mapState wraps data, which must be totalSize bytes. A zeroed buffer is
// stamped with the header; anything else must already carry it.
func mapState(data []byte) (*State, error) {
	if len(data) != totalSize {
		return nil, fmt.Errorf("snapshot size %d, want %d", len(data), totalSize)
	}
	header := data[:headerSize]
	switch {
	case bytes.HasPrefix(header, magic):
	case bytes.Equal(header, make([]byte, headerSize)):
		copy(header, magic)
	default:
		return nil, fmt.Errorf("not a relayctl snapshot")
	}
	return &State{data: data}, nil
}

func (s *State) slot(addr modbus.Address) ([]byte, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	off, n := slotRange(addr)
	return s.data[off : off+n], nil
}

// slotRange returns the byte range of addr within the layout.
func slotRange(addr modbus.Address) (offset, length int) {
	return headerSize + int(addr)*slotSize, slotSize
}

func putTime(b []byte, t time.Time) {
	binary.LittleEndian.PutUint64(b, uint64(t.UnixNano()))
}

func getTime(b []byte) time.Time {
	ns := int64(binary.LittleEndian.Uint64(b))
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SetCoil records the state of coil (1-8) on addr.
func (s *State) SetCoil(addr modbus.Address, coil int, on bool, at time.Time) error {
	if coil < 1 || coil > coilCount {
		return modbus.InvalidArgument(fmt.Sprintf("coil %d out of range 1-%d", coil, coilCount))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.slot(addr)
	if err != nil {
		return err
	}
	state := CoilOff
	if on {
		state = CoilOn
	}
	slot[offCoils+coil-1] = byte(state)
	putTime(slot[offCoilsUpdated:], at)
	return nil
}

// Coils returns the recorded coil states of addr.
func (s *State) Coils(addr modbus.Address) (DeviceCoils, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dc DeviceCoils
	slot, err := s.slot(addr)
	if err != nil {
		return dc, err
	}
	for i := range dc.States {
		dc.States[i] = CoilState(slot[offCoils+i])
	}
	dc.Updated = getTime(slot[offCoilsUpdated:])
	return dc, nil
}

// SetRegisters replaces the register window recorded for addr.
func (s *State) SetRegisters(addr modbus.Address, start uint16, values []uint16, at time.Time) error {
	if len(values) > maxWindow {
		return modbus.InvalidArgument(fmt.Sprintf("%d registers exceed window of %d", len(values), maxWindow))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.slot(addr)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(slot[offRegStart:], start)
	binary.LittleEndian.PutUint16(slot[offRegCount:], uint16(len(values)))
	putTime(slot[offRegsUpdated:], at)
	for i, v := range values {
		binary.LittleEndian.PutUint16(slot[offRegValues+2*i:], v)
	}
	return nil
}

// Registers returns the register window recorded for addr.
func (s *State) Registers(addr modbus.Address) (RegisterWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w RegisterWindow
	slot, err := s.slot(addr)
	if err != nil {
		return w, err
	}
	w.Start = binary.LittleEndian.Uint16(slot[offRegStart:])
	count := int(binary.LittleEndian.Uint16(slot[offRegCount:]))
	if count > maxWindow {
		return w, fmt.Errorf("corrupt register window for address %d: count %d", addr, count)
	}
	w.Values = make([]uint16, count)
	for i := range w.Values {
		w.Values[i] = binary.LittleEndian.Uint16(slot[offRegValues+2*i:])
	}
	w.Updated = getTime(slot[offRegsUpdated:])
	return w, nil
}

// Devices lists the addresses with any recorded state, in ascending order.
func (s *State) Devices() []modbus.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var addrs []modbus.Address
	for a := modbus.MinAddress; a <= modbus.MaxAddress; a++ {
		slot, _ := s.slot(a)
		if !getTime(slot[offCoilsUpdated:]).IsZero() || !getTime(slot[offRegsUpdated:]).IsZero() {
			addrs = append(addrs, a)
		}
	}
	return addrs
}
