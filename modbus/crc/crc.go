// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the CRC-16/MODBUS checksum: seed 0xFFFF, reflected
// polynomial 0xA001, bits shifted out to the right.
package crc

import "sync"

const (
	seed       = 0xFFFF
	polynomial = 0xA001
)

var (
	tableOnce sync.Once
	table     [256]uint16
)

func initTable() {
	for i := 0; i < 256; i++ {
		v := uint16(i)
		for j := 0; j < 8; j++ {
			if v&0x0001 != 0 {
				v = (v >> 1) ^ polynomial
			} else {
				v >>= 1
			}
		}
		table[i] = v
	}
}

// CRC is an incremental checksum. The zero value must be Reset before use.
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = seed
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	tableOnce.Do(initTable)

	v := crc.value
	for _, b := range bs {
		v = (v >> 8) ^ table[byte(v)^b]
	}
	crc.value = v
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc.value
}

// Checksum returns the CRC of bs. An empty input yields 0xFFFF.
func Checksum(bs []byte) uint16 {
	var crc CRC
	return crc.Reset().PushBytes(bs).Value()
}

// Bitwise is the reference definition, one bit at a time.
func Bitwise(bs []byte) uint16 {
	v := uint16(seed)
	for _, b := range bs {
		v ^= uint16(b)
		for i := 0; i < 8; i++ {
			if v&0x0001 != 0 {
				v = (v >> 1) ^ polynomial
			} else {
				v >>= 1
			}
		}
	}
	return v
}
