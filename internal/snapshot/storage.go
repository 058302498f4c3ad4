// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package snapshot keeps the last known coil states and polled registers of
// the devices on the bus.
package snapshot

import (
	"fmt"

	"github.com/ffutop/relayctl/internal/config"
	"github.com/ffutop/relayctl/modbus"
)

// Storage defines the interface for persisting the snapshot State.
type Storage interface {
	// Load returns the stored State, or an empty one if nothing is stored.
	Load() (*State, error)

	// Save writes the whole State out.
	Save(s *State) error

	// OnWrite is called after the slot of addr changed.
	OnWrite(addr modbus.Address) error

	Close() error
}

// NewStorage returns the storage selected by cfg.
func NewStorage(cfg config.SnapshotConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		return NewMmapStorage(cfg.Path), nil
	}
	return nil, fmt.Errorf("unknown snapshot type %q", cfg.Type)
}
