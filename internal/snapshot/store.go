// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"errors"
	"sync"
	"time"

	"github.com/ffutop/relayctl/internal/config"
	"github.com/ffutop/relayctl/modbus"
)

// Store records device state into a State and persists every change
// through its Storage. The State must not be used after Close.
type Store struct {
	mu      sync.Mutex
	state   *State
	storage Storage
}

// Open loads the storage selected by cfg.
func Open(cfg config.SnapshotConfig) (*Store, error) {
	storage, err := NewStorage(cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(storage)
}

// NewStore loads storage and takes ownership of it.
func NewStore(storage Storage) (*Store, error) {
	state, err := storage.Load()
	if err != nil {
		return nil, err
	}
	return &Store{state: state, storage: storage}, nil
}

// State gives read access to the recorded state.
func (s *Store) State() *State {
	return s.state
}

func (s *Store) RecordCoil(addr modbus.Address, coil int, on bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.state.SetCoil(addr, coil, on, at); err != nil {
		return err
	}
	return s.storage.OnWrite(addr)
}

func (s *Store) RecordRegisters(addr modbus.Address, start uint16, values []uint16, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.state.SetRegisters(addr, start, values, at); err != nil {
		return err
	}
	return s.storage.OnWrite(addr)
}

// Close saves the State and releases the storage.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Join(s.storage.Save(s.state), s.storage.Close())
}
