// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/ffutop/relayctl/modbus"
)

// MmapStorage implements persistence using memory-mapped files. Writes to
// the State land in the page cache directly; OnWrite flushes them.
type MmapStorage struct {
	path string
	file *os.File
	data mmap.MMap
}

// NewMmapStorage creates a new MmapStorage.
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{
		path: path,
	}
}

// Load maps the snapshot file, creating it if necessary.
func (ms *MmapStorage) Load() (*State, error) {
	f, err := openSized(ms.path)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	state, err := mapState(data)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, fmt.Errorf("%s: %w", ms.path, err)
	}
	ms.file = f
	ms.data = data
	return state, nil
}

// Save flushes the mmap to disk.
func (ms *MmapStorage) Save(s *State) error {
	if ms.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	return ms.data.Flush()
}

// OnWrite flushes the mapping. mmap-go flushes whole mappings only.
func (ms *MmapStorage) OnWrite(addr modbus.Address) error {
	if ms.data == nil {
		return nil
	}
	return ms.data.Flush()
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	var errs []error
	if ms.data != nil {
		errs = append(errs, ms.data.Unmap())
		ms.data = nil
	}
	if ms.file != nil {
		errs = append(errs, ms.file.Close())
		ms.file = nil
	}
	return errors.Join(errs...)
}
