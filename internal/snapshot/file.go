// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"fmt"
	"io"
	"os"

	"github.com/ffutop/relayctl/modbus"
)

// FileStorage keeps the State in memory and writes changed device slots
// back with WriteAt followed by fsync.
type FileStorage struct {
	path string
	file *os.File
	data []byte
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

// Load reads the snapshot file, creating it if necessary.
func (fs *FileStorage) Load() (*State, error) {
	f, err := openSized(fs.path)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	state, err := mapState(data)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", fs.path, err)
	}
	fs.file = f
	fs.data = data
	return state, nil
}

// Save writes the whole file.
func (fs *FileStorage) Save(s *State) error {
	if fs.file == nil {
		return nil
	}
	return fs.sync(0, len(fs.data))
}

// OnWrite writes the slot of addr.
func (fs *FileStorage) OnWrite(addr modbus.Address) error {
	if fs.file == nil {
		return nil
	}
	off, n := slotRange(addr)
	return fs.sync(off, n)
}

func (fs *FileStorage) sync(off, n int) error {
	if _, err := fs.file.WriteAt(fs.data[off:off+n], int64(off)); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// Close the file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}

// openSized opens path for read and write and makes it exactly totalSize
// bytes long.
func openSized(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
	}
	return f, nil
}
