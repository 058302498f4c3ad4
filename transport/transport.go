// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"errors"
	"time"
)

// Port is a byte-oriented duplex channel to the bus. It is already
// configured for the line settings of the bus; nothing here changes them.
//
// A Port is not safe for concurrent use. The RTU client serialises access.
type Port interface {
	// Flush discards any unread input.
	Flush() error

	// Write sends p in full. A short write is an error, never a signal to
	// retry the remainder.
	Write(p []byte) error

	// ReadWithDeadline reads at most len(p) bytes. It returns 0, nil when the
	// deadline passes before any byte arrives.
	ReadWithDeadline(p []byte, deadline time.Time) (int, error)

	Close() error
}

// Opener acquires a Port.
type Opener func() (Port, error)

// WithPort opens a port, hands it to fn and closes it on every exit path.
func WithPort(open Opener, fn func(Port) error) (err error) {
	port, err := open()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, port.Close())
	}()
	return fn(port)
}
