// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	MinSize = 4
	MaxSize = 256

	// MinResponseSize is the shortest response Decode accepts (an exception frame).
	MinResponseSize = 5
	ExceptionSize   = 5

	// WriteSingleCoilSize is the request and echoed response length for FC 0x05.
	WriteSingleCoilSize = 8

	// MaxRegisterCount bounds a single Read Holding Registers request.
	MaxRegisterCount = 125
)
