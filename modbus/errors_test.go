// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesOwnSentinelOnly(t *testing.T) {
	tests := []struct {
		err  *Error
		want error
	}{
		{Transport("write", io.ErrShortWrite), ErrTransport},
		{Timeout(), ErrTimeout},
		{Malformed("too short"), ErrMalformed},
		{ChecksumMismatch(1, 2), ErrChecksumMismatch},
		{AddressMismatch(2, 1), ErrAddressMismatch},
		{InvalidArgument("coil 9"), ErrInvalidArgument},
		{Exception(FuncCodeWriteSingleCoil, ExceptionCodeIllegalDataAddress), ErrMalformed},
	}
	all := []error{ErrTransport, ErrTimeout, ErrMalformed, ErrChecksumMismatch, ErrAddressMismatch, ErrInvalidArgument}

	for _, tt := range tests {
		t.Run(tt.err.Kind.String(), func(t *testing.T) {
			wrapped := fmt.Errorf("exchange with 1: %w", tt.err)
			for _, s := range all {
				assert.Equal(t, s == tt.want, errors.Is(wrapped, s), "sentinel %v", s)
			}
			assert.Equal(t, tt.err.Kind, KindOf(wrapped))
		})
	}
}

func TestError_UnwrapTransportCause(t *testing.T) {
	err := Transport("write", io.ErrShortWrite)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Contains(t, err.Error(), "short write")
}

func TestKind_Recoverable(t *testing.T) {
	assert.True(t, KindTimeout.Recoverable())
	assert.True(t, KindChecksumMismatch.Recoverable())
	assert.True(t, KindAddressMismatch.Recoverable())
	assert.True(t, KindMalformed.Recoverable())
	assert.False(t, KindTransport.Recoverable())
	assert.False(t, KindInvalidArgument.Recoverable())
}

func TestAddress_Validate(t *testing.T) {
	for _, a := range []Address{0, 128, 255} {
		assert.ErrorIs(t, a.Validate(), ErrInvalidArgument, "address %d", a)
	}
	for _, a := range []Address{1, 64, 127} {
		assert.NoError(t, a.Validate(), "address %d", a)
	}
}

func TestFunctionCode_Supported(t *testing.T) {
	assert.True(t, FuncCodeReadHoldingRegisters.Supported())
	assert.True(t, FuncCodeWriteSingleCoil.Supported())
	assert.False(t, FunctionCode(0x06).Supported())
	assert.Equal(t, "FunctionCode(0x10)", FunctionCode(0x10).String())
}
