// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

// Kind classifies the outcome of a failed exchange.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindTimeout
	KindMalformed
	KindChecksumMismatch
	KindAddressMismatch
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport error"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed response"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindAddressMismatch:
		return "address mismatch"
	case KindInvalidArgument:
		return "invalid argument"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Recoverable reports whether the caller may retry the same exchange.
func (k Kind) Recoverable() bool {
	switch k {
	case KindTimeout, KindMalformed, KindChecksumMismatch, KindAddressMismatch:
		return true
	}
	return false
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrTransport        = errors.New("modbus: transport error")
	ErrTimeout          = errors.New("modbus: request timed out")
	ErrMalformed        = errors.New("modbus: malformed response")
	ErrChecksumMismatch = errors.New("modbus: checksum mismatch")
	ErrAddressMismatch  = errors.New("modbus: address mismatch")
	ErrInvalidArgument  = errors.New("modbus: invalid argument")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindTimeout:
		return ErrTimeout
	case KindMalformed:
		return ErrMalformed
	case KindChecksumMismatch:
		return ErrChecksumMismatch
	case KindAddressMismatch:
		return ErrAddressMismatch
	case KindInvalidArgument:
		return ErrInvalidArgument
	}
	return nil
}

// Error is the typed failure of one exchange.
type Error struct {
	Kind   Kind
	Reason string
	// ExceptionCode is non-zero when the slave answered with an exception response.
	ExceptionCode byte
	// Err is the underlying cause, usually an I/O error from the port.
	Err error
}

func (e *Error) Error() string {
	msg := "modbus: " + e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the Kind of err, or 0 if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func Transport(reason string, err error) *Error {
	return &Error{Kind: KindTransport, Reason: reason, Err: err}
}

func Timeout() *Error {
	return &Error{Kind: KindTimeout}
}

func Malformed(reason string) *Error {
	return &Error{Kind: KindMalformed, Reason: reason}
}

func ChecksumMismatch(got, want uint16) *Error {
	return &Error{Kind: KindChecksumMismatch, Reason: fmt.Sprintf("received 0x%04X, computed 0x%04X", got, want)}
}

func AddressMismatch(got, want Address) *Error {
	return &Error{Kind: KindAddressMismatch, Reason: fmt.Sprintf("response from %d, expected %d", got, want)}
}

func InvalidArgument(reason string) *Error {
	return &Error{Kind: KindInvalidArgument, Reason: reason}
}

// Exception builds the Malformed outcome for an exception response.
func Exception(fc FunctionCode, code byte) *Error {
	return &Error{
		Kind:          KindMalformed,
		Reason:        fmt.Sprintf("exception 0x%02X (%s) for %v", code, ExceptionName(code), fc),
		ExceptionCode: code,
	}
}
