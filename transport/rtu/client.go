// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu runs Modbus RTU request/response exchanges over a transport.Port.
package rtu

import (
	"context"
	"sync"
	"time"

	"github.com/ffutop/relayctl/modbus"
	rtupacket "github.com/ffutop/relayctl/modbus/rtu"
	"github.com/ffutop/relayctl/transport"
)

const DefaultTimeout = time.Second

// Trace directions.
const (
	DirectionSend = "send"
	DirectionRecv = "recv"
)

// TraceFunc observes every frame written to or read from the bus. It must
// not retain frame.
type TraceFunc func(direction string, frame []byte)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets how long to wait for a response after the request is
// written.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPause sets the minimum spacing between the end of one exchange and
// the start of the next.
func WithPause(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pause = d
		}
	}
}

// WithBaudRate sets the line speed used to derive the inter-frame silence.
func WithBaudRate(baud int) Option {
	return func(c *Client) { c.baudRate = baud }
}

// WithTrace installs a frame observer.
func WithTrace(fn TraceFunc) Option {
	return func(c *Client) { c.trace = fn }
}

// Client is a Modbus RTU master on one bus. Exchanges from concurrent
// callers are serialised; each one holds the bus from flush to decode.
type Client struct {
	timeout  time.Duration
	pause    time.Duration
	baudRate int
	trace    TraceFunc

	mu           sync.Mutex
	port         transport.Port
	lastExchange time.Time
}

// NewClient allocates a Client that exchanges frames over port. The caller
// keeps ownership of port and closes it.
func NewClient(port transport.Port, opts ...Option) *Client {
	c := &Client{
		port:    port,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange sends one request and returns the payload of the matching
// response, that is the bytes between the function code and the CRC.
//
// ctx is honoured only until the request is written. Once bytes are on the
// wire the exchange runs to a response or to the timeout.
func (mb *Client) Exchange(ctx context.Context, addr modbus.Address, fc modbus.FunctionCode, payload []byte) ([]byte, error) {
	if !fc.Supported() {
		return nil, modbus.InvalidArgument("unsupported function code " + fc.String())
	}
	request, err := rtupacket.Encode(addr, fc, payload)
	if err != nil {
		return nil, err
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.awaitSilence(ctx); err != nil {
		return nil, err
	}
	defer func() { mb.lastExchange = time.Now() }()

	if err := mb.port.Flush(); err != nil {
		return nil, modbus.Transport("flush", err)
	}
	mb.observe(DirectionSend, request)
	if err := mb.port.Write(request); err != nil {
		return nil, modbus.Transport("write", err)
	}

	response, err := mb.readResponse(fc, request)
	if err != nil {
		return nil, err
	}
	mb.observe(DirectionRecv, response)
	return rtupacket.Decode(response, addr, fc)
}

// readResponse collects one response frame against a single deadline. The
// expected length starts from the request and is refined from the response
// header as it arrives.
func (mb *Client) readResponse(fc modbus.FunctionCode, request []byte) ([]byte, error) {
	var buf [rtupacket.MaxSize]byte
	deadline := time.Now().Add(mb.timeout)
	target := rtupacket.ResponseLength(request)
	n := 0
	for n < target {
		m, err := mb.port.ReadWithDeadline(buf[n:target], deadline)
		if err != nil {
			return nil, modbus.Transport("read", err)
		}
		if m == 0 {
			break
		}
		n += m
		if length, ok := rtupacket.ExpectedLength(fc, buf[:n]); ok {
			target = length
		}
	}
	if n == 0 {
		return nil, modbus.Timeout()
	}
	return append([]byte(nil), buf[:n]...), nil
}

// awaitSilence waits until the bus has been idle for the configured pause
// and at least the Modbus t3.5 character time.
func (mb *Client) awaitSilence(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mb.lastExchange.IsZero() {
		return nil
	}
	gap := mb.calculateDelay(0)
	if mb.pause > gap {
		gap = mb.pause
	}
	wait := gap - time.Since(mb.lastExchange)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (mb *Client) observe(direction string, frame []byte) {
	if mb.trace != nil {
		mb.trace(direction, frame)
	}
}

// calculateDelay calculates the needed delay to separate frames.
func (mb *Client) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int

	if mb.baudRate <= 0 || mb.baudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / mb.baudRate
		frameDelay = 35000000 / mb.baudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
