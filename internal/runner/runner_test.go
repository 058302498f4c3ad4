// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ffutop/relayctl/internal/config"
	"github.com/ffutop/relayctl/internal/snapshot"
	"github.com/ffutop/relayctl/modbus"
	"github.com/ffutop/relayctl/modbus/rtu"
)

type exchange struct {
	addr    modbus.Address
	fc      modbus.FunctionCode
	payload []byte
}

// fakeExchanger echoes coil writes, answers register reads with regs and
// fails the first len(failures) calls.
type fakeExchanger struct {
	mu       sync.Mutex
	calls    []exchange
	failures []error
	regs     []uint16
}

func (f *fakeExchanger) Exchange(_ context.Context, addr modbus.Address, fc modbus.FunctionCode, payload []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, exchange{addr, fc, append([]byte(nil), payload...)})
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	if fc == modbus.FuncCodeReadHoldingRegisters {
		return rtu.EncodeRegisters(f.regs), nil
	}
	return payload, nil
}

func (f *fakeExchanger) snapshot() []exchange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange(nil), f.calls...)
}

var fastRetry = config.RetryConfig{Initial: time.Millisecond, Max: 4 * time.Millisecond}

func memoryStore(t *testing.T) *snapshot.Store {
	t.Helper()
	store, err := snapshot.NewStore(snapshot.NewMemoryStorage())
	require.NoError(t, err)
	return store
}

func TestRetryDelay(t *testing.T) {
	r := newRetryDelay(config.RetryConfig{Initial: 100 * time.Millisecond, Max: 350 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, want := range []time.Duration{100, 200, 350, 350} {
		assert.Equal(t, want*time.Millisecond, r.next())
		assert.ErrorIs(t, r.wait(ctx), context.Canceled)
	}
	r.succeeded()
	assert.Equal(t, 100*time.Millisecond, r.next())

	r.failures = 1000
	assert.Equal(t, 350*time.Millisecond, r.next())
}

func TestRetryDelay_Spread(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := spread(time.Second)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestRetryDelay_ZeroConfigHasFloor(t *testing.T) {
	r := newRetryDelay(config.RetryConfig{})
	assert.Equal(t, minRetryDelay, r.next())
	r.failures = 3
	assert.Equal(t, minRetryDelay, r.next())
}

func TestPoller_ZeroRetryConfigDoesNotSpin(t *testing.T) {
	failures := make([]error, 10000)
	for i := range failures {
		failures[i] = modbus.Timeout()
	}
	ex := &fakeExchanger{failures: failures}
	p := NewPoller(Deps{Exchanger: ex},
		config.PollConfig{Address: 1, Register: 0x2000, Count: 1, Interval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	// At most one attempt per minRetryDelay, with room for jitter.
	assert.LessOrEqual(t, len(ex.snapshot()), 15)
}

func TestBlinker_Cycles(t *testing.T) {
	ex := &fakeExchanger{}
	store := memoryStore(t)
	b := NewBlinker(Deps{Exchanger: ex, Retry: fastRetry, Store: store}, config.BlinkConfig{
		Address: 2,
		Coils:   []int{1, 8},
		On:      time.Millisecond,
		Off:     time.Millisecond,
		Cycles:  2,
	})

	require.NoError(t, b.Run(context.Background()))

	calls := ex.snapshot()
	require.Len(t, calls, 8)
	want := [][]byte{
		{0x09, 0x10, 0xFF, 0x00}, {0x09, 0x17, 0xFF, 0x00},
		{0x09, 0x10, 0x00, 0x00}, {0x09, 0x17, 0x00, 0x00},
	}
	for i, c := range calls {
		assert.Equal(t, modbus.Address(2), c.addr)
		assert.Equal(t, modbus.FuncCodeWriteSingleCoil, c.fc)
		assert.Equal(t, want[i%4], c.payload, "call %d", i)
	}

	dc, err := store.State().Coils(2)
	require.NoError(t, err)
	assert.Equal(t, snapshot.CoilOff, dc.States[0])
	assert.Equal(t, snapshot.CoilOff, dc.States[7])
	assert.Equal(t, snapshot.CoilUnknown, dc.States[1])
}

func TestBlinker_RetriesRecoverableErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ex := &fakeExchanger{failures: []error{modbus.Timeout(), modbus.ChecksumMismatch(1, 2), modbus.Transport("read", assert.AnError)}}
	b := NewBlinker(Deps{Exchanger: ex, Logger: zap.New(core), Retry: fastRetry}, config.BlinkConfig{
		Address: 1,
		Coils:   []int{1},
		Cycles:  1,
	})

	require.NoError(t, b.Run(context.Background()))

	// Three failed attempts, then on and off.
	assert.Len(t, ex.snapshot(), 5)
	assert.Equal(t, 2, logs.FilterMessage("Exchange failed").FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("Exchange failed").FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestBlinker_InvalidArgumentStops(t *testing.T) {
	ex := &fakeExchanger{}
	b := NewBlinker(Deps{Exchanger: ex, Retry: fastRetry}, config.BlinkConfig{
		Address: 1,
		Coils:   []int{1, 9},
		Cycles:  3,
	})

	err := b.Run(context.Background())
	assert.ErrorIs(t, err, modbus.ErrInvalidArgument)
	assert.Len(t, ex.snapshot(), 1)
}

func TestBlinker_StopsOnCancel(t *testing.T) {
	ex := &fakeExchanger{}
	b := NewBlinker(Deps{Exchanger: ex, Retry: fastRetry}, config.BlinkConfig{
		Address: 1,
		Coils:   []int{1},
		On:      time.Millisecond,
		Off:     time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ex.snapshot()) >= 4 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blinker did not stop")
	}
}

func TestBlinker_Update(t *testing.T) {
	ex := &fakeExchanger{}
	b := NewBlinker(Deps{Exchanger: ex, Retry: fastRetry}, config.BlinkConfig{
		Address: 1,
		Coils:   []int{1},
		On:      time.Millisecond,
		Off:     time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ex.snapshot()) >= 2 }, time.Second, time.Millisecond)
	b.Update(config.BlinkConfig{Address: 5, Coils: []int{3}, On: time.Millisecond, Off: time.Millisecond})
	require.Eventually(t, func() bool {
		calls := ex.snapshot()
		return calls[len(calls)-1].addr == 5
	}, time.Second, time.Millisecond)

	calls := ex.snapshot()
	assert.Equal(t, byte(0x12), calls[len(calls)-1].payload[1])
	cancel()
	assert.NoError(t, <-done)
}

func TestPoller(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ex := &fakeExchanger{regs: []uint16{2}}
	store := memoryStore(t)
	at := time.Unix(1700000000, 0)
	p := NewPoller(Deps{Exchanger: ex, Logger: zap.New(core), Retry: fastRetry, Store: store, Now: func() time.Time { return at }},
		config.PollConfig{Address: 4, Register: 0x2000, Count: 1, Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return logs.FilterMessage("Registers read").Len() >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	entry := logs.FilterMessage("Registers read").All()[0]
	assert.Equal(t, int64(19200), entry.ContextMap()["baud_rate"])

	calls := ex.snapshot()
	assert.Equal(t, []byte{0x20, 0x00, 0x00, 0x01}, calls[0].payload)

	w, err := store.State().Registers(4)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2000), w.Start)
	assert.Equal(t, []uint16{2}, w.Values)
	assert.True(t, at.Equal(w.Updated))
}

func TestPoller_UnknownBaudCodeIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ex := &fakeExchanger{regs: []uint16{9}}
	p := NewPoller(Deps{Exchanger: ex, Logger: zap.New(core), Retry: fastRetry},
		config.PollConfig{Address: 1, Register: 0x2000, Count: 1, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return logs.FilterMessage("Registers read").Len() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Contains(t, logs.All()[0].ContextMap()["baud_rate"], "unknown value")
}

func TestPoller_RetriesThenReads(t *testing.T) {
	ex := &fakeExchanger{regs: []uint16{1, 2, 3}, failures: []error{modbus.Timeout(), modbus.AddressMismatch(2, 1)}}
	store := memoryStore(t)
	p := NewPoller(Deps{Exchanger: ex, Retry: fastRetry, Store: store},
		config.PollConfig{Address: 1, Register: 0x0100, Count: 3, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ex.snapshot()) == 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	w, err := store.State().Registers(1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3}, w.Values)
}

func TestPoller_InvalidCountStops(t *testing.T) {
	ex := &fakeExchanger{}
	p := NewPoller(Deps{Exchanger: ex, Retry: fastRetry},
		config.PollConfig{Address: 1, Register: 0, Count: 0, Interval: time.Millisecond})

	assert.ErrorIs(t, p.Run(context.Background()), modbus.ErrInvalidArgument)
	assert.Empty(t, ex.snapshot())
}
