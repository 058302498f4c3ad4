// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package runner

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ffutop/relayctl/internal/config"
	"github.com/ffutop/relayctl/internal/snapshot"
	"github.com/ffutop/relayctl/modbus"
	"github.com/ffutop/relayctl/relay"
)

// Blinker switches a set of coils on, holds, switches them off, holds, and
// repeats.
type Blinker struct {
	deps Deps

	mu  sync.Mutex
	cfg config.BlinkConfig
}

func NewBlinker(deps Deps, cfg config.BlinkConfig) *Blinker {
	return &Blinker{deps: deps, cfg: cfg}
}

// Update replaces the configuration. It takes effect at the next step.
func (b *Blinker) Update(cfg config.BlinkConfig) {
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
}

func (b *Blinker) config() config.BlinkConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Run blinks until ctx is done or the configured number of cycles is
// complete. It returns nil in both cases.
func (b *Blinker) Run(ctx context.Context) error {
	log := b.deps.logger()
	backoff := b.deps.backoff()
	on := true
	for cycle := 0; ; {
		cfg := b.config()
		if cfg.Cycles > 0 && cycle >= cfg.Cycles {
			log.Info("Blink finished", zap.Int("cycles", cycle))
			return nil
		}

		if err := b.step(ctx, cfg, on); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err := b.deps.retry(ctx, backoff, err, zap.Uint8("address", cfg.Address), zap.Bool("on", on)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}
		backoff.succeeded()

		hold := cfg.On
		if !on {
			hold = cfg.Off
			cycle++
		}
		on = !on
		if !sleep(ctx, hold) {
			return nil
		}
	}
}

func (b *Blinker) step(ctx context.Context, cfg config.BlinkConfig, on bool) error {
	board := relay.Board{Exchanger: b.deps.Exchanger, Address: modbus.Address(cfg.Address)}
	for _, coil := range cfg.Coils {
		if err := board.SetCoil(ctx, coil, on); err != nil {
			return fmt.Errorf("coil %d: %w", coil, err)
		}
		b.deps.logger().Debug("Coil set", zap.Uint8("address", cfg.Address), zap.Int("coil", coil), zap.Bool("on", on))
		b.deps.record(func(s *snapshot.Store) error {
			return s.RecordCoil(board.Address, coil, on, b.deps.now())
		})
	}
	return nil
}
