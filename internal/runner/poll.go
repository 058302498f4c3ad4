// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package runner

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ffutop/relayctl/internal/config"
	"github.com/ffutop/relayctl/internal/snapshot"
	"github.com/ffutop/relayctl/modbus"
	"github.com/ffutop/relayctl/relay"
)

// Poller reads a window of holding registers at a fixed interval.
type Poller struct {
	deps Deps

	mu  sync.Mutex
	cfg config.PollConfig
}

func NewPoller(deps Deps, cfg config.PollConfig) *Poller {
	return &Poller{deps: deps, cfg: cfg}
}

// Update replaces the configuration. It takes effect at the next read.
func (p *Poller) Update(cfg config.PollConfig) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *Poller) config() config.PollConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	log := p.deps.logger()
	backoff := p.deps.backoff()
	for {
		cfg := p.config()
		board := relay.Board{Exchanger: p.deps.Exchanger, Address: modbus.Address(cfg.Address)}
		fields := []zap.Field{zap.Uint8("address", cfg.Address), zap.Uint16("register", cfg.Register)}

		values, err := board.Registers(ctx, cfg.Register, cfg.Count)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err := p.deps.retry(ctx, backoff, err, fields...); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}
		backoff.succeeded()

		fields = append(fields, zap.Uint16s("values", values))
		if cfg.Register == relay.BaudRateRegister {
			if rate, err := relay.BaudRate(values[0]); err != nil {
				fields = append(fields, zap.NamedError("baud_rate", err))
			} else {
				fields = append(fields, zap.Int("baud_rate", rate))
			}
		}
		log.Info("Registers read", fields...)

		p.deps.record(func(s *snapshot.Store) error {
			return s.RecordRegisters(board.Address, cfg.Register, values, p.deps.now())
		})

		if !sleep(ctx, cfg.Interval) {
			return nil
		}
	}
}
