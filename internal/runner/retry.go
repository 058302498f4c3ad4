// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package runner

import (
	"context"
	"math/rand"
	"time"

	"github.com/ffutop/relayctl/internal/config"
)

// minRetryDelay is the shortest wait after a failed exchange, whatever the
// retry configuration says.
const minRetryDelay = 5 * time.Millisecond

// retryDelay spaces out attempts after consecutive failures. The wait after
// the n-th failure in a row is base<<n, capped at ceiling and spread by up to
// a fifth either way.
type retryDelay struct {
	base     time.Duration
	ceiling  time.Duration
	failures int
}

func newRetryDelay(cfg config.RetryConfig) *retryDelay {
	base := max(cfg.Initial, minRetryDelay)
	return &retryDelay{base: base, ceiling: max(cfg.Max, base)}
}

// next is the unspread length of the coming wait.
func (r *retryDelay) next() time.Duration {
	if r.failures >= 32 {
		return r.ceiling
	}
	d := r.base << r.failures
	if d <= 0 || d > r.ceiling {
		return r.ceiling
	}
	return d
}

// wait counts a failure and sleeps it off, returning early with ctx's error.
func (r *retryDelay) wait(ctx context.Context) error {
	d := spread(r.next())
	r.failures++
	if !sleep(ctx, d) {
		return ctx.Err()
	}
	return nil
}

// succeeded restarts the sequence at base.
func (r *retryDelay) succeeded() {
	r.failures = 0
}

// spread moves d by a random amount within ±20%.
func spread(d time.Duration) time.Duration {
	return d + time.Duration((rand.Float64()*0.4-0.2)*float64(d))
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
