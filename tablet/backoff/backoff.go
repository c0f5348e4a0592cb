// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package backoff implements the exponential-with-jitter retry policy
// shared by tablet/rpc and tablet/meta (spec §4.6): attempt n waits
// min(base*2^(n-1), cap) * uniform(0.5, 1.5), reset on success, and every
// wait honors an external deadline.
package backoff

import (
	"context"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"

	"github.com/erigontech/tablestore/tablet/tserr"
)

// Options configures a Policy. Zero value is not valid; use DefaultOptions.
type Options struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultOptions matches spec §4.6: base ~10ms, cap ~5s.
func DefaultOptions() Options {
	return Options{Base: 10 * time.Millisecond, Cap: 5 * time.Second}
}

// Policy wraps cenkalti/backoff's ExponentialBackOff to add deadline
// awareness: Wait fails TimedOut immediately if the next computed wake
// time would exceed the caller's deadline, rather than sleeping past it.
type Policy struct {
	eb *cenkalti.ExponentialBackOff
}

// New builds a Policy from Options.
func New(opts Options) *Policy {
	eb := cenkalti.NewExponentialBackOff()
	eb.InitialInterval = opts.Base
	eb.MaxInterval = opts.Cap
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.5 // uniform(0.5, 1.5) around the computed interval
	eb.MaxElapsedTime = 0        // the caller's context deadline is the real bound
	eb.Reset()
	return &Policy{eb: eb}
}

// Reset clears the attempt counter, as if no failures had occurred. Called
// on every successful ReplicaRpc attempt per spec §4.3.
func (p *Policy) Reset() { p.eb.Reset() }

// Next returns the next backoff interval. It never returns cenkalti's
// "stop" sentinel because MaxElapsedTime is disabled; the deadline is
// enforced by Wait instead.
func (p *Policy) Next() time.Duration {
	return p.eb.NextBackOff()
}

// Wait sleeps for the next backoff interval, or returns a TimedOut error
// immediately if that interval would cross ctx's deadline (or ctx's
// deadline has already passed). It also returns ctx.Err() if ctx is
// cancelled while waiting.
func (p *Policy) Wait(ctx context.Context) error {
	d := p.Next()
	if deadline, ok := ctx.Deadline(); ok {
		if time.Now().Add(d).After(deadline) {
			return tserr.TimedOut("backoff interval would exceed call deadline")
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
