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

// Package rpc implements ReplicaRpc (spec §4.3): the driver that turns one
// logical request against a Target into one or more physical attempts
// against replica channels, with selection, optional speculative racing,
// backoff between rounds, and outcome-driven feedback into tablet/meta.
package rpc

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/erigontech/erigon-lib/log/v3"

	tsbackoff "github.com/erigontech/tablestore/tablet/backoff"
	"github.com/erigontech/tablestore/tablet/meta"
	"github.com/erigontech/tablestore/tablet/rpcchannel"
	"github.com/erigontech/tablestore/tablet/tserr"
)

// InvalidationSink receives tablet-gone feedback so the owning MetaCache
// can drop its stale entry. tablet/meta.MetaCache satisfies this directly.
type InvalidationSink interface {
	Invalidate(table string, t *meta.Tablet)
}

// Driver holds what's shared across every call issued against a given
// cluster connection: how to dial replicas, where to report tablet-gone
// feedback, and the backoff/timeout policy between rounds.
type Driver struct {
	Dialer            rpcchannel.Dialer
	Sink              InvalidationSink
	BackoffOpts       tsbackoff.Options
	PerAttemptTimeout time.Duration
	LocalHost         string // preferred host for SelectionClosest; optional
	Log               log.Logger
}

func NewDriver(dialer rpcchannel.Dialer) *Driver {
	return &Driver{
		Dialer:            dialer,
		BackoffOpts:       tsbackoff.DefaultOptions(),
		PerAttemptTimeout: 10 * time.Second,
		Log:               log.Root(),
	}
}

type attemptResult[Resp any] struct {
	resp     Resp
	ch       rpcchannel.Channel
	sidecars [][]byte
	err      error
	addr     string
}

type attemptOutcome int

const (
	outcomeTransient attemptOutcome = iota
	outcomeNotLeader
	outcomeTabletGone
	outcomeTerminal // fatal or timed-out: fail the logical call now, never retried
)

func classifyAttemptError(err error) attemptOutcome {
	var e *tserr.Error
	if !errors.As(err, &e) {
		return outcomeTerminal
	}
	switch {
	case e.Kind == tserr.KindRpc && e.Reason == tserr.ReasonNotTheLeader:
		return outcomeNotLeader
	case e.Kind == tserr.KindRpc && (e.Reason == tserr.ReasonNotFound || e.Reason == tserr.ReasonIllegalState):
		return outcomeTabletGone
	case e.Kind == tserr.KindIo:
		return outcomeTransient
	case e.Kind == tserr.KindRpc && e.Code == tserr.CodeServerTooBusy:
		return outcomeTransient
	default:
		// Serialization, Negotiation, InvalidArgument, TimedOut, and every
		// other Rpc code (including fatal-to-connection ones) end the
		// logical call immediately; none of these are retried locally.
		return outcomeTerminal
	}
}

// candidateChannel pairs a replica address with however we reach it: a
// freshly dialed Channel for a Tablet target, or the single pinned Channel
// for a Proxy target.
type candidateChannel struct {
	addr string
	ch   rpcchannel.Channel
}

func (d *Driver) buildCandidates(ctx context.Context, target Target, selection Selection, dead map[string]bool) ([]candidateChannel, error) {
	if target.isProxy() {
		return []candidateChannel{{addr: target.proxy.Addr(), ch: target.proxy}}, nil
	}
	replicas := candidates(target.tablet, selection, d.LocalHost, dead)
	out := make([]candidateChannel, 0, len(replicas))
	for _, r := range replicas {
		ch, err := d.Dialer.Dial(ctx, r.Addr())
		if err != nil {
			continue // unreachable replica: skip, not fatal to the whole round
		}
		out = append(out, candidateChannel{addr: r.Addr(), ch: ch})
	}
	return out, nil
}

func (d *Driver) markSuccess(target Target, addr string) {
	if target.isProxy() {
		return
	}
	for _, r := range target.tablet.Replicas() {
		if r.Addr() == addr {
			r.MarkAlive()
			return
		}
	}
}

func (d *Driver) markDead(target Target, dead map[string]bool, addr string) {
	dead[addr] = true
	if target.isProxy() {
		return
	}
	for _, r := range target.tablet.Replicas() {
		if r.Addr() == addr {
			r.MarkDead()
			return
		}
	}
}

// Execute drives one logical RPC to completion against target, invoking
// invoke once per physical attempt. It returns the response, the channel
// that produced it (so a continuation can pin to the same replica), and
// any sidecars returned alongside the response.
func Execute[Resp any](
	ctx context.Context,
	d *Driver,
	table string,
	target Target,
	deadline time.Time,
	selection Selection,
	spec Speculation,
	invoke func(ctx context.Context, ch rpcchannel.Channel) (Resp, [][]byte, error),
) (Resp, rpcchannel.Channel, [][]byte, error) {
	var zero Resp

	callCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	bo := tsbackoff.New(d.BackoffOpts)
	dead := make(map[string]bool)

	for {
		resp, ch, sidecars, err, exhausted := runRound(callCtx, d, table, target, selection, spec, dead, invoke)
		if err == nil {
			bo.Reset()
			return resp, ch, sidecars, nil
		}
		if !exhausted {
			// A terminal or tablet-gone outcome: fail the logical call now.
			return zero, nil, nil, err
		}
		d.Log.Debug("rpc: round exhausted, backing off", "table", table, "err", err)
		if werr := bo.Wait(callCtx); werr != nil {
			return zero, nil, nil, werr
		}
	}
}

// runRound runs one full set of attempts against the candidates available
// right now. It returns exhausted=true when every candidate failed with a
// retriable-at-the-round-level outcome, meaning the caller should back off
// and start a fresh round (re-deriving candidates, e.g. after a leader
// change); exhausted=false means the error is final for this call.
func runRound[Resp any](
	ctx context.Context,
	d *Driver,
	table string,
	target Target,
	selection Selection,
	spec Speculation,
	dead map[string]bool,
	invoke func(ctx context.Context, ch rpcchannel.Channel) (Resp, [][]byte, error),
) (resp Resp, ch rpcchannel.Channel, sidecars [][]byte, err error, exhausted bool) {
	cands, buildErr := d.buildCandidates(ctx, target, selection, dead)
	if buildErr != nil {
		return resp, nil, nil, buildErr, false
	}
	if len(cands) == 0 {
		return resp, nil, nil, tserr.Rpc(tserr.CodeUnavailable, "no eligible replicas for "+table), true
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	// Attempts are launched via errgroup rather than bare goroutines, the
	// way erigon-lib fans out concurrent work elsewhere; the group is
	// reaped in the background so a winning reply doesn't block this
	// round's return on stragglers still honoring attemptCtx's deadline.
	defer func() {
		cancel()
		go func() { _ = g.Wait() }()
	}()

	results := make(chan attemptResult[Resp], len(cands))
	launch := func(c candidateChannel) {
		g.Go(func() error {
			r, sc, ierr := invoke(attemptCtx, c.ch)
			select {
			case results <- attemptResult[Resp]{resp: r, ch: c.ch, sidecars: sc, err: ierr, addr: c.addr}:
			case <-attemptCtx.Done():
			}
			return nil
		})
	}

	idx := 0
	launch(cands[idx])
	idx++

	var timerC <-chan time.Time
	var timer *time.Timer
	switch spec.Kind {
	case SpecFull:
		timer = time.NewTimer(d.PerAttemptTimeout)
		timerC = timer.C
	case SpecStaggered:
		timer = time.NewTimer(spec.Stagger)
		timerC = timer.C
	}
	if timer != nil {
		defer timer.Stop()
	}

	var lastErr error
	inFlight := 1
	for inFlight > 0 {
		select {
		case r := <-results:
			inFlight--
			if r.err == nil {
				d.markSuccess(target, r.addr)
				return r.resp, r.ch, r.sidecars, nil, false
			}
			lastErr = r.err
			switch classifyAttemptError(r.err) {
			case outcomeTabletGone:
				if d.Sink != nil && target.tablet != nil {
					d.Sink.Invalidate(table, target.tablet)
				}
				return resp, nil, nil, r.err, false
			case outcomeTerminal:
				return resp, nil, nil, r.err, false
			case outcomeNotLeader:
				if target.tablet != nil {
					target.tablet.InvalidateLeader()
				}
				d.markDead(target, dead, r.addr)
			case outcomeTransient:
				d.markDead(target, dead, r.addr)
			}
			if idx < len(cands) {
				launch(cands[idx])
				idx++
				inFlight++
			}
		case <-timerC:
			timerC = nil
			if idx < len(cands) {
				launch(cands[idx])
				idx++
				inFlight++
				if spec.Kind == SpecFull {
					timer.Reset(d.PerAttemptTimeout)
					timerC = timer.C
				}
			}
		case <-ctx.Done():
			return resp, nil, nil, tserr.TimedOut("rpc deadline exceeded"), false
		}
	}

	if lastErr == nil {
		lastErr = tserr.Rpc(tserr.CodeUnavailable, "all replicas exhausted for "+table)
	}
	return resp, nil, nil, lastErr, true
}
