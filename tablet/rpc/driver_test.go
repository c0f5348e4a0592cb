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

package rpc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/stretchr/testify/require"

	tsbackoff "github.com/erigontech/tablestore/tablet/backoff"
	"github.com/erigontech/tablestore/tablet/meta"
	"github.com/erigontech/tablestore/tablet/rpcchannel"
	"github.com/erigontech/tablestore/tablet/rpcpb"
	"github.com/erigontech/tablestore/tablet/tserr"
)

// fakeChannel answers OpenScan after a configured delay, optionally
// failing. It implements only what these tests exercise.
type fakeChannel struct {
	addr    string
	delay   time.Duration
	failErr error
	calls   atomic.Int64
}

func (f *fakeChannel) Addr() string { return f.addr }

func (f *fakeChannel) OpenScan(ctx context.Context, req *rpcpb.OpenScanRequest) (*rpcpb.OpenScanResponse, [][]byte, error) {
	f.calls.Add(1)
	t := time.NewTimer(f.delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, nil, tserr.TimedOut("canceled")
	}
	if f.failErr != nil {
		return nil, nil, f.failErr
	}
	return &rpcpb.OpenScanResponse{Header: rpcpb.ScanResponseHeader{NumRows: 1}}, nil, nil
}

func (f *fakeChannel) ContinueScan(ctx context.Context, req *rpcpb.ContinueScanRequest) (*rpcpb.ContinueScanResponse, [][]byte, error) {
	f.calls.Add(1)
	return &rpcpb.ContinueScanResponse{Header: rpcpb.ScanResponseHeader{NumRows: 1}}, nil, nil
}

func (f *fakeChannel) CloseScan(ctx context.Context, req *rpcpb.CloseScanRequest) error { return nil }

type fakeDialer struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
}

func newFakeDialer() *fakeDialer { return &fakeDialer{channels: make(map[string]*fakeChannel)} }

func (d *fakeDialer) set(addr string, ch *fakeChannel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[addr] = ch
}

func (d *fakeDialer) Dial(ctx context.Context, addr string) (rpcchannel.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[addr]
	if !ok {
		return nil, tserr.Io(context.DeadlineExceeded)
	}
	return ch, nil
}

func testTablet(t *testing.T, dialer *fakeDialer, addrs ...string) *meta.Tablet {
	t.Helper()
	var replicas []*meta.Replica
	for i, a := range addrs {
		role := meta.RoleFollower
		if i == 0 {
			role = meta.RoleLeader
		}
		host, port := a, 1
		replicas = append(replicas, meta.NewReplica(host, port, role))
	}
	return meta.NewTablet(meta.NewTabletId([]byte{'x'}), nil, nil, replicas)
}

func openScanInvoke(req *rpcpb.OpenScanRequest) func(ctx context.Context, ch rpcchannel.Channel) (*rpcpb.OpenScanResponse, [][]byte, error) {
	return func(ctx context.Context, ch rpcchannel.Channel) (*rpcpb.OpenScanResponse, [][]byte, error) {
		return ch.(*fakeChannel).OpenScan(ctx, req)
	}
}

func newTestDriver(dialer *fakeDialer) *Driver {
	d := NewDriver(dialer)
	d.PerAttemptTimeout = 30 * time.Millisecond
	d.BackoffOpts = tsbackoff.Options{Base: time.Millisecond, Cap: 10 * time.Millisecond}
	d.Log = log.Root()
	return d
}

// TestSpeculationTieBreak exercises the spec §8 "speculation tie-breaking"
// property with a 50ms stagger: replica A answers after 500ms, replica B
// after 20ms. Closest selection tries them in random order; whether B goes
// first or starts once the stagger fires, B's reply wins and B is called
// exactly once.
func TestSpeculationTieBreak(t *testing.T) {
	dialer := newFakeDialer()
	slow := &fakeChannel{addr: "A", delay: 500 * time.Millisecond}
	fast := &fakeChannel{addr: "B", delay: 20 * time.Millisecond}
	dialer.set("A", slow)
	dialer.set("B", fast)

	tab := testTablet(t, dialer, "A", "B")
	d := newTestDriver(dialer)

	resp, ch, _, err := Execute(context.Background(), d, "t1", ForTablet(tab), time.Time{},
		SelectionClosest, StaggeredSpeculation(50*time.Millisecond), openScanInvoke(&rpcpb.OpenScanRequest{}))

	require.NoError(t, err)
	require.Equal(t, "B", ch.Addr())
	require.EqualValues(t, 1, resp.Header.NumRows)
	require.Equal(t, int64(1), fast.calls.Load())
}

// TestContinuationPinning exercises the spec §8 "continuation pinning"
// property: a ContinueScan-shaped call against a Proxy target always goes
// to the channel it was pinned to, never a different replica.
func TestContinuationPinning(t *testing.T) {
	dialer := newFakeDialer()
	pinned := &fakeChannel{addr: "pinned", delay: time.Millisecond}
	d := newTestDriver(dialer)

	resp, ch, _, err := Execute(context.Background(), d, "t1", ForProxy(pinned), time.Time{},
		SelectionLeader, NoSpeculation(),
		func(ctx context.Context, c rpcchannel.Channel) (*rpcpb.ContinueScanResponse, [][]byte, error) {
			return c.(*fakeChannel).ContinueScan(ctx, &rpcpb.ContinueScanRequest{})
		})

	require.NoError(t, err)
	require.Equal(t, "pinned", ch.Addr())
	require.EqualValues(t, 1, resp.Header.NumRows)
}

// TestNotLeaderInvalidatesAndFailsOver checks that a not-the-leader
// response clears the tablet's leader cache and the call fails over to a
// different replica rather than retrying the same one.
func TestNotLeaderInvalidatesAndFailsOver(t *testing.T) {
	dialer := newFakeDialer()
	stale := &fakeChannel{addr: "stale-leader", delay: time.Millisecond, failErr: tserr.RpcReason(tserr.ReasonNotTheLeader, "not leader")}
	real := &fakeChannel{addr: "real-leader", delay: time.Millisecond}
	dialer.set("stale-leader", stale)
	dialer.set("real-leader", real)

	tab := testTablet(t, dialer, "stale-leader", "real-leader")
	d := newTestDriver(dialer)

	resp, ch, _, err := Execute(context.Background(), d, "t1", ForTablet(tab), time.Time{},
		SelectionLeader, NoSpeculation(), openScanInvoke(&rpcpb.OpenScanRequest{}))

	require.NoError(t, err)
	require.Equal(t, "real-leader", ch.Addr())
	require.EqualValues(t, 1, resp.Header.NumRows)
	require.Nil(t, tab.Leader())
}

// TestTabletGoneInvalidatesSinkAndFailsCall checks that a tablet-gone
// response is not retried locally and that the sink is invoked.
func TestTabletGoneInvalidatesSinkAndFailsCall(t *testing.T) {
	dialer := newFakeDialer()
	gone := &fakeChannel{addr: "A", delay: time.Millisecond, failErr: tserr.RpcReason(tserr.ReasonNotFound, "tablet gone")}
	dialer.set("A", gone)

	tab := testTablet(t, dialer, "A")
	d := newTestDriver(dialer)

	var invalidated int
	d.Sink = invalidateFunc(func(table string, t *meta.Tablet) { invalidated++ })

	_, _, _, err := Execute(context.Background(), d, "t1", ForTablet(tab), time.Time{},
		SelectionClosest, NoSpeculation(), openScanInvoke(&rpcpb.OpenScanRequest{}))

	require.Error(t, err)
	require.True(t, tserr.IsTabletGone(err))
	require.Equal(t, 1, invalidated)
}

type invalidateFunc func(table string, t *meta.Tablet)

func (f invalidateFunc) Invalidate(table string, t *meta.Tablet) { f(table, t) }
