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

// Package rpcchannel defines the generic request/response-with-sidecars
// channel the core consumes (spec §6): a working request/response
// transport is assumed, framing and negotiation are out of scope. The
// scan engine depends only on this interface, never on a concrete
// transport, the way Vitess's queryservice.QueryService or CockroachDB's
// client.Sender let the KV layer stay transport-agnostic.
package rpcchannel

import (
	"context"

	"github.com/erigontech/tablestore/tablet/rpcpb"
)

// Channel is bound to one concrete replica connection. A Tablet-targeted
// ReplicaRpc picks a Channel per attempt via a Dialer; a continuation RPC
// reuses the exact Channel that served the prior request (spec §4.3's
// Proxy case).
type Channel interface {
	// Addr identifies the replica this channel is bound to; tablet/rpc
	// uses it for per-replica bookkeeping.
	Addr() string

	OpenScan(ctx context.Context, req *rpcpb.OpenScanRequest) (*rpcpb.OpenScanResponse, [][]byte, error)
	ContinueScan(ctx context.Context, req *rpcpb.ContinueScanRequest) (*rpcpb.ContinueScanResponse, [][]byte, error)
	CloseScan(ctx context.Context, req *rpcpb.CloseScanRequest) error
}

// Dialer resolves a replica address to a Channel. Real implementations
// pool connections; dialing the same address twice should be cheap.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Channel, error)
}
