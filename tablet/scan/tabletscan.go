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

package scan

import (
	"context"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/tablestore/tablet/meta"
	"github.com/erigontech/tablestore/tablet/rpc"
	"github.com/erigontech/tablestore/tablet/rpcchannel"
	"github.com/erigontech/tablestore/tablet/rpcpb"
	"github.com/erigontech/tablestore/tablet/wire"
)

// tabletScan is the TabletScan sub-state-machine (spec §4.5's New/Continue
// states): one open-scan followed by zero or more continue-scan calls, all
// pinned to whichever replica answered the open-scan.
type tabletScan struct {
	tablet    *meta.Tablet
	channel   rpcchannel.Channel
	scannerID []byte
	callSeq   uint32
	hasMore   bool
}

// openTabletScan issues the open-scan RPC with the staggered speculation
// and closest-replica selection spec §4.5 mandates for `New`, and decodes
// the first RowBatch of the response.
func openTabletScan(ctx context.Context, s *Scan, tablet *meta.Tablet) (*tabletScan, *wire.RowBatch, error) {
	req := &rpcpb.OpenScanRequest{
		TabletId:         tablet.Id.Bytes(),
		ProjectedColumns: s.wireColumns,
		StartPrimaryKey:  s.lowerBound,
		StopPrimaryKey:   effectiveStop(s.stopKey, tablet.UpperBound),
		ReadMode:         s.opts.ReadMode,
		Deadline:         s.opts.Deadline,
	}
	invoke := func(ctx context.Context, ch rpcchannel.Channel) (*rpcpb.OpenScanResponse, [][]byte, error) {
		return ch.OpenScan(ctx, req)
	}
	resp, ch, sidecars, err := rpc.Execute(ctx, s.driver, s.table, rpc.ForTablet(tablet), s.opts.Deadline,
		rpc.SelectionClosest, rpc.StaggeredSpeculation(100*time.Millisecond), invoke)
	if err != nil {
		return nil, nil, err
	}
	batch, err := wire.Decode(s.projection, resp.Header, sidecars)
	if err != nil {
		return nil, nil, err
	}
	ts := &tabletScan{
		tablet:    tablet,
		channel:   ch,
		scannerID: resp.Header.ScannerId,
		callSeq:   0,
		hasMore:   resp.Header.HasMoreResults,
	}
	return ts, batch, nil
}

// cont issues the next continue-scan RPC, pinned to the replica that
// answered the open-scan (spec §4.5's Continue state and §8's
// "continuation pinning" property): Speculation::Full against that one
// channel. With a single candidate the per-attempt timeout never starts a
// second attempt; a transient failure is retried on the same channel after
// backoff, until the deadline.
func (ts *tabletScan) cont(ctx context.Context, s *Scan) (*wire.RowBatch, error) {
	ts.callSeq++
	req := &rpcpb.ContinueScanRequest{
		ScannerId: ts.scannerID,
		CallSeqId: ts.callSeq,
		Deadline:  s.opts.Deadline,
	}
	invoke := func(ctx context.Context, ch rpcchannel.Channel) (*rpcpb.ContinueScanResponse, [][]byte, error) {
		return ch.ContinueScan(ctx, req)
	}
	resp, _, sidecars, err := rpc.Execute(ctx, s.driver, s.table, rpc.ForProxy(ts.channel), s.opts.Deadline,
		rpc.SelectionLeader, rpc.FullSpeculation(), invoke)
	if err != nil {
		return nil, err
	}
	batch, err := wire.Decode(s.projection, resp.Header, sidecars)
	if err != nil {
		return nil, err
	}
	ts.hasMore = resp.Header.HasMoreResults
	return batch, nil
}

// close issues a best-effort close-scan against the pinned channel
// (SPEC_FULL.md §A.3) in the background, bounded by a deadline of its own,
// and returns without waiting for it; a failure is logged, not returned.
func (ts *tabletScan) close(deadline time.Duration, logger log.Logger) {
	ch, scannerID := ts.channel, ts.scannerID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deadline)
		defer cancel()
		if err := ch.CloseScan(ctx, &rpcpb.CloseScanRequest{ScannerId: scannerID}); err != nil {
			logger.Debug("scan: best-effort close-scan failed", "err", err)
		}
	}()
}

func effectiveStop(scanStop, tabletUpper []byte) []byte {
	if len(scanStop) == 0 {
		return tabletUpper
	}
	if len(tabletUpper) == 0 {
		return scanStop
	}
	if bytesLess(scanStop, tabletUpper) {
		return scanStop
	}
	return tabletUpper
}
