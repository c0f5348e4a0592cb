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

// Package fakerpc is a test-only, in-memory implementation of
// meta.MasterClient and rpcchannel.Dialer/Channel, grounded on the
// teacher's own fixture-driven test style (tests/state_test_util.go): it
// drives tablet/scan's end-to-end tests without a real cluster (spec §6).
package fakerpc

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/erigontech/tablestore/tablet/meta"
	"github.com/erigontech/tablestore/tablet/rpcchannel"
	"github.com/erigontech/tablestore/tablet/rpcpb"
	"github.com/erigontech/tablestore/tablet/tserr"
)

// Row is one logical (encoded-key, wire-row-bytes) pair held by a Tablet.
type Row struct {
	Key  []byte // KeyCodec-encoded primary key, used for range filtering
	Wire []byte // the row's already wire-encoded bytes (fixed-width portion)
}

// Tablet is one fake tablet's static data: its location plus the rows it
// holds, already sorted by Key.
type Tablet struct {
	ID         []byte
	LowerBound []byte
	UpperBound []byte
	Host       string // the single fake replica serving this tablet
	Port       int
	Rows       []Row
}

// Addr is the replica address meta.Replica.Addr() derives from Host/Port,
// used as the fake Dialer's lookup key so the two stay in sync.
func (t *Tablet) Addr() string { return net.JoinHostPort(t.Host, strconv.Itoa(t.Port)) }

// Cluster is an in-memory stand-in for a whole table: a fixed set of
// tablets and the open scanners currently active against them. It
// implements meta.MasterClient and rpcchannel.Dialer directly (the
// Channels it dials are its own unexported type), so one value can be
// handed to both meta.New and rpc.NewDriver.
type Cluster struct {
	Table     string
	BatchSize int

	mu       sync.Mutex
	tablets  []*Tablet
	byAddr   map[string]*Tablet
	scanners map[string]*scannerState
	nextID   int
}

type scannerState struct {
	tablet          *Tablet
	rows            []Row
	pos             int
	lastSeq         uint32
	emptyProjection bool // opened with no projected columns
}

func NewCluster(table string, batchSize int, tablets []*Tablet) *Cluster {
	byAddr := make(map[string]*Tablet, len(tablets))
	for _, t := range tablets {
		byAddr[t.Addr()] = t
	}
	return &Cluster{
		Table:     table,
		BatchSize: batchSize,
		tablets:   tablets,
		byAddr:    byAddr,
		scanners:  make(map[string]*scannerState),
	}
}

// GetTableLocations implements meta.MasterClient.
func (c *Cluster) GetTableLocations(ctx context.Context, table string, startKey []byte, maxReturned int) ([]meta.TabletLocation, []byte, error) {
	var out []meta.TabletLocation
	for _, t := range c.tablets {
		if len(t.UpperBound) > 0 && bytes.Compare(t.UpperBound, startKey) < 0 {
			continue
		}
		out = append(out, meta.TabletLocation{
			Id:         meta.NewTabletId(t.ID),
			LowerBound: t.LowerBound,
			UpperBound: t.UpperBound,
			Replicas:   []meta.ReplicaDescriptor{{Host: t.Host, Port: t.Port, Role: meta.RoleLeader}},
		})
		if len(out) >= maxReturned {
			break
		}
	}
	return out, nil, nil
}

// Dial implements rpcchannel.Dialer: addr identifies exactly one tablet.
func (c *Cluster) Dial(ctx context.Context, addr string) (rpcchannel.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.byAddr[addr]
	if !ok {
		return nil, tserr.Rpc(tserr.CodeUnavailable, "fakerpc: no tablet at "+addr)
	}
	return &channel{cluster: c, addr: addr, tablet: t}, nil
}

type channel struct {
	cluster *Cluster
	addr    string
	tablet  *Tablet
}

func (ch *channel) Addr() string { return ch.addr }

func (ch *channel) OpenScan(ctx context.Context, req *rpcpb.OpenScanRequest) (*rpcpb.OpenScanResponse, [][]byte, error) {
	ch.cluster.mu.Lock()
	defer ch.cluster.mu.Unlock()

	rows := filterRows(ch.tablet.Rows, req.StartPrimaryKey, req.StopPrimaryKey)
	ch.cluster.nextID++
	scannerID := []byte(fmt.Sprintf("%s-scanner-%d", ch.addr, ch.cluster.nextID))

	st := &scannerState{tablet: ch.tablet, rows: rows, lastSeq: 0, emptyProjection: len(req.ProjectedColumns) == 0}
	batch, hasMore := st.take(ch.cluster.BatchSize)
	header := rpcpb.ScanResponseHeader{
		NumRows:                  int64(len(batch)),
		RowsSidecarIndex:         0,
		IndirectDataSidecarIndex: -1,
		HasMoreResults:           hasMore,
	}
	if hasMore {
		header.ScannerId = scannerID
		ch.cluster.scanners[string(scannerID)] = st
	}
	return &rpcpb.OpenScanResponse{Header: header}, [][]byte{st.rowsSidecar(batch)}, nil
}

func (ch *channel) ContinueScan(ctx context.Context, req *rpcpb.ContinueScanRequest) (*rpcpb.ContinueScanResponse, [][]byte, error) {
	ch.cluster.mu.Lock()
	defer ch.cluster.mu.Unlock()

	st, ok := ch.cluster.scanners[string(req.ScannerId)]
	if !ok {
		return nil, nil, tserr.RpcReason(tserr.ReasonNotFound, "fakerpc: unknown scanner")
	}
	if req.CallSeqId != st.lastSeq+1 {
		return nil, nil, tserr.InvalidArgument("fakerpc: out-of-order call_seq_id %d, expected %d", req.CallSeqId, st.lastSeq+1)
	}
	st.lastSeq = req.CallSeqId

	batch, hasMore := st.take(ch.cluster.BatchSize)
	if !hasMore {
		delete(ch.cluster.scanners, string(req.ScannerId))
	}
	header := rpcpb.ScanResponseHeader{
		NumRows:                  int64(len(batch)),
		RowsSidecarIndex:         0,
		IndirectDataSidecarIndex: -1,
		HasMoreResults:           hasMore,
	}
	return &rpcpb.ContinueScanResponse{Header: header}, [][]byte{st.rowsSidecar(batch)}, nil
}

func (ch *channel) CloseScan(ctx context.Context, req *rpcpb.CloseScanRequest) error {
	ch.cluster.mu.Lock()
	defer ch.cluster.mu.Unlock()
	delete(ch.cluster.scanners, string(req.ScannerId))
	return nil
}

func (st *scannerState) take(batchSize int) ([]Row, bool) {
	if batchSize <= 0 {
		batchSize = 1
	}
	end := st.pos + batchSize
	if end > len(st.rows) {
		end = len(st.rows)
	}
	batch := st.rows[st.pos:end]
	st.pos = end
	return batch, st.pos < len(st.rows)
}

// rowsSidecar builds the rows sidecar for batch: empty for a scanner opened
// with no projected columns (its row length is 0), otherwise every row's
// stored Wire bytes unchanged, whatever columns were projected.
func (st *scannerState) rowsSidecar(batch []Row) []byte {
	if st.emptyProjection {
		return nil
	}
	return concatWire(batch)
}

func filterRows(rows []Row, start, stop []byte) []Row {
	var out []Row
	for _, r := range rows {
		if len(start) > 0 && bytes.Compare(r.Key, start) < 0 {
			continue
		}
		if len(stop) > 0 && bytes.Compare(r.Key, stop) >= 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}

func concatWire(rows []Row) []byte {
	var out []byte
	for _, r := range rows {
		out = append(out, r.Wire...)
	}
	return out
}
