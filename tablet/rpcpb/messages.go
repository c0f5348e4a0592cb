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

// Package rpcpb holds the typed request/response shapes for the scan RPCs
// consumed by tablet/rpc and tablet/scan (spec §6). These are hand-written
// Go structs, not generated protobuf: wire framing and negotiation are out
// of this core's scope (spec §1), so the structs describe only the
// fields the core itself reads or writes.
package rpcpb

import (
	"time"

	"github.com/erigontech/tablestore/tablet/schema"
)

// Naming follows the method the request/response pair belongs to, the way
// erigon-lib/kv/tables.go names its table constants by the data they
// hold rather than by an incidental short code.
const (
	MethodOpenScan          = "open-scan"
	MethodContinueScan      = "continue-scan"
	MethodCloseScan         = "close-scan"
	MethodGetTableLocations = "get-table-locations"
)

// ReadMode selects the consistency the server applies while scanning.
type ReadMode int

const (
	ReadLatest ReadMode = iota
	ReadAtSnapshot
)

// ColumnSchema is the wire shape of one projected column in an open-scan
// request.
type ColumnSchema struct {
	Name     string
	Type     schema.DataType
	Nullable bool
}

// OpenScanRequest is the subset of fields required by the core (spec §6):
// predicates are out of scope and therefore not modeled here.
type OpenScanRequest struct {
	TabletId         []byte
	ProjectedColumns []ColumnSchema
	StartPrimaryKey  []byte // KeyCodec form; empty means -infinity
	StopPrimaryKey   []byte // KeyCodec form; empty means +infinity
	ReadMode         ReadMode
	Deadline         time.Time
}

// ContinueScanRequest carries the scanner_id returned by OpenScanResponse
// and a strictly increasing per-scanner call sequence number starting at 1.
type ContinueScanRequest struct {
	ScannerId []byte
	CallSeqId uint32
	Deadline  time.Time
}

// CloseScanRequest abandons a server-side scanner; issued best-effort on
// cancellation (SPEC_FULL.md §A.3).
type CloseScanRequest struct {
	ScannerId []byte
	Deadline  time.Time
}

// ScanResponseHeader is common to OpenScanResponse and ContinueScanResponse:
// the row/indirect-data sidecar indices and the has-more-results flag.
type ScanResponseHeader struct {
	NumRows                  int64
	RowsSidecarIndex         int32 // negative means absent
	IndirectDataSidecarIndex int32 // negative means absent; absence means empty buffer
	HasMoreResults           bool
	ScannerId                []byte // only set on OpenScanResponse when HasMoreResults
}

type OpenScanResponse struct {
	Header ScanResponseHeader
}

type ContinueScanResponse struct {
	Header ScanResponseHeader
}

// GetTableLocationsRequest mirrors spec §6's master RPC.
type GetTableLocationsRequest struct {
	Table                string
	PartitionKeyStart    []byte
	MaxReturnedLocations int
}

type ReplicaLocation struct {
	Host string
	Port int
	Role int // a meta.Role value, carried as a plain int
}

type TabletLocation struct {
	Id         []byte
	LowerBound []byte
	UpperBound []byte
	Replicas   []ReplicaLocation
}

type GetTableLocationsResponse struct {
	Tablets   []TabletLocation
	WindowEnd []byte
}
