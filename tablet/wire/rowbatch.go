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

// Package wire implements the ScanDecoder (spec §4.4): turning one scan
// response's rows/indirect-data sidecars into an immutable, row-major
// RowBatch. Go is a memory-safe runtime without raw-pointer storage, so
// this decoder takes the alternative the spec explicitly permits (§9
// "Pointer rewriting in RowBatch"): variable-length slots keep their
// on-wire offset/length pair, and Row.Bytes/Row.String compute the slice
// into indirect_data on access instead of rewriting it at decode time.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/erigontech/tablestore/tablet/internal/mathx"
	"github.com/erigontech/tablestore/tablet/rpcpb"
	"github.com/erigontech/tablestore/tablet/schema"
	"github.com/erigontech/tablestore/tablet/tserr"
)

// RowBatch is an immutable, row-major block of decoded rows sharing one
// projected Schema. Its data and indirect buffers are owned outright;
// Row accessors borrow slices from them.
type RowBatch struct {
	schema           *schema.Schema
	numRows          int
	rowLen           int
	offsets          []int
	nullBitmapOffset int
	data             []byte
	indirect         []byte
}

// Decode builds a RowBatch from one scan response header and the sidecar
// buffers that arrived with it (spec §4.4).
func Decode(s *schema.Schema, header rpcpb.ScanResponseHeader, sidecars [][]byte) (*RowBatch, error) {
	if header.RowsSidecarIndex < 0 || int(header.RowsSidecarIndex) >= len(sidecars) {
		return nil, tserr.Serialization("wire: rows sidecar index %d out of range for %d sidecars", header.RowsSidecarIndex, len(sidecars))
	}
	data := sidecars[header.RowsSidecarIndex]

	var indirect []byte
	if header.IndirectDataSidecarIndex >= 0 {
		if int(header.IndirectDataSidecarIndex) >= len(sidecars) {
			return nil, tserr.Serialization("wire: indirect-data sidecar index %d out of range for %d sidecars", header.IndirectDataSidecarIndex, len(sidecars))
		}
		indirect = sidecars[header.IndirectDataSidecarIndex]
	}

	if header.NumRows < 0 {
		return nil, tserr.Serialization("wire: negative num_rows %d", header.NumRows)
	}

	offsets, rowLen, nullBitmapOffset := s.ColumnOffsets()

	want, overflowed := mathx.SafeMul(uint64(header.NumRows), uint64(rowLen))
	if overflowed || want != uint64(len(data)) {
		return nil, tserr.Serialization("wire: num_rows(%d) * row_len(%d) = %d does not match rows sidecar length %d",
			header.NumRows, rowLen, want, len(data))
	}

	return &RowBatch{
		schema:           s,
		numRows:          int(header.NumRows),
		rowLen:           rowLen,
		offsets:          offsets,
		nullBitmapOffset: nullBitmapOffset,
		data:             data,
		indirect:         indirect,
	}, nil
}

func (b *RowBatch) Schema() *schema.Schema { return b.schema }
func (b *RowBatch) NumRows() int           { return b.numRows }
func (b *RowBatch) RowLen() int            { return b.rowLen }

// Row returns a borrowed view of row i. i must be in [0, NumRows()).
func (b *RowBatch) Row(i int) Row {
	if i < 0 || i >= b.numRows {
		panic("wire: row index out of range")
	}
	start := i * b.rowLen
	return Row{batch: b, buf: b.data[start : start+b.rowLen]}
}

// Row is a borrowed view into one row of a RowBatch; it is valid only for
// the RowBatch's lifetime.
type Row struct {
	batch *RowBatch
	buf   []byte
}

// IsNull reports whether projected column col is null. It returns false
// when the schema has no nullable columns.
func (r Row) IsNull(col int) bool {
	if r.batch.nullBitmapOffset < 0 {
		return false
	}
	byteIdx := r.batch.nullBitmapOffset + col/8
	bit := byte(1) << uint(col%8)
	return r.buf[byteIdx]&bit != 0
}

func (r Row) fieldOffset(col int) int { return r.batch.offsets[col] }

func (r Row) Bool(col int) bool { return r.buf[r.fieldOffset(col)] != 0 }

func (r Row) Int8(col int) int8 { return int8(r.buf[r.fieldOffset(col)]) }

func (r Row) Int16(col int) int16 {
	off := r.fieldOffset(col)
	return int16(binary.LittleEndian.Uint16(r.buf[off : off+2]))
}

func (r Row) Int32(col int) int32 {
	off := r.fieldOffset(col)
	return int32(binary.LittleEndian.Uint32(r.buf[off : off+4]))
}

func (r Row) Int64(col int) int64 {
	off := r.fieldOffset(col)
	return int64(binary.LittleEndian.Uint64(r.buf[off : off+8]))
}

func (r Row) Float32(col int) float32 {
	off := r.fieldOffset(col)
	bits := binary.LittleEndian.Uint32(r.buf[off : off+4])
	return math.Float32frombits(bits)
}

func (r Row) Float64(col int) float64 {
	off := r.fieldOffset(col)
	bits := binary.LittleEndian.Uint64(r.buf[off : off+8])
	return math.Float64frombits(bits)
}

// Bytes returns the variable-length value of column col, borrowing from
// the batch's indirect-data buffer.
func (r Row) Bytes(col int) []byte {
	off := r.fieldOffset(col)
	offset := binary.LittleEndian.Uint64(r.buf[off : off+8])
	length := binary.LittleEndian.Uint64(r.buf[off+8 : off+16])
	return r.batch.indirect[offset : offset+length]
}

func (r Row) String(col int) string { return string(r.Bytes(col)) }
