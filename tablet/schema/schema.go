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

// Package schema describes table schemas, columns and the row layouts that
// the rest of the client builds on: memcmp key encoding, wire decoding, and
// scan projection all operate in terms of a Schema.
package schema

import (
	"fmt"

	"github.com/erigontech/tablestore/tablet/internal/mathx"
)

// DataType enumerates the column types the wire format and the key codec
// know how to handle.
type DataType int

const (
	Bool DataType = iota
	Int8
	Int16
	Int32
	Int64
	TimestampMicros
	Float
	Double
	Binary
	String
)

func (t DataType) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case TimestampMicros:
		return "timestamp"
	case Float:
		return "float"
	case Double:
		return "double"
	case Binary:
		return "binary"
	case String:
		return "string"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// FixedWidth returns the on-wire fixed width in bytes for types that have
// one, and ok=false for variable-length types (Binary, String).
func (t DataType) FixedWidth() (width int, ok bool) {
	switch t {
	case Bool, Int8:
		return 1, true
	case Int16:
		return 2, true
	case Int32, Float:
		return 4, true
	case Int64, TimestampMicros, Double:
		return 8, true
	case Binary, String:
		return 0, false
	default:
		return 0, false
	}
}

func (t DataType) IsVariableLength() bool {
	_, ok := t.FixedWidth()
	return !ok
}

// Column describes one column of a Schema.
type Column struct {
	Name     string
	Type     DataType
	Nullable bool
}

// Schema is an ordered, immutable sequence of Columns; the first NumKeyColumns
// form the primary key. Schemas are created once and shared by reference
// (cloning is a slice copy, never deep-mutated in place).
type Schema struct {
	columns       []Column
	numKeyColumns int
	byName        map[string]int
}

// New builds a Schema from columns, the first numKeyColumns of which form
// the primary key. Returns an error if numKeyColumns is out of range or a
// column name is duplicated.
func New(columns []Column, numKeyColumns int) (*Schema, error) {
	if numKeyColumns <= 0 || numKeyColumns > len(columns) {
		return nil, fmt.Errorf("schema: invalid primary key column count %d for %d columns", numKeyColumns, len(columns))
	}
	byName := make(map[string]int, len(columns))
	cp := make([]Column, len(columns))
	for i, c := range columns {
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate column name %q", c.Name)
		}
		byName[c.Name] = i
		cp[i] = c
	}
	return &Schema{columns: cp, numKeyColumns: numKeyColumns, byName: byName}, nil
}

func (s *Schema) NumColumns() int      { return len(s.columns) }
func (s *Schema) NumKeyColumns() int   { return s.numKeyColumns }
func (s *Schema) Column(i int) Column  { return s.columns[i] }
func (s *Schema) Columns() []Column    { return append([]Column(nil), s.columns...) }
func (s *Schema) KeyColumns() []Column { return append([]Column(nil), s.columns[:s.numKeyColumns]...) }

// HasNullable reports whether any column in the schema is nullable; it
// gates whether rows carry a trailing null bitmap.
func (s *Schema) HasNullable() bool {
	for _, c := range s.columns {
		if c.Nullable {
			return true
		}
	}
	return false
}

// ColumnIndex resolves a column name, returning ok=false if unknown.
func (s *Schema) ColumnIndex(name string) (int, bool) {
	i, ok := s.byName[name]
	return i, ok
}

// Project returns a new Schema containing only the named columns, in the
// order given by idxs. Each index must be in [0, NumColumns()).
func (s *Schema) Project(idxs []int) (*Schema, error) {
	cols := make([]Column, len(idxs))
	for i, idx := range idxs {
		if idx < 0 || idx >= len(s.columns) {
			return nil, fmt.Errorf("schema: projected column index %d out of range [0,%d)", idx, len(s.columns))
		}
		cols[i] = s.columns[idx]
	}
	// Projections carry no primary-key semantics of their own; they are
	// used only to describe the shape of a RowBatch.
	return &Schema{columns: cols, numKeyColumns: 0, byName: indexByName(cols)}, nil
}

func indexByName(cols []Column) map[string]int {
	m := make(map[string]int, len(cols))
	for i, c := range cols {
		m[c.Name] = i
	}
	return m
}

// ColumnOffsets returns, for each column, its byte offset within a row
// under this schema (a 16-byte offset+length slot for variable-length
// columns), the row's total fixed length, and the null bitmap's offset
// (-1 if no column is nullable).
func (s *Schema) ColumnOffsets() (offsets []int, rowLen int, nullBitmapOffset int) {
	offsets = make([]int, len(s.columns))
	cursor := 0
	for i, c := range s.columns {
		offsets[i] = cursor
		if w, ok := c.Type.FixedWidth(); ok {
			cursor += w
		} else {
			cursor += 16
		}
	}
	nullBitmapOffset = -1
	if s.HasNullable() {
		nullBitmapOffset = cursor
		cursor += mathx.CeilDiv(len(s.columns), 8)
	}
	return offsets, cursor, nullBitmapOffset
}

// RowLen returns the fixed-width byte length of one row under this schema:
// the sum of each column's fixed width (16 bytes for an offset+length pair
// on variable-length columns) plus a trailing null bitmap if any column is
// nullable.
func (s *Schema) RowLen() int {
	total := 0
	for _, c := range s.columns {
		if w, ok := c.Type.FixedWidth(); ok {
			total += w
		} else {
			total += 16 // 8-byte offset + 8-byte length
		}
	}
	if s.HasNullable() {
		total += mathx.CeilDiv(len(s.columns), 8)
	}
	return total
}
