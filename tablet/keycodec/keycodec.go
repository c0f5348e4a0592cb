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

// Package keycodec serializes a composite primary key into a single
// memcmp-ordered byte string, and decodes it back, per spec §4.1. The
// client uses this to reason locally about which tablet covers which key
// range, without a round trip to the server.
package keycodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/erigontech/tablestore/tablet/schema"
	"github.com/erigontech/tablestore/tablet/tserr"
)

// Value is one primary-key column value. Exactly one field is meaningful,
// selected by the corresponding schema.Column's DataType.
type Value struct {
	Bool    bool
	Int     int64   // Int8/Int16/Int32/Int64/TimestampMicros
	Float32 float32 // Float
	Float64 float64 // Double
	Bytes   []byte  // Binary/String
}

func BoolValue(v bool) Value       { return Value{Bool: v} }
func IntValue(v int64) Value       { return Value{Int: v} }
func Float32Value(v float32) Value { return Value{Float32: v} }
func Float64Value(v float64) Value { return Value{Float64: v} }
func BytesValue(v []byte) Value    { return Value{Bytes: v} }
func StringValue(v string) Value   { return Value{Bytes: []byte(v)} }

// Encode serializes values (one per primary-key column of s, in order)
// into a single memcmp-ordered byte string.
func Encode(s *schema.Schema, values []Value) ([]byte, error) {
	keyCols := s.KeyColumns()
	if len(values) != len(keyCols) {
		return nil, tserr.InvalidArgument("keycodec: expected %d primary key values, got %d", len(keyCols), len(values))
	}
	var out []byte
	for i, col := range keyCols {
		last := i == len(keyCols)-1
		enc, err := encodeColumn(col, values[i], last)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

func encodeColumn(col schema.Column, v Value, last bool) ([]byte, error) {
	switch col.Type {
	case schema.Bool:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case schema.Int8:
		return encodeSignedInt(v.Int, 1), nil
	case schema.Int16:
		return encodeSignedInt(v.Int, 2), nil
	case schema.Int32:
		return encodeSignedInt(v.Int, 4), nil
	case schema.Int64, schema.TimestampMicros:
		// Full 64-bit big-endian write, per spec §4.1 and the corrected
		// behavior mandated in §9 (the known source bug truncates this to
		// 32 bits; this implementation does not reproduce it).
		return encodeSignedInt(v.Int, 8), nil
	case schema.Float:
		return encodeFloat(uint64(math.Float32bits(v.Float32)), 4), nil
	case schema.Double:
		return encodeFloat(math.Float64bits(v.Float64), 8), nil
	case schema.Binary, schema.String:
		if last {
			return append([]byte(nil), v.Bytes...), nil
		}
		return encodeEscapedBytes(v.Bytes), nil
	default:
		return nil, tserr.InvalidArgument("keycodec: unsupported primary key column type %v", col.Type)
	}
}

// encodeSignedInt writes width bytes big-endian with the sign bit flipped,
// so two's-complement negative values sort before positive ones.
func encodeSignedInt(v int64, width int) []byte {
	u := uint64(v) ^ (uint64(1) << (uint(width)*8 - 1))
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(u)
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(u))
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(u))
	case 8:
		binary.BigEndian.PutUint64(buf, u)
	}
	return buf
}

func decodeSignedInt(buf []byte, width int) int64 {
	var u uint64
	switch width {
	case 1:
		u = uint64(buf[0])
	case 2:
		u = uint64(binary.BigEndian.Uint16(buf))
	case 4:
		u = uint64(binary.BigEndian.Uint32(buf))
	case 8:
		u = binary.BigEndian.Uint64(buf)
	}
	u ^= uint64(1) << (uint(width)*8 - 1)
	// sign-extend from width bytes to int64
	shift := uint(64 - width*8)
	return int64(u<<shift) >> shift
}

// encodeFloat applies the order-preserving transform from spec §4.1: if
// the sign bit is clear, flip only the sign bit; if set, flip all bits.
func encodeFloat(bits uint64, width int) []byte {
	signBit := uint64(1) << (uint(width)*8 - 1)
	var transformed uint64
	if bits&signBit == 0 {
		transformed = bits ^ signBit
	} else {
		mask := signBit | (signBit - 1)
		transformed = (^bits) & mask
	}
	buf := make([]byte, width)
	if width == 4 {
		binary.BigEndian.PutUint32(buf, uint32(transformed))
	} else {
		binary.BigEndian.PutUint64(buf, transformed)
	}
	return buf
}

func decodeFloatBits(buf []byte, width int) uint64 {
	var transformed uint64
	if width == 4 {
		transformed = uint64(binary.BigEndian.Uint32(buf))
	} else {
		transformed = binary.BigEndian.Uint64(buf)
	}
	signBit := uint64(1) << (uint(width)*8 - 1)
	if transformed&signBit != 0 {
		return transformed ^ signBit
	}
	mask := signBit | (signBit - 1)
	return (^transformed) & mask
}

// encodeEscapedBytes replaces every 0x00 with 0x00 0x01 and terminates the
// field with 0x00 0x00, per spec §4.1's non-last-column rule.
func encodeEscapedBytes(v []byte) []byte {
	out := make([]byte, 0, len(v)+2)
	for _, b := range v {
		if b == 0x00 {
			out = append(out, 0x00, 0x01)
		} else {
			out = append(out, b)
		}
	}
	out = append(out, 0x00, 0x00)
	return out
}

// Decode reverses Encode: it consumes data column by column according to
// s's primary key columns, returning one Value per column. Any leftover
// bytes after the last column, a truncated fixed-width field, or an
// invalid escape sequence is a tserr Serialization error.
func Decode(s *schema.Schema, data []byte) ([]Value, error) {
	keyCols := s.KeyColumns()
	values := make([]Value, len(keyCols))
	rest := data
	for i, col := range keyCols {
		last := i == len(keyCols)-1
		v, tail, err := decodeColumn(col, rest, last)
		if err != nil {
			return nil, err
		}
		values[i] = v
		rest = tail
	}
	if len(rest) != 0 {
		return nil, tserr.Serialization("keycodec: %d trailing bytes after last primary key column", len(rest))
	}
	return values, nil
}

func decodeColumn(col schema.Column, data []byte, last bool) (Value, []byte, error) {
	switch col.Type {
	case schema.Bool:
		if len(data) < 1 {
			return Value{}, nil, tserr.Serialization("keycodec: truncated bool column %q", col.Name)
		}
		return Value{Bool: data[0] != 0}, data[1:], nil
	case schema.Int8:
		return decodeFixedInt(col, data, 1)
	case schema.Int16:
		return decodeFixedInt(col, data, 2)
	case schema.Int32:
		return decodeFixedInt(col, data, 4)
	case schema.Int64, schema.TimestampMicros:
		return decodeFixedInt(col, data, 8)
	case schema.Float:
		if len(data) < 4 {
			return Value{}, nil, tserr.Serialization("keycodec: truncated float column %q", col.Name)
		}
		bits := decodeFloatBits(data[:4], 4)
		return Value{Float32: math.Float32frombits(uint32(bits))}, data[4:], nil
	case schema.Double:
		if len(data) < 8 {
			return Value{}, nil, tserr.Serialization("keycodec: truncated double column %q", col.Name)
		}
		bits := decodeFloatBits(data[:8], 8)
		return Value{Float64: math.Float64frombits(bits)}, data[8:], nil
	case schema.Binary, schema.String:
		if last {
			return Value{Bytes: append([]byte(nil), data...)}, nil, nil
		}
		return decodeEscapedBytes(col, data)
	default:
		return Value{}, nil, tserr.Serialization("keycodec: unsupported primary key column type %v", col.Type)
	}
}

func decodeFixedInt(col schema.Column, data []byte, width int) (Value, []byte, error) {
	if len(data) < width {
		return Value{}, nil, tserr.Serialization("keycodec: truncated %d-byte integer column %q", width, col.Name)
	}
	return Value{Int: decodeSignedInt(data[:width], width)}, data[width:], nil
}

func decodeEscapedBytes(col schema.Column, data []byte) (Value, []byte, error) {
	var out []byte
	i := 0
	for {
		if i >= len(data) {
			return Value{}, nil, tserr.Serialization("keycodec: unterminated escaped column %q", col.Name)
		}
		if data[i] != 0x00 {
			out = append(out, data[i])
			i++
			continue
		}
		if i+1 >= len(data) {
			return Value{}, nil, tserr.Serialization("keycodec: truncated escape sequence in column %q", col.Name)
		}
		switch data[i+1] {
		case 0x01:
			out = append(out, 0x00)
			i += 2
		case 0x00:
			return Value{Bytes: out}, data[i+2:], nil
		default:
			return Value{}, nil, fmt.Errorf("keycodec: invalid escape byte 0x%02x after 0x00 in column %q: %w",
				data[i+1], col.Name, tserr.Serialization("invalid escape sequence"))
		}
	}
}
