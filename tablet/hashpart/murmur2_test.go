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

package hashpart

import "testing"

func TestMurmur2_64SanitySeeds(t *testing.T) {
	cases := []struct {
		data []byte
		seed uint64
		want uint64
	}{
		{[]byte("ab"), 0, 7115271465109541368},
		{[]byte("abcdefg"), 0, 2601573339036254301},
		{[]byte("quick brown fox"), 42, 3575930248840144026},
	}
	for _, c := range cases {
		got := Murmur2_64(c.data, c.seed)
		if got != c.want {
			t.Errorf("Murmur2_64(%q, %d) = %d, want %d", c.data, c.seed, got, c.want)
		}
	}
}
