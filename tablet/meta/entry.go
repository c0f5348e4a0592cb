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

package meta

import "github.com/google/btree"

// Entry is either a covering Tablet or a NonCoveredRange, matching spec
// §3's TabletEntry. Exactly one of Tablet / (IsRange==true) applies.
type Entry struct {
	Tablet  *Tablet
	IsRange bool
	// Lower/Upper apply to both forms: for a Tablet entry they mirror
	// Tablet.LowerBound/UpperBound (kept alongside for uniform btree
	// ordering); for a non-covered range they delimit the gap itself.
	Lower []byte
	Upper []byte
}

func TabletEntry(t *Tablet) Entry {
	return Entry{Tablet: t, Lower: t.LowerBound, Upper: t.UpperBound}
}

func NonCoveredRangeEntry(lower, upper []byte) Entry {
	return Entry{IsRange: true, Lower: lower, Upper: upper}
}

func (e Entry) ContainsKey(key []byte) bool {
	if len(e.Lower) > 0 && bytesLess(key, e.Lower) {
		return false
	}
	if len(e.Upper) > 0 && !bytesLess(key, e.Upper) {
		return false
	}
	return true
}

// entryItem adapts Entry to google/btree's Item interface, ordered by
// Lower bound (an empty Lower, meaning -infinity, sorts first).
type entryItem struct {
	Entry
}

var _ btree.Item = entryItem{}

func (a entryItem) Less(than btree.Item) bool {
	b := than.(entryItem)
	if len(a.Lower) == 0 {
		return len(b.Lower) != 0
	}
	if len(b.Lower) == 0 {
		return false
	}
	return bytesLess(a.Lower, b.Lower)
}
