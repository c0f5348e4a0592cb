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
	"github.com/erigontech/tablestore/tablet/meta"
	"github.com/erigontech/tablestore/tablet/rpcchannel"
)

// Target is a small sealed variant (spec §9): either a Tablet, whose
// replica set is resolved and dialed fresh per attempt, or a Proxy, a
// single channel already bound to the replica that must serve every
// continuation of a given scanner.
type Target struct {
	tablet *meta.Tablet
	proxy  rpcchannel.Channel
}

// ForTablet builds a Target that selects among t's replicas per-attempt.
// Used for OpenScan.
func ForTablet(t *meta.Tablet) Target { return Target{tablet: t} }

// ForProxy builds a Target pinned to ch, the channel that served a prior
// OpenScan or ContinueScan. Used for ContinueScan so a scan never silently
// migrates to a different replica mid-stream (spec §4.5).
func ForProxy(ch rpcchannel.Channel) Target { return Target{proxy: ch} }

// Tablet returns the underlying tablet, or nil for a Proxy target.
func (t Target) Tablet() *meta.Tablet { return t.tablet }

func (t Target) isProxy() bool { return t.proxy != nil }
