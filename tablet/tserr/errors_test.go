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

package tserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	require.True(t, IsRetriableAtRpcLevel(Rpc(CodeServerTooBusy, "busy")))
	require.False(t, IsRetriableAtRpcLevel(Rpc(CodeInvalidRequest, "bad")))
	require.True(t, IsRetriableAtRpcLevel(Io(errors.New("connection reset"))))

	require.True(t, IsFatalToConnection(Rpc(CodeFatalVersionMismatch, "mismatch")))
	require.False(t, IsFatalToConnection(Rpc(CodeServerTooBusy, "busy")))
	require.True(t, IsFatalToConnection(Io(errors.New("boom"))))

	require.True(t, IsTabletGone(RpcReason(ReasonNotFound, "no such tablet")))
	require.True(t, IsTabletGone(RpcReason(ReasonIllegalState, "tablet deleted")))
	require.False(t, IsTabletGone(RpcReason(ReasonNotTheLeader, "not leader")))

	require.True(t, IsNotLeader(RpcReason(ReasonNotTheLeader, "not leader")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Io(cause)
	require.ErrorIs(t, err, err.Cause)
	require.Contains(t, err.Error(), "disk full")
}

func TestInvalidArgumentNeverRetried(t *testing.T) {
	err := InvalidArgument("unknown column %q", "foo")
	require.False(t, IsRetriableAtRpcLevel(err))
	require.False(t, IsFatalToConnection(err))
}
