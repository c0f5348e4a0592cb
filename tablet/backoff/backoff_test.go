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

package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicyStaysWithinCap(t *testing.T) {
	p := New(Options{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond})
	for i := 0; i < 10; i++ {
		d := p.Next()
		require.LessOrEqual(t, d, 75*time.Millisecond) // cap * 1.5 jitter ceiling
	}
}

func TestResetRestartsFromBase(t *testing.T) {
	p := New(Options{Base: 10 * time.Millisecond, Cap: 5 * time.Second})
	for i := 0; i < 5; i++ {
		p.Next()
	}
	p.Reset()
	d := p.Next()
	require.LessOrEqual(t, d, 15*time.Millisecond)
}

func TestWaitFailsTimedOutPastDeadline(t *testing.T) {
	p := New(Options{Base: time.Second, Cap: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := p.Wait(ctx)
	require.Error(t, err)
}

func TestWaitHonorsCancellation(t *testing.T) {
	p := New(Options{Base: time.Second, Cap: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := p.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
