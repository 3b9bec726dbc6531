// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderKeeperBypassBuffersAhead(t *testing.T) {
	k := NewOrderKeeper()

	assert.True(t, k.Bypass(2))
	assert.True(t, k.Bypass(1))
	assert.Equal(t, uint64(0), k.Next())

	assert.True(t, k.Bypass(0))
	assert.Equal(t, uint64(3), k.Next(), "buffered ids drain once contiguous")

	assert.False(t, k.Bypass(1), "already passed")
	assert.Equal(t, uint64(3), k.Next())
}

func TestOrderKeeperLockWaitsForPredecessor(t *testing.T) {
	k := NewOrderKeeper()
	ctx := context.Background()

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		assert.NoError(t, k.Lock(ctx, 1))
	}()

	select {
	case <-acquired:
		t.Fatal("lock(1) returned before 0 completed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, k.Lock(ctx, 0))
	require.NoError(t, k.Unlock(0))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock(1) not released")
	}
	require.NoError(t, k.Unlock(1))
	assert.Equal(t, uint64(2), k.Next())
}

func TestOrderKeeperUnlockDrainsBypassed(t *testing.T) {
	k := NewOrderKeeper()
	k.Bypass(1)
	k.Bypass(2)
	require.NoError(t, k.Lock(context.Background(), 0))
	require.NoError(t, k.Unlock(0))
	assert.Equal(t, uint64(3), k.Next())
}

func TestOrderKeeperUnpairedUnlock(t *testing.T) {
	k := NewOrderKeeper()
	require.ErrorIs(t, k.Unlock(1), ErrUnpairedUnlock)
}

func TestOrderKeeperLockHonorsContext(t *testing.T) {
	k := NewOrderKeeper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, k.Lock(ctx, 5), context.DeadlineExceeded)
}
