// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ipc

import (
	"context"
	"errors"
	"sync"
)

var ErrUnpairedUnlock = errors.New("order keeper: unlock without matching lock")

// OrderKeeper tracks a contiguous completion watermark over sequence numbers.
// Completions that arrive ahead of the watermark are buffered until every
// lower id has completed.
type OrderKeeper struct {
	mu      sync.Mutex
	cnt     uint64
	ahead   map[uint64]struct{}
	changed chan struct{}
}

// NewOrderKeeper returns a keeper whose watermark starts at zero.
func NewOrderKeeper() *OrderKeeper {
	return &OrderKeeper{
		ahead:   make(map[uint64]struct{}),
		changed: make(chan struct{}),
	}
}

// Lock blocks until id is the next id in order (or already passed).
func (k *OrderKeeper) Lock(ctx context.Context, id uint64) error {
	for {
		k.mu.Lock()
		if id <= k.cnt {
			k.mu.Unlock()
			return nil
		}
		ch := k.changed
		k.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Unlock completes id, which must be the current watermark.
func (k *OrderKeeper) Unlock(id uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id != k.cnt {
		return ErrUnpairedUnlock
	}
	k.advanceLocked()
	return nil
}

// Bypass completes id without a preceding Lock. Ids ahead of the watermark
// are buffered. It returns false for ids already passed.
func (k *OrderKeeper) Bypass(id uint64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	switch {
	case id < k.cnt:
		return false
	case id == k.cnt:
		k.advanceLocked()
	default:
		k.ahead[id] = struct{}{}
	}
	return true
}

// Next returns the lowest id not yet completed.
func (k *OrderKeeper) Next() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cnt
}

func (k *OrderKeeper) advanceLocked() {
	k.cnt++
	for {
		if _, ok := k.ahead[k.cnt]; !ok {
			break
		}
		delete(k.ahead, k.cnt)
		k.cnt++
	}
	close(k.changed)
	k.changed = make(chan struct{})
}
