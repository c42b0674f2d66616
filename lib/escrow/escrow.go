// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package escrow defines the payment gate contract for paid audit
// runs. Funds are locked before any work starts, released once the
// scan completes, and refunded when the pipeline fails. The gate
// itself is an external system; this package carries only the
// reference plumbing the audit runner needs.
package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remedy-foundation/remedy/lib/clock"
)

// Lock is the record of funds held against one audit run.
type Lock struct {
	// Reference identifies the lock with the payment gate: the
	// escrow owner account, a per-owner sequence number, and the
	// transaction hash that created it.
	Owner    string
	Sequence int64
	TxHash   string

	// ReleaseEligibleAt is the earliest moment a refund may be
	// claimed if the work never finishes.
	ReleaseEligibleAt time.Time
}

// Gate locks, releases, and refunds audit payments.
//
// Release and Refund are terminal and mutually exclusive for a given
// lock: once one succeeds the other must fail. Refund is only legal
// after the lock's ReleaseEligibleAt has passed.
type Gate interface {
	Lock(ctx context.Context, amount int64, payer string) (Lock, error)
	Release(ctx context.Context, ref Lock) error
	Refund(ctx context.Context, ref Lock) error
}

type lockState int

const (
	lockHeld lockState = iota
	lockReleased
	lockRefunded
)

// MemoryGate is an in-process Gate for tests and local runs. It
// enforces the same lifecycle rules a real gate would: locks are
// single-use, and refunds wait out the release window.
type MemoryGate struct {
	clock   clock.Clock
	holdFor time.Duration

	mu       sync.Mutex
	sequence int64
	locks    map[string]lockState
}

// NewMemoryGate returns a gate whose refunds become eligible holdFor
// after each lock. A zero holdFor makes refunds immediately eligible.
func NewMemoryGate(clk clock.Clock, holdFor time.Duration) *MemoryGate {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryGate{
		clock:   clk,
		holdFor: holdFor,
		locks:   make(map[string]lockState),
	}
}

func (g *MemoryGate) Lock(ctx context.Context, amount int64, payer string) (Lock, error) {
	if amount <= 0 {
		return Lock{}, fmt.Errorf("escrow: amount must be positive, got %d", amount)
	}
	if payer == "" {
		return Lock{}, fmt.Errorf("escrow: payer is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sequence++
	ref := Lock{
		Owner:             payer,
		Sequence:          g.sequence,
		TxHash:            uuid.NewString(),
		ReleaseEligibleAt: g.clock.Now().Add(g.holdFor),
	}
	g.locks[ref.TxHash] = lockHeld
	return ref, nil
}

func (g *MemoryGate) Release(ctx context.Context, ref Lock) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.locks[ref.TxHash]
	if !ok {
		return fmt.Errorf("escrow: unknown lock %s/%d", ref.Owner, ref.Sequence)
	}
	switch state {
	case lockReleased:
		return fmt.Errorf("escrow: lock %s/%d already released", ref.Owner, ref.Sequence)
	case lockRefunded:
		return fmt.Errorf("escrow: lock %s/%d already refunded", ref.Owner, ref.Sequence)
	}
	g.locks[ref.TxHash] = lockReleased
	return nil
}

func (g *MemoryGate) Refund(ctx context.Context, ref Lock) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.locks[ref.TxHash]
	if !ok {
		return fmt.Errorf("escrow: unknown lock %s/%d", ref.Owner, ref.Sequence)
	}
	switch state {
	case lockReleased:
		return fmt.Errorf("escrow: lock %s/%d already released", ref.Owner, ref.Sequence)
	case lockRefunded:
		return fmt.Errorf("escrow: lock %s/%d already refunded", ref.Owner, ref.Sequence)
	}
	if g.clock.Now().Before(ref.ReleaseEligibleAt) {
		return fmt.Errorf("escrow: lock %s/%d not refundable until %s",
			ref.Owner, ref.Sequence, ref.ReleaseEligibleAt.Format(time.RFC3339))
	}
	g.locks[ref.TxHash] = lockRefunded
	return nil
}
