// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package escrow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/remedy-foundation/remedy/lib/clock"
)

func TestMemoryGateLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	gate := NewMemoryGate(fake, time.Hour)

	ref, err := gate.Lock(ctx, 500, "rPayer")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if ref.Owner != "rPayer" || ref.Sequence != 1 || ref.TxHash == "" {
		t.Fatalf("ref = %+v", ref)
	}
	if !ref.ReleaseEligibleAt.Equal(fake.Now().Add(time.Hour)) {
		t.Fatalf("release eligible at %v", ref.ReleaseEligibleAt)
	}

	if err := gate.Release(ctx, ref); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := gate.Release(ctx, ref); err == nil {
		t.Fatal("double release must fail")
	}
	if err := gate.Refund(ctx, ref); err == nil {
		t.Fatal("refund after release must fail")
	}
}

func TestMemoryGateRefundWindow(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	gate := NewMemoryGate(fake, time.Hour)

	ref, err := gate.Lock(ctx, 500, "rPayer")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	err = gate.Refund(ctx, ref)
	if err == nil {
		t.Fatal("refund inside hold window must fail")
	}
	if !strings.Contains(err.Error(), "not refundable until") {
		t.Fatalf("error = %v", err)
	}

	fake.Advance(time.Hour)
	if err := gate.Refund(ctx, ref); err != nil {
		t.Fatalf("refund after window: %v", err)
	}
	if err := gate.Refund(ctx, ref); err == nil {
		t.Fatal("double refund must fail")
	}
	if err := gate.Release(ctx, ref); err == nil {
		t.Fatal("release after refund must fail")
	}
}

func TestMemoryGateValidation(t *testing.T) {
	ctx := context.Background()
	gate := NewMemoryGate(nil, 0)

	if _, err := gate.Lock(ctx, 0, "rPayer"); err == nil {
		t.Fatal("zero amount must fail")
	}
	if _, err := gate.Lock(ctx, 100, ""); err == nil {
		t.Fatal("empty payer must fail")
	}
	if err := gate.Release(ctx, Lock{Owner: "x", Sequence: 9, TxHash: "nope"}); err == nil {
		t.Fatal("unknown lock must fail")
	}
}

func TestMemoryGateSequences(t *testing.T) {
	ctx := context.Background()
	gate := NewMemoryGate(nil, 0)

	first, _ := gate.Lock(ctx, 100, "a")
	second, _ := gate.Lock(ctx, 100, "b")
	if second.Sequence != first.Sequence+1 {
		t.Fatalf("sequences %d, %d", first.Sequence, second.Sequence)
	}
	if first.TxHash == second.TxHash {
		t.Fatal("tx hashes must be distinct")
	}
}
