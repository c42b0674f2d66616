// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeNow(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	if !fake.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", fake.Now(), start)
	}

	fake.Advance(90 * time.Second)
	if got := fake.Since(start); got != 90*time.Second {
		t.Fatalf("Since(start) = %v, want 90s", got)
	}
}

func TestFakeAfter(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))

	t.Run("fires on advance past deadline", func(t *testing.T) {
		ch := fake.After(10 * time.Second)
		select {
		case <-ch:
			t.Fatal("fired before advance")
		default:
		}

		fake.Advance(10 * time.Second)
		select {
		case <-ch:
		default:
			t.Fatal("did not fire after advance")
		}
	})

	t.Run("non-positive duration fires immediately", func(t *testing.T) {
		select {
		case <-fake.After(0):
		default:
			t.Fatal("After(0) did not fire immediately")
		}
	})

	t.Run("waiter beyond advance stays pending", func(t *testing.T) {
		ch := fake.After(time.Hour)
		fake.Advance(time.Minute)
		select {
		case <-ch:
			t.Fatal("fired too early")
		default:
		}
	})
}
