// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/remedy-foundation/remedy/lib/testutil"
)

func TestStartCapturesOutput(t *testing.T) {
	chunks := make(chan string, 16)
	managed, err := Start(context.Background(), StartOptions{
		OnOutput: func(chunk []byte) { chunks <- string(chunk) },
	}, "sh", "-c", "echo hello; echo world 1>&2")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer managed.Stop()

	testutil.RequireClosed(t, managed.Done(), 5*time.Second, "process exit")

	output := managed.Output()
	if !strings.Contains(output, "hello") || !strings.Contains(output, "world") {
		t.Fatalf("output missing streams: %q", output)
	}
	first := testutil.RequireReceive(t, chunks, time.Second, "streamed chunk")
	if first == "" {
		t.Fatal("empty streamed chunk")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	managed, err := Start(context.Background(), StartOptions{}, "sleep", "60")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	managed.Stop()
	managed.Stop() // second call must be a no-op

	if !managed.Exited() {
		t.Fatal("process still running after Stop")
	}
}

func TestStopKillsProcessGroup(t *testing.T) {
	// The shell forks a child sleep; group kill must take both down.
	managed, err := Start(context.Background(), StartOptions{}, "sh", "-c", "sleep 60 & wait")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	managed.Stop()
	if !managed.Exited() {
		t.Fatal("group leader survived Stop")
	}
}
