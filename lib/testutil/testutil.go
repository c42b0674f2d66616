// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers. [RequireReceive]
// encapsulates the select-with-timeout safety valve so individual
// tests never hang forever on a channel read. [WriteTree] materializes
// a file tree from a path→content map for bootstrapper and patcher
// tests. All helpers call t.Fatalf on failure, since test setup
// failures are not recoverable.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// RequireReceive reads one value from ch within timeout, or fails the
// test.
func RequireReceive[T any](t *testing.T, ch <-chan T, timeout time.Duration, message string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", message)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, message)
	}
	panic("unreachable")
}

// RequireClosed waits for ch to be closed (or receive a value) within
// timeout, or fails the test.
func RequireClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration, message string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for close: %s", timeout, message)
	}
}

// WriteTree creates every file in files under root, making parent
// directories as needed. Keys are slash-separated relative paths.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for relative, content := range files {
		path := filepath.Join(root, filepath.FromSlash(relative))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", relative, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", relative, err)
		}
	}
}
