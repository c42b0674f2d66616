// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent abstracts the coding-agent runtime used to author
// accessibility fixes. The fix orchestrator talks to a Driver; each
// agent runtime (Claude-style CLIs, mock drivers for tests)
// implements it.
package agent

import (
	"context"
	"io"
	"os"
	"time"
)

// Process represents a running agent process. The orchestrator uses
// it to wait for completion and to send signals.
type Process interface {
	// Wait blocks until the process exits and returns its exit
	// error. Returns nil if the process exited with status 0.
	Wait() error

	// Signal sends an OS signal to the process.
	Signal(signal os.Signal) error
}

// DriverConfig holds the configuration passed to Driver.Start.
type DriverConfig struct {
	// Prompt is the fix-authoring prompt for this batch.
	Prompt string

	// WorkingDirectory is the repository checkout the agent edits.
	WorkingDirectory string

	// OutputDir is where the agent is asked to write its fix
	// artifact file. Exposed to the process as REMEDY_OUTPUT_DIR.
	OutputDir string

	// Timeout bounds the agent run; the driver kills the process
	// when it elapses. Zero means no driver-side bound.
	Timeout time.Duration

	// Thinking requests extended reasoning from runtimes that
	// support it. Used for color-contrast batches, where picking a
	// compliant palette takes more deliberation than adding an alt
	// attribute.
	Thinking bool

	// ExtraEnv is additional environment for the agent process, in
	// "KEY=VALUE" form.
	ExtraEnv []string
}

// Driver is the abstraction boundary between the fix orchestrator and
// agent-specific behavior.
type Driver interface {
	// Start spawns the agent process. Returns a Process handle and
	// the process's stdout reader. The caller must read stdout to
	// completion (via ParseOutput) before calling Process.Wait.
	Start(ctx context.Context, config DriverConfig) (Process, io.ReadCloser, error)

	// ParseOutput reads the agent's stdout stream and emits
	// structured events on the provided channel. Blocks until the
	// reader returns EOF or the context is cancelled. The caller
	// closes the events channel after ParseOutput returns.
	ParseOutput(ctx context.Context, stdout io.Reader, events chan<- Event) error

	// Interrupt requests the agent to stop gracefully.
	Interrupt(process Process) error
}
