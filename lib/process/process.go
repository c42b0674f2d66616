// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package process manages detached subprocesses as process groups.
//
// Dev servers discovered by the app bootstrapper fork freely (npm
// spawns node which spawns esbuild watchers), so killing the direct
// child leaves orphans that accumulate across scan runs. [Managed]
// starts every subprocess in its own process group and [Managed.Stop]
// signals the whole group, on every code path, success or failure.
//
// [Fatal] is the standard binary entrypoint error handler for errors
// raised before the structured logger exists.
package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Fatal writes "error: err" to stderr and exits with code 1.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Managed is a subprocess running in its own process group. Combined
// output is captured and available via Output at any point.
type Managed struct {
	command *exec.Cmd

	mu      sync.Mutex
	output  bytes.Buffer
	stopped bool

	// done is closed when Wait observes process exit.
	done     chan struct{}
	waitOnce sync.Once
	waitErr  error
}

// StartOptions configures a managed subprocess.
type StartOptions struct {
	// Dir is the working directory.
	Dir string

	// Env is additional environment in KEY=VALUE form, appended to
	// the parent environment.
	Env []string

	// OnOutput, if set, receives each output chunk as it arrives,
	// in addition to the buffered capture.
	OnOutput func(chunk []byte)
}

// Start launches name with args in a new process group. The context
// is not used to kill the process (Stop owns termination) — it only
// bounds the start itself.
func Start(ctx context.Context, options StartOptions, name string, args ...string) (*Managed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	command := exec.Command(name, args...)
	command.Dir = options.Dir
	command.Env = append(os.Environ(), options.Env...)
	command.SysProcAttr = &unix.SysProcAttr{Setpgid: true}

	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	command.Stderr = command.Stdout

	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	managed := &Managed{
		command: command,
		done:    make(chan struct{}),
	}

	go managed.pump(stdout, options.OnOutput)
	return managed, nil
}

// pump copies process output into the buffer and the optional callback
// until EOF, then reaps the process.
func (m *Managed) pump(reader io.Reader, onOutput func([]byte)) {
	buffer := make([]byte, 8192)
	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			m.mu.Lock()
			m.output.Write(buffer[:n])
			m.mu.Unlock()
			if onOutput != nil {
				onOutput(buffer[:n])
			}
		}
		if err != nil {
			break
		}
	}
	m.waitOnce.Do(func() {
		m.waitErr = m.command.Wait()
		close(m.done)
	})
}

// Output returns everything the process has written so far.
func (m *Managed) Output() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output.String()
}

// Exited reports whether the process has exited.
func (m *Managed) Exited() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the process exits.
func (m *Managed) Done() <-chan struct{} {
	return m.done
}

// Stop terminates the whole process group: SIGTERM, a short grace
// period, then SIGKILL. Idempotent and best-effort — a group that
// already exited is not an error.
func (m *Managed) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	if m.command.Process == nil {
		return
	}
	pgid := m.command.Process.Pid

	// Negative pid signals the process group.
	_ = unix.Kill(-pgid, unix.SIGTERM)

	select {
	case <-m.done:
		return
	case <-time.After(3 * time.Second):
	}
	_ = unix.Kill(-pgid, unix.SIGKILL)

	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
	}
}
