// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/remedy-foundation/remedy/lib/sanitize"
)

// Config holds the parameters for creating a Sandbox.
type Config struct {
	// RepoDir is the repository working directory, bind-mounted
	// read-write at /workspace. Required.
	RepoDir string

	// OutputDir receives artifacts the host reads back, bind-mounted
	// read-write at /output. Created if missing. Required.
	OutputDir string

	// CacheDir is a shared package cache bind-mounted read-write at
	// /cache and advertised to npm. Persists across sandboxes; must
	// tolerate concurrent use by parallel workers (npm's cacache is
	// append-safe). Created if missing. Optional.
	CacheDir string

	// CPUQuota caps sandbox CPU, e.g. "200%" for two cores. Applied
	// via a systemd transient scope when available.
	CPUQuota string

	// MemoryMax caps sandbox memory, e.g. "2G".
	MemoryMax string

	// Logger receives sandbox lifecycle messages. Nil means discard.
	Logger *slog.Logger
}

// ExecOptions configures one command execution.
type ExecOptions struct {
	// Timeout is the hard wall-clock limit. Zero means 10 minutes.
	Timeout time.Duration

	// OnOutput, if set, streams each output chunk as it arrives, in
	// addition to the buffered result.
	OnOutput func(chunk []byte)

	// Env is additional environment in KEY=VALUE form.
	Env []string
}

// ExecResult is the outcome of one command. A timeout is a sentinel
// (-1, TimedOut), not an error: callers drive budget and retry logic
// off explicit checks.
type ExecResult struct {
	Output   string
	ExitCode int
	TimedOut bool
}

// Sandbox is one isolated execution environment. Safe for sequential
// use; one command runs at a time.
type Sandbox struct {
	id        string
	config    Config
	logger    *slog.Logger
	scoped    bool
	destroyMu sync.Mutex
	destroyed bool
	running   *exec.Cmd
}

// New creates a Sandbox over an existing repository directory. The
// output and cache directories are created if missing. bwrap must be
// on PATH.
func New(config Config) (*Sandbox, error) {
	if config.RepoDir == "" {
		return nil, fmt.Errorf("sandbox: RepoDir is required")
	}
	if config.OutputDir == "" {
		return nil, fmt.Errorf("sandbox: OutputDir is required")
	}
	if _, err := exec.LookPath("bwrap"); err != nil {
		return nil, fmt.Errorf("sandbox: bwrap not found: %w", err)
	}

	repoDir, err := filepath.Abs(config.RepoDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolving repo dir: %w", err)
	}
	config.RepoDir = repoDir

	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: creating output dir: %w", err)
	}
	if config.CacheDir != "" {
		if err := os.MkdirAll(config.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("sandbox: creating cache dir: %w", err)
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	scoped := false
	if config.CPUQuota != "" || config.MemoryMax != "" {
		if _, err := exec.LookPath("systemd-run"); err == nil {
			scoped = true
		} else {
			logger.Warn("systemd-run unavailable, sandbox runs without resource caps")
		}
	}

	id := "remedy-" + uuid.NewString()[:8]
	logger.Info("sandbox created", "id", id, "repo", config.RepoDir)

	return &Sandbox{
		id:     id,
		config: config,
		logger: logger,
		scoped: scoped,
	}, nil
}

// ID returns the sandbox identifier, recorded on the Scan for
// diagnostics.
func (s *Sandbox) ID() string { return s.id }

// OutputDir returns the host path the sandbox sees as /output.
func (s *Sandbox) OutputDir() string { return s.config.OutputDir }

// buildCommand assembles the full host argv for running a shell
// command inside the sandbox.
func (s *Sandbox) buildCommand(command string) []string {
	var argv []string

	if s.scoped {
		argv = append(argv,
			"systemd-run", "--user", "--scope", "--quiet", "--collect",
			"--unit", s.id,
		)
		if s.config.CPUQuota != "" {
			argv = append(argv, fmt.Sprintf("--property=CPUQuota=%s", s.config.CPUQuota))
		}
		if s.config.MemoryMax != "" {
			argv = append(argv, fmt.Sprintf("--property=MemoryMax=%s", s.config.MemoryMax))
		}
	}

	argv = append(argv,
		"bwrap",
		"--die-with-parent",
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		// Network stays shared: installs and dev servers need it,
		// and the host polls the sandbox's ports directly.
		"--ro-bind", "/usr", "/usr",
		"--symlink", "usr/bin", "/bin",
		"--symlink", "usr/lib", "/lib",
		"--symlink", "usr/lib64", "/lib64",
		"--symlink", "usr/sbin", "/sbin",
		"--ro-bind-try", "/etc/resolv.conf", "/etc/resolv.conf",
		"--ro-bind-try", "/etc/ssl", "/etc/ssl",
		"--ro-bind-try", "/etc/ca-certificates", "/etc/ca-certificates",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
		"--bind", s.config.RepoDir, "/workspace",
		"--bind", s.config.OutputDir, "/output",
	)
	if s.config.CacheDir != "" {
		argv = append(argv, "--bind", s.config.CacheDir, "/cache")
	}

	argv = append(argv,
		"--chdir", "/workspace",
		"--clearenv",
		"--setenv", "HOME", "/tmp",
		"--setenv", "PATH", "/usr/bin:/bin:/usr/local/bin",
		"--setenv", "REMEDY_OUTPUT_DIR", "/output",
	)
	if s.config.CacheDir != "" {
		argv = append(argv, "--setenv", "npm_config_cache", "/cache/npm")
	}

	argv = append(argv, "sh", "-c", command)
	return argv
}

// Argv returns the host argv that runs a shell command inside this
// sandbox. Callers that need detached lifecycle management (the app
// bootstrapper's dev servers) start this argv themselves as a process
// group instead of going through Exec.
func (s *Sandbox) Argv(command string) []string {
	return s.buildCommand(command)
}

// Exec runs a shell command inside the sandbox with a hard timeout
// and optional incremental output streaming. The returned error covers
// provisioning failures only (sandbox destroyed, pipe setup); command
// failure and timeout are expressed through ExecResult.
func (s *Sandbox) Exec(ctx context.Context, command string, options ExecOptions) (ExecResult, error) {
	s.destroyMu.Lock()
	if s.destroyed {
		s.destroyMu.Unlock()
		return ExecResult{}, fmt.Errorf("sandbox %s: already destroyed", s.id)
	}
	s.destroyMu.Unlock()

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	argv := s.buildCommand(command)
	execCommand := exec.Command(argv[0], argv[1:]...)
	execCommand.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	execCommand.Env = append(os.Environ(), options.Env...)

	stdout, err := execCommand.StdoutPipe()
	if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox %s: stdout pipe: %w", s.id, err)
	}
	execCommand.Stderr = execCommand.Stdout

	if err := execCommand.Start(); err != nil {
		return ExecResult{}, fmt.Errorf("sandbox %s: start: %w", s.id, err)
	}

	s.destroyMu.Lock()
	s.running = execCommand
	s.destroyMu.Unlock()

	var output []byte
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buffer := make([]byte, 8192)
		for {
			n, readErr := stdout.Read(buffer)
			if n > 0 {
				output = append(output, buffer[:n]...)
				if options.OnOutput != nil {
					options.OnOutput(buffer[:n])
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() {
		<-readDone
		waitDone <- execCommand.Wait()
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		timedOut = true
	case <-deadline.C:
		timedOut = true
	}

	if timedOut {
		s.killGroup(execCommand)
		select {
		case <-waitDone:
		case <-time.After(5 * time.Second):
		}
		s.logger.Warn("sandbox command timed out",
			"id", s.id, "timeout", timeout,
			"command", sanitize.Truncate(command, 200))
		return ExecResult{Output: string(output), ExitCode: -1, TimedOut: true}, nil
	}

	exitCode := 0
	if waitErr != nil {
		if exitError, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.destroyMu.Lock()
	s.running = nil
	s.destroyMu.Unlock()

	return ExecResult{Output: string(output), ExitCode: exitCode}, nil
}

// Destroy tears the sandbox down: any in-flight command's process
// group is killed. Best-effort and idempotent — destroying twice, or
// after the process already exited, is a no-op.
func (s *Sandbox) Destroy() {
	s.destroyMu.Lock()
	defer s.destroyMu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true

	if s.running != nil {
		s.killGroup(s.running)
		s.running = nil
	}
	s.logger.Info("sandbox destroyed", "id", s.id)
}

// killGroup terminates the command's whole process group.
func (s *Sandbox) killGroup(command *exec.Cmd) {
	if command.Process == nil {
		return
	}
	pgid := command.Process.Pid
	_ = unix.Kill(-pgid, unix.SIGTERM)
	time.Sleep(500 * time.Millisecond)
	_ = unix.Kill(-pgid, unix.SIGKILL)
}
