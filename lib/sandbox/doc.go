// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox provisions isolated, resource-capped execution
// environments for running unknown repository code using bubblewrap
// (bwrap) Linux namespaces.
//
// Each [Sandbox] bind-mounts the repository working directory
// read-write at /workspace (the working directory of every command),
// an output directory read-write at /output for artifacts the host
// reads back (screenshots, JSON results), and a shared package cache
// at /cache that persists across sandbox instances so repeated npm
// installs do not hit the network every run. Network access stays
// enabled — package installs and dev servers need it — while PID, IPC,
// and UTS namespaces are unshared.
//
// The /output bind is the trust boundary: the host never parses large
// binary payloads out of sandbox stdout. The sandbox deposits files;
// the host reads them back through a path it controls.
//
// Resource ceilings (CPU quota, memory max) are applied by wrapping
// the bwrap invocation in a systemd-run transient scope when
// systemd-run is available; otherwise the sandbox runs uncapped and
// logs the fact.
//
// [Sandbox.Exec] enforces a hard wall-clock timeout per command. A
// timed-out command is killed as a whole process group and reported
// as a sentinel result (ExitCode -1, TimedOut true) — never an error.
// Hanging commands (a dev server that never becomes ready) are an
// expected outcome the caller's budget logic handles by inspection.
package sandbox
