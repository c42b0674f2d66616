// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package git materializes repositories for scan and fix runs via the
// git CLI. All commands target a specific directory through the -C
// flag, injected by every Repository method — there is no implicit
// current-directory repository.
//
// [Clone] performs a shallow, token-authenticated clone. The token is
// embedded in the clone URL for the duration of the command and
// redacted from every error message; it is never written to disk or
// logs. [Duplicate] produces a cheap working-tree copy for parallel
// fix workers, falling back to a fresh clone when the copy fails.
package git

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/remedy-foundation/remedy/lib/sanitize"
)

// Repository targets git commands at a specific working tree.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included, sanitized, in
// error messages on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err,
			sanitize.Diagnostic(strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}

// ChangedFiles returns repo-relative paths of modified or untracked
// files, from "git status --porcelain". Fix extraction uses this to
// see what an agent actually touched.
func (r *Repository) ChangedFiles(ctx context.Context) ([]string, error) {
	output, err := r.Run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var files []string
	for line := range strings.Lines(output) {
		line = strings.TrimRight(line, "\n")
		if len(line) < 4 {
			continue
		}
		// Porcelain format: XY <path>, with " -> " for renames.
		path := line[3:]
		if _, after, found := strings.Cut(path, " -> "); found {
			path = after
		}
		files = append(files, strings.Trim(path, `"`))
	}
	return files, nil
}

// Diff returns the unified diff of the working tree against HEAD for
// the given path, or the whole tree when path is empty.
func (r *Repository) Diff(ctx context.Context, path string) (string, error) {
	args := []string{"diff", "HEAD"}
	if path != "" {
		args = append(args, "--", path)
	}
	return r.Run(ctx, args...)
}

// ShowOriginal returns the committed (pre-modification) content of a
// repo-relative path.
func (r *Repository) ShowOriginal(ctx context.Context, path string) (string, error) {
	return r.Run(ctx, "show", "HEAD:"+path)
}

// Clone performs a shallow clone of remoteURL into targetDir. A
// non-empty token is embedded as URL userinfo for the single git
// invocation. Clone failures are prefixed "clone failed" so callers
// can distinguish materialization errors from downstream ones.
func Clone(ctx context.Context, remoteURL, token, targetDir string) (*Repository, error) {
	authenticated, err := authenticatedURL(remoteURL, token)
	if err != nil {
		return nil, fmt.Errorf("clone failed: %w", err)
	}

	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--single-branch", authenticated, targetDir)
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("clone failed: %s: %w (stderr: %s)",
			sanitize.RedactCredentials(remoteURL), err,
			sanitize.Diagnostic(strings.TrimSpace(stderr.String())))
	}
	return NewRepository(targetDir), nil
}

// CloneBranch is Clone restricted to a single named branch.
func CloneBranch(ctx context.Context, remoteURL, token, branch, targetDir string) (*Repository, error) {
	authenticated, err := authenticatedURL(remoteURL, token)
	if err != nil {
		return nil, fmt.Errorf("clone failed: %w", err)
	}

	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--branch", branch, "--single-branch", authenticated, targetDir)
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("clone failed: %s (branch %s): %w (stderr: %s)",
			sanitize.RedactCredentials(remoteURL), branch, err,
			sanitize.Diagnostic(strings.TrimSpace(stderr.String())))
	}
	return NewRepository(targetDir), nil
}

// CloneFunc re-clones into targetDir when Duplicate's filesystem copy
// fails. Callers close over the remote URL and credentials so the
// fallback needs no stored token.
type CloneFunc func(ctx context.Context, targetDir string) error

// Duplicate copies an existing working tree into targetDir for a
// parallel worker. A filesystem copy is much cheaper than a network
// clone and preserves installed dependencies; when it fails the
// fallback clone (if provided) runs instead.
func Duplicate(ctx context.Context, sourceDir, targetDir string, fallback CloneFunc) (*Repository, error) {
	copyCommand := exec.CommandContext(ctx, "cp", "-a", sourceDir, targetDir)
	var stderr bytes.Buffer
	copyCommand.Stderr = &stderr

	if err := copyCommand.Run(); err == nil {
		return NewRepository(targetDir), nil
	} else if fallback == nil {
		return nil, fmt.Errorf("duplicating %s: %w (stderr: %s)",
			sourceDir, err, sanitize.Diagnostic(strings.TrimSpace(stderr.String())))
	}

	if err := fallback(ctx, targetDir); err != nil {
		return nil, fmt.Errorf("duplicate fallback: %w", err)
	}
	return NewRepository(targetDir), nil
}

// authenticatedURL embeds token as userinfo in remoteURL. An empty
// token returns the URL unchanged.
func authenticatedURL(remoteURL, token string) (string, error) {
	if token == "" {
		return remoteURL, nil
	}
	parsed, err := url.Parse(remoteURL)
	if err != nil {
		return "", fmt.Errorf("invalid remote url %s: %w", sanitize.RedactCredentials(remoteURL), err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return "", fmt.Errorf("token auth requires an http(s) remote, got %s", parsed.Scheme)
	}
	parsed.User = url.UserPassword("x-access-token", token)
	return parsed.String(), nil
}
