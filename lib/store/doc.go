// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists Scan, Violation, and Fix records in SQLite
// via zombiezen.com/go/sqlite.
//
// The store is deliberately thin: SQL statements against three tables,
// no query builder, no ORM. Connections come from a fixed-size
// sqlitex.Pool initialized with WAL journaling, NORMAL synchronous,
// and a busy timeout — the same pragma set every service here uses.
// Use ":memory:" with pool size 1 for tests.
//
// Access patterns follow the pipeline's concurrency model: a single
// orchestrating process owns a Scan row while it is active, so writes
// use upsert/replace semantics instead of locking. Fixes are keyed
// uniquely by violation so regeneration can never produce duplicates,
// and [Store.ReplaceFixes] wipes before writing so a re-run never
// leaves orphans from a previous, differently-scoped run.
//
// Screenshots are stored as text: zstd-compressed PNG, base64-encoded,
// with a blake3 content hash alongside for integrity and dedupe
// diagnostics.
package store
