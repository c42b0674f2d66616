// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrNotFound is returned when the addressed scan or fix does not
// exist. Callers branch on it with errors.Is.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id                TEXT PRIMARY KEY,
	owner             TEXT NOT NULL DEFAULT '',
	repo_owner        TEXT NOT NULL DEFAULT '',
	repo_name         TEXT NOT NULL DEFAULT '',
	repo_url          TEXT NOT NULL DEFAULT '',
	branch            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	score_before      INTEGER,
	score_after       INTEGER,
	error_message     TEXT NOT NULL DEFAULT '',
	before_screenshot TEXT NOT NULL DEFAULT '',
	after_screenshot  TEXT NOT NULL DEFAULT '',
	screenshot_hash   TEXT NOT NULL DEFAULT '',
	container_id      TEXT NOT NULL DEFAULT '',
	escrow_owner      TEXT NOT NULL DEFAULT '',
	escrow_sequence   INTEGER NOT NULL DEFAULT 0,
	escrow_tx_hash    TEXT NOT NULL DEFAULT '',
	escrow_release_at INTEGER,
	escrow_refunded   INTEGER,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS violations (
	id            TEXT PRIMARY KEY,
	scan_id       TEXT NOT NULL REFERENCES scans(id),
	rule          TEXT NOT NULL,
	impact        TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	help_url      TEXT NOT NULL DEFAULT '',
	criteria      TEXT NOT NULL DEFAULT '[]',
	aoda_relevant INTEGER NOT NULL DEFAULT 0,
	target        TEXT NOT NULL DEFAULT '',
	html          TEXT NOT NULL DEFAULT '',
	weight        INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS violations_scan ON violations(scan_id);

CREATE TABLE IF NOT EXISTS fixes (
	id           TEXT PRIMARY KEY,
	scan_id      TEXT NOT NULL REFERENCES scans(id),
	violation_id TEXT NOT NULL UNIQUE REFERENCES violations(id),
	file_path    TEXT NOT NULL DEFAULT '',
	original     TEXT NOT NULL DEFAULT '',
	fixed        TEXT NOT NULL DEFAULT '',
	explanation  TEXT NOT NULL DEFAULT '',
	applied      INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS fixes_scan ON fixes(scan_id);
`

// Store is the persistent Scan/Violation/Fix record set. Safe for
// concurrent use; each operation borrows one pooled connection.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
}

// Open creates (or opens) the database at path and applies the schema.
// Use ":memory:" with poolSize 1 for tests.
func Open(path string, poolSize int, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
				"PRAGMA foreign_keys=ON",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	logger.Info("store opened", "path", path, "pool_size", poolSize)
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// CreateScan inserts a new pending Scan and returns it with identity
// and timestamps filled.
func (s *Store) CreateScan(ctx context.Context, scan Scan) (Scan, error) {
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	if scan.Status == "" {
		scan.Status = StatusPending
	}
	now := time.Now().UTC()
	scan.CreatedAt = now
	scan.UpdatedAt = now

	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO scans (id, owner, repo_owner, repo_name, repo_url, branch, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				scan.ID, scan.Owner, scan.RepoOwner, scan.RepoName, scan.RepoURL,
				scan.Branch, string(scan.Status), now.Unix(), now.Unix(),
			}})
	})
	if err != nil {
		return Scan{}, fmt.Errorf("store: create scan: %w", err)
	}
	return scan, nil
}

// GetScan loads one Scan by id.
func (s *Store) GetScan(ctx context.Context, id string) (Scan, error) {
	var scan Scan
	found := false
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT * FROM scans WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				scan = scanFromRow(stmt)
				return nil
			},
		})
	})
	if err != nil {
		return Scan{}, fmt.Errorf("store: get scan %s: %w", id, err)
	}
	if !found {
		return Scan{}, fmt.Errorf("store: scan %s: %w", id, ErrNotFound)
	}
	return scan, nil
}

// ListScans returns all scans, newest first.
func (s *Store) ListScans(ctx context.Context) ([]Scan, error) {
	var scans []Scan
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT * FROM scans ORDER BY created_at DESC`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scans = append(scans, scanFromRow(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list scans: %w", err)
	}
	return scans, nil
}

// ClaimPending atomically claims the oldest pending scan by moving it
// to cloning, returning false when none is waiting. This is the
// daemon's polling entry point; the status change is the claim.
func (s *Store) ClaimPending(ctx context.Context) (Scan, bool, error) {
	var claimed Scan
	found := false
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE scans SET status = 'cloning', updated_at = ?
			WHERE id = (SELECT id FROM scans WHERE status = 'pending' ORDER BY created_at LIMIT 1)
			RETURNING *`,
			&sqlitex.ExecOptions{
				Args: []any{time.Now().UTC().Unix()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					claimed = scanFromRow(stmt)
					return nil
				},
			})
	})
	if err != nil {
		return Scan{}, false, fmt.Errorf("store: claim pending: %w", err)
	}
	return claimed, found, nil
}

// SetStatus transitions a scan's status, enforcing the state machine.
func (s *Store) SetStatus(ctx context.Context, id string, to Status) error {
	current, err := s.GetScan(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(current.Status, to) {
		return fmt.Errorf("store: illegal transition %s → %s for scan %s", current.Status, to, id)
	}
	return s.update(ctx, id, `status = ?`, string(to))
}

// SetFailure marks the scan failed with a (pre-sanitized) reason.
func (s *Store) SetFailure(ctx context.Context, id, reason string) error {
	return s.update(ctx, id, `status = 'failed', error_message = ?`, reason)
}

// SetProgress writes a live progress message without touching status.
// During fixing, clients poll this out of error_message.
func (s *Store) SetProgress(ctx context.Context, id, message string) error {
	return s.update(ctx, id, `error_message = ?`, message)
}

// SetScoreBefore records the pre-fix compliance score.
func (s *Store) SetScoreBefore(ctx context.Context, id string, score int) error {
	return s.update(ctx, id, `score_before = ?`, score)
}

// SetScoreAfter records the post-fix compliance score.
func (s *Store) SetScoreAfter(ctx context.Context, id string, score int) error {
	return s.update(ctx, id, `score_after = ?`, score)
}

// SetContainerID records the sandbox identifier for diagnostics.
func (s *Store) SetContainerID(ctx context.Context, id, containerID string) error {
	return s.update(ctx, id, `container_id = ?`, containerID)
}

// SetBeforeScreenshot stores the encoded "before" screenshot and its
// content hash.
func (s *Store) SetBeforeScreenshot(ctx context.Context, id string, raw []byte) error {
	encoded, hash := EncodeScreenshot(raw)
	return s.updateMany(ctx, id, `before_screenshot = ?, screenshot_hash = ?`, encoded, hash)
}

// SetAfterScreenshot stores the encoded "after" screenshot and its
// content hash.
func (s *Store) SetAfterScreenshot(ctx context.Context, id string, raw []byte) error {
	encoded, hash := EncodeScreenshot(raw)
	return s.updateMany(ctx, id, `after_screenshot = ?, screenshot_hash = ?`, encoded, hash)
}

// SetEscrow records the escrow lock reference. The fields travel
// together: partial escrow state is never stored.
func (s *Store) SetEscrow(ctx context.Context, id, owner string, sequence int64, txHash string, releaseAt time.Time) error {
	if owner == "" || txHash == "" {
		return fmt.Errorf("store: escrow fields must be populated together")
	}
	return s.updateMany(ctx, id,
		`escrow_owner = ?, escrow_sequence = ?, escrow_tx_hash = ?, escrow_release_at = ?`,
		owner, sequence, txHash, releaseAt.UTC().Unix())
}

// MarkRefunded records the refund timestamp on a failed scan.
func (s *Store) MarkRefunded(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, `escrow_refunded = ?`, at.UTC().Unix())
}

func (s *Store) update(ctx context.Context, id, setClause string, value any) error {
	return s.updateMany(ctx, id, setClause, value)
}

func (s *Store) updateMany(ctx context.Context, id, setClause string, values ...any) error {
	args := append(values, time.Now().UTC().Unix(), id)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		query := fmt.Sprintf(`UPDATE scans SET %s, updated_at = ? WHERE id = ?`, setClause)
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: update scan: %w", err)
	}
	return nil
}

// scanFromRow reads a scans row in schema column order.
func scanFromRow(stmt *sqlite.Stmt) Scan {
	scan := Scan{
		ID:               stmt.ColumnText(0),
		Owner:            stmt.ColumnText(1),
		RepoOwner:        stmt.ColumnText(2),
		RepoName:         stmt.ColumnText(3),
		RepoURL:          stmt.ColumnText(4),
		Branch:           stmt.ColumnText(5),
		Status:           Status(stmt.ColumnText(6)),
		ErrorMessage:     stmt.ColumnText(9),
		BeforeScreenshot: stmt.ColumnText(10),
		AfterScreenshot:  stmt.ColumnText(11),
		ScreenshotHash:   stmt.ColumnText(12),
		ContainerID:      stmt.ColumnText(13),
		EscrowOwner:      stmt.ColumnText(14),
		EscrowSequence:   stmt.ColumnInt64(15),
		EscrowTxHash:     stmt.ColumnText(16),
		CreatedAt:        time.Unix(stmt.ColumnInt64(19), 0).UTC(),
		UpdatedAt:        time.Unix(stmt.ColumnInt64(20), 0).UTC(),
	}
	if stmt.ColumnType(7) != sqlite.TypeNull {
		score := int(stmt.ColumnInt64(7))
		scan.ScoreBefore = &score
	}
	if stmt.ColumnType(8) != sqlite.TypeNull {
		score := int(stmt.ColumnInt64(8))
		scan.ScoreAfter = &score
	}
	if stmt.ColumnType(17) != sqlite.TypeNull {
		at := time.Unix(stmt.ColumnInt64(17), 0).UTC()
		scan.EscrowReleaseAt = &at
	}
	if stmt.ColumnType(18) != sqlite.TypeNull {
		at := time.Unix(stmt.ColumnInt64(18), 0).UTC()
		scan.EscrowRefunded = &at
	}
	return scan
}

// InsertViolations bulk-inserts the violation rows for a completed
// scan in one transaction.
func (s *Store) InsertViolations(ctx context.Context, scanID string, violations []Violation) error {
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endFn(&err)

		for i := range violations {
			violation := &violations[i]
			if violation.ID == "" {
				violation.ID = uuid.NewString()
			}
			violation.ScanID = scanID
			criteria, marshalErr := json.Marshal(violation.Criteria)
			if marshalErr != nil {
				return marshalErr
			}
			err = sqlitex.Execute(conn, `
				INSERT INTO violations (id, scan_id, rule, impact, description, help_url, criteria, aoda_relevant, target, html, weight)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: []any{
					violation.ID, scanID, violation.Rule, violation.Impact,
					violation.Description, violation.HelpURL, string(criteria),
					boolToInt(violation.AODARelevant), violation.Target,
					violation.HTML, violation.Weight,
				}})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: insert violations: %w", err)
	}
	return nil
}

// ListViolations returns a scan's violations in insertion order.
func (s *Store) ListViolations(ctx context.Context, scanID string) ([]Violation, error) {
	var violations []Violation
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, scan_id, rule, impact, description, help_url, criteria, aoda_relevant, target, html, weight
			FROM violations WHERE scan_id = ? ORDER BY rowid`,
			&sqlitex.ExecOptions{
				Args: []any{scanID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					violation := Violation{
						ID:           stmt.ColumnText(0),
						ScanID:       stmt.ColumnText(1),
						Rule:         stmt.ColumnText(2),
						Impact:       stmt.ColumnText(3),
						Description:  stmt.ColumnText(4),
						HelpURL:      stmt.ColumnText(5),
						AODARelevant: stmt.ColumnInt64(7) != 0,
						Target:       stmt.ColumnText(8),
						HTML:         stmt.ColumnText(9),
						Weight:       int(stmt.ColumnInt64(10)),
					}
					_ = json.Unmarshal([]byte(stmt.ColumnText(6)), &violation.Criteria)
					violations = append(violations, violation)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list violations: %w", err)
	}
	return violations, nil
}

// UpsertFix writes a fix keyed by violation id: at most one fix per
// violation exists at any time.
func (s *Store) UpsertFix(ctx context.Context, fix Fix) error {
	if fix.ID == "" {
		fix.ID = uuid.NewString()
	}
	if fix.Status == "" {
		fix.Status = FixPending
	}
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO fixes (id, scan_id, violation_id, file_path, original, fixed, explanation, applied, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(violation_id) DO UPDATE SET
				file_path = excluded.file_path,
				original = excluded.original,
				fixed = excluded.fixed,
				explanation = excluded.explanation,
				applied = excluded.applied,
				status = excluded.status`,
			&sqlitex.ExecOptions{Args: []any{
				fix.ID, fix.ScanID, fix.ViolationID, fix.FilePath, fix.Original,
				fix.Fixed, fix.Explanation, boolToInt(fix.Applied), string(fix.Status),
			}})
	})
	if err != nil {
		return fmt.Errorf("store: upsert fix: %w", err)
	}
	return nil
}

// ReplaceFixes wipes every fix for the scan and writes the new set in
// one transaction. A fixing re-run must fully replace, never merge,
// so differently-scoped runs cannot leave orphans.
func (s *Store) ReplaceFixes(ctx context.Context, scanID string, fixes []Fix) error {
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endFn(&err)

		if err = sqlitex.Execute(conn, `DELETE FROM fixes WHERE scan_id = ?`,
			&sqlitex.ExecOptions{Args: []any{scanID}}); err != nil {
			return err
		}
		for _, fix := range fixes {
			if fix.ID == "" {
				fix.ID = uuid.NewString()
			}
			if fix.Status == "" {
				fix.Status = FixPending
			}
			err = sqlitex.Execute(conn, `
				INSERT INTO fixes (id, scan_id, violation_id, file_path, original, fixed, explanation, applied, status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(violation_id) DO UPDATE SET
					file_path = excluded.file_path,
					original = excluded.original,
					fixed = excluded.fixed,
					explanation = excluded.explanation,
					applied = excluded.applied,
					status = excluded.status`,
				&sqlitex.ExecOptions{Args: []any{
					fix.ID, scanID, fix.ViolationID, fix.FilePath, fix.Original,
					fix.Fixed, fix.Explanation, boolToInt(fix.Applied), string(fix.Status),
				}})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: replace fixes: %w", err)
	}
	return nil
}

// ListFixes returns a scan's fixes.
func (s *Store) ListFixes(ctx context.Context, scanID string) ([]Fix, error) {
	var fixes []Fix
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, scan_id, violation_id, file_path, original, fixed, explanation, applied, status
			FROM fixes WHERE scan_id = ? ORDER BY rowid`,
			&sqlitex.ExecOptions{
				Args: []any{scanID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					fixes = append(fixes, Fix{
						ID:          stmt.ColumnText(0),
						ScanID:      stmt.ColumnText(1),
						ViolationID: stmt.ColumnText(2),
						FilePath:    stmt.ColumnText(3),
						Original:    stmt.ColumnText(4),
						Fixed:       stmt.ColumnText(5),
						Explanation: stmt.ColumnText(6),
						Applied:     stmt.ColumnInt64(7) != 0,
						Status:      FixStatus(stmt.ColumnText(8)),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list fixes: %w", err)
	}
	return fixes, nil
}

// SetFixStatus records a human review decision.
func (s *Store) SetFixStatus(ctx context.Context, fixID string, status FixStatus) error {
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `UPDATE fixes SET status = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(status), fixID}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("fix %s: %w", fixID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: set fix status: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
