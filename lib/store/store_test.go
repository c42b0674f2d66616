// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "remedy.db"), 1, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestScan(t *testing.T, s *Store) Scan {
	t.Helper()
	scan, err := s.CreateScan(context.Background(), Scan{
		Owner:     "user-1",
		RepoOwner: "acme",
		RepoName:  "storefront",
		RepoURL:   "https://github.com/acme/storefront.git",
		Branch:    "main",
	})
	if err != nil {
		t.Fatalf("create scan: %v", err)
	}
	return scan
}

func TestScanLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scan := createTestScan(t, s)

	if scan.Status != StatusPending {
		t.Fatalf("new scan status = %s", scan.Status)
	}

	t.Run("legal transitions", func(t *testing.T) {
		for _, to := range []Status{StatusCloning, StatusScanning, StatusComplete, StatusFixing, StatusComplete} {
			if err := s.SetStatus(ctx, scan.ID, to); err != nil {
				t.Fatalf("transition to %s: %v", to, err)
			}
		}
	})

	t.Run("illegal transition rejected", func(t *testing.T) {
		// Scan is now complete; complete → scanning is not legal.
		if err := s.SetStatus(ctx, scan.ID, StatusScanning); err == nil {
			t.Fatal("complete → scanning must fail")
		}
	})

	t.Run("scores round-trip as nullable", func(t *testing.T) {
		loaded, err := s.GetScan(ctx, scan.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if loaded.ScoreBefore != nil || loaded.ScoreAfter != nil {
			t.Fatal("scores must start null")
		}

		if err := s.SetScoreBefore(ctx, scan.ID, 30); err != nil {
			t.Fatalf("set score: %v", err)
		}
		loaded, _ = s.GetScan(ctx, scan.ID)
		if loaded.ScoreBefore == nil || *loaded.ScoreBefore != 30 {
			t.Fatalf("score before = %v", loaded.ScoreBefore)
		}
		if loaded.ScoreAfter != nil {
			t.Fatal("score after must remain null")
		}
	})
}

func TestCanTransition(t *testing.T) {
	legal := [][2]Status{
		{StatusPending, StatusCloning},
		{StatusCloning, StatusScanning},
		{StatusScanning, StatusComplete},
		{StatusScanning, StatusFailed},
		{StatusComplete, StatusFixing},
		{StatusFixing, StatusComplete},
		{StatusFixing, StatusFailed},
	}
	for _, pair := range legal {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("%s → %s should be legal", pair[0], pair[1])
		}
	}
	illegal := [][2]Status{
		{StatusPending, StatusScanning},
		{StatusFailed, StatusFixing},
		{StatusComplete, StatusCloning},
	}
	for _, pair := range illegal {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("%s → %s should be illegal", pair[0], pair[1])
		}
	}
}

func TestClaimPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if found {
		t.Fatal("claimed from empty store")
	}

	scan := createTestScan(t, s)
	claimed, found, err := s.ClaimPending(ctx)
	if err != nil || !found {
		t.Fatalf("claim: %v found=%v", err, found)
	}
	if claimed.ID != scan.ID || claimed.Status != StatusCloning {
		t.Fatalf("claimed %+v", claimed)
	}

	_, found, _ = s.ClaimPending(ctx)
	if found {
		t.Fatal("same scan claimed twice")
	}
}

func TestViolations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scan := createTestScan(t, s)

	violations := []Violation{
		{Rule: "color-contrast", Impact: "serious", Criteria: []string{"1.4.3"}, AODARelevant: true, Weight: 7},
		{Rule: "color-contrast", Impact: "serious", Criteria: []string{"1.4.3"}, AODARelevant: true, Weight: 7},
		{Rule: "image-alt", Impact: "critical", Criteria: []string{"1.1.1"}, AODARelevant: true, Weight: 10},
	}
	if err := s.InsertViolations(ctx, scan.ID, violations); err != nil {
		t.Fatalf("insert: %v", err)
	}

	loaded, err := s.ListViolations(ctx, scan.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("got %d rows", len(loaded))
	}
	if loaded[0].Criteria[0] != "1.4.3" || !loaded[0].AODARelevant {
		t.Fatalf("row 0 = %+v", loaded[0])
	}
}

func TestFixUpsertIdempotency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scan := createTestScan(t, s)

	violations := []Violation{{Rule: "image-alt", Impact: "critical"}}
	if err := s.InsertViolations(ctx, scan.ID, violations); err != nil {
		t.Fatalf("insert violations: %v", err)
	}
	violationID := violations[0].ID

	fix := Fix{ScanID: scan.ID, ViolationID: violationID, FilePath: "src/App.jsx", Original: "<img>", Fixed: `<img alt="hero">`}

	// Writing the same fix twice must leave exactly one row.
	if err := s.UpsertFix(ctx, fix); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertFix(ctx, fix); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	fixes, err := s.ListFixes(ctx, scan.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fixes) != 1 {
		t.Fatalf("got %d fixes, want 1", len(fixes))
	}

	t.Run("replace wipes prior run", func(t *testing.T) {
		replacement := []Fix{{ScanID: scan.ID, ViolationID: violationID, FilePath: "src/App.jsx", Fixed: `<img alt="better">`, Applied: true}}
		if err := s.ReplaceFixes(ctx, scan.ID, replacement); err != nil {
			t.Fatalf("replace: %v", err)
		}
		fixes, _ := s.ListFixes(ctx, scan.ID)
		if len(fixes) != 1 || fixes[0].Fixed != `<img alt="better">` || !fixes[0].Applied {
			t.Fatalf("replacement not authoritative: %+v", fixes)
		}
	})

	t.Run("replace with empty set clears everything", func(t *testing.T) {
		if err := s.ReplaceFixes(ctx, scan.ID, nil); err != nil {
			t.Fatalf("replace: %v", err)
		}
		fixes, _ := s.ListFixes(ctx, scan.ID)
		if len(fixes) != 0 {
			t.Fatalf("orphaned fixes remain: %+v", fixes)
		}
	})
}

func TestFixReview(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scan := createTestScan(t, s)

	violations := []Violation{{Rule: "label", Impact: "serious"}}
	if err := s.InsertViolations(ctx, scan.ID, violations); err != nil {
		t.Fatalf("insert violations: %v", err)
	}
	fix := Fix{ScanID: scan.ID, ViolationID: violations[0].ID}
	if err := s.UpsertFix(ctx, fix); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	fixes, _ := s.ListFixes(ctx, scan.ID)
	if fixes[0].Status != FixPending {
		t.Fatalf("initial status = %s", fixes[0].Status)
	}

	if err := s.SetFixStatus(ctx, fixes[0].ID, FixAccepted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	fixes, _ = s.ListFixes(ctx, scan.ID)
	if fixes[0].Status != FixAccepted {
		t.Fatalf("status = %s", fixes[0].Status)
	}
}

func TestEscrowFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scan := createTestScan(t, s)

	t.Run("partial escrow rejected", func(t *testing.T) {
		if err := s.SetEscrow(ctx, scan.ID, "", 1, "", time.Now()); err == nil {
			t.Fatal("partial escrow must be rejected")
		}
	})

	t.Run("full escrow round-trips", func(t *testing.T) {
		releaseAt := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
		if err := s.SetEscrow(ctx, scan.ID, "rTreasury", 42, "ABCDEF", releaseAt); err != nil {
			t.Fatalf("set escrow: %v", err)
		}
		loaded, _ := s.GetScan(ctx, scan.ID)
		if loaded.EscrowOwner != "rTreasury" || loaded.EscrowSequence != 42 || loaded.EscrowTxHash != "ABCDEF" {
			t.Fatalf("escrow = %+v", loaded)
		}
		if loaded.EscrowReleaseAt == nil || !loaded.EscrowReleaseAt.Equal(releaseAt) {
			t.Fatalf("release at = %v, want %v", loaded.EscrowReleaseAt, releaseAt)
		}
		if loaded.EscrowRefunded != nil {
			t.Fatal("refunded must start null")
		}
	})
}

func TestScreenshotCodec(t *testing.T) {
	raw := bytes.Repeat([]byte("PNG-ish data "), 1000)

	encoded, hash := EncodeScreenshot(raw)
	if encoded == "" || hash == "" {
		t.Fatal("empty encoding")
	}
	if len(encoded) >= len(raw) {
		t.Fatalf("repetitive payload did not compress: %d >= %d", len(encoded), len(raw))
	}

	decoded, err := DecodeScreenshot(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Fatal("round trip mismatch")
	}

	t.Run("empty input", func(t *testing.T) {
		encoded, hash := EncodeScreenshot(nil)
		if encoded != "" || hash != "" {
			t.Fatal("empty screenshot must encode to empty")
		}
		decoded, err := DecodeScreenshot("")
		if err != nil || decoded != nil {
			t.Fatalf("decode empty: %v %v", decoded, err)
		}
	})
}

func TestFailureMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scan := createTestScan(t, s)

	if err := s.SetFailure(ctx, scan.ID, "clone failed: repository not found"); err != nil {
		t.Fatalf("set failure: %v", err)
	}
	loaded, _ := s.GetScan(ctx, scan.ID)
	if loaded.Status != StatusFailed || !strings.Contains(loaded.ErrorMessage, "clone failed") {
		t.Fatalf("loaded = %+v", loaded)
	}
}
