// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package store

import "time"

// Status is the Scan lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusCloning  Status = "cloning"
	StatusScanning Status = "scanning"
	StatusFixing   Status = "fixing"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// validTransitions encodes the job state machine:
// pending → cloning → scanning → {complete|failed}, and from complete
// a fixing run that re-terminates in {complete|failed}. Fixing is
// re-entrant via complete.
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusCloning, StatusFailed},
	StatusCloning:  {StatusScanning, StatusFailed},
	StatusScanning: {StatusComplete, StatusFailed},
	StatusComplete: {StatusFixing},
	StatusFixing:   {StatusComplete, StatusFailed},
}

// CanTransition reports whether moving from one status to another is
// legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Scan is one audit run against one repository and branch.
type Scan struct {
	ID        string
	Owner     string
	RepoOwner string
	RepoName  string
	RepoURL   string
	Branch    string
	Status    Status

	// ScoreBefore and ScoreAfter are nullable 0–100 compliance
	// scores. ScoreAfter is only meaningful once the scan has passed
	// through fixing.
	ScoreBefore *int
	ScoreAfter  *int

	// ErrorMessage is the terminal failure reason, or — during
	// fixing — a live progress ticker clients poll.
	ErrorMessage string

	// BeforeScreenshot and AfterScreenshot are zstd+base64 PNG text.
	BeforeScreenshot string
	AfterScreenshot  string

	// ScreenshotHash is the blake3 hex digest of the most recent
	// raw screenshot, for integrity checks.
	ScreenshotHash string

	// ContainerID records the sandbox identifier for diagnostics.
	ContainerID string

	// Escrow reference fields are populated together or not at all.
	EscrowOwner     string
	EscrowSequence  int64
	EscrowTxHash    string
	EscrowReleaseAt *time.Time
	EscrowRefunded  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Violation is one stored accessibility failure instance (one per
// affected DOM node). Immutable once created.
type Violation struct {
	ID           string   `json:"id"`
	ScanID       string   `json:"scanId"`
	Rule         string   `json:"rule"`
	Impact       string   `json:"impact"`
	Description  string   `json:"description,omitempty"`
	HelpURL      string   `json:"helpUrl,omitempty"`
	Criteria     []string `json:"criteria,omitempty"`
	AODARelevant bool     `json:"aodaRelevant"`
	Target       string   `json:"target,omitempty"`
	HTML         string   `json:"html,omitempty"`
	Weight       int      `json:"weight"`
}

// FixStatus is the human-review state of a proposed fix.
type FixStatus string

const (
	FixPending  FixStatus = "pending"
	FixAccepted FixStatus = "accepted"
	FixRejected FixStatus = "rejected"
)

// Fix is a proposed remediation for exactly one Violation. At most one
// fix exists per violation (unique constraint; writes upsert).
type Fix struct {
	ID          string `json:"id"`
	ScanID      string `json:"scanId"`
	ViolationID string `json:"violationId"`
	FilePath    string `json:"filePath"`
	Original    string `json:"originalCode"`
	Fixed       string `json:"fixedCode"`
	Explanation string `json:"explanation,omitempty"`

	// Applied records whether the patch matched and was written to
	// the working tree. An unapplied fix is still a valid review
	// artifact.
	Applied bool `json:"applied"`

	Status FixStatus `json:"status"`
}
