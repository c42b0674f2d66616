// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"time"

	"github.com/remedy-foundation/remedy/lib/store"
)

// scanJSON is the wire form of a Scan. Screenshots stay in their
// stored zstd+base64 text form; clients decode them on demand.
type scanJSON struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	RepoOwner string `json:"repoOwner"`
	RepoName  string `json:"repoName"`
	RepoURL   string `json:"repoUrl"`
	Branch    string `json:"branch,omitempty"`
	Status    string `json:"status"`

	ScoreBefore *int `json:"scoreBefore,omitempty"`
	ScoreAfter  *int `json:"scoreAfter,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`

	BeforeScreenshot string `json:"beforeScreenshot,omitempty"`
	AfterScreenshot  string `json:"afterScreenshot,omitempty"`
	ScreenshotHash   string `json:"screenshotHash,omitempty"`

	ContainerID string `json:"containerId,omitempty"`

	Escrow *escrowJSON `json:"escrow,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type escrowJSON struct {
	Owner             string     `json:"owner"`
	Sequence          int64      `json:"sequence"`
	TxHash            string     `json:"txHash"`
	ReleaseEligibleAt *time.Time `json:"releaseEligibleAt,omitempty"`
	RefundedAt        *time.Time `json:"refundedAt,omitempty"`
}

func toScanJSON(scan store.Scan) scanJSON {
	out := scanJSON{
		ID:               scan.ID,
		Owner:            scan.Owner,
		RepoOwner:        scan.RepoOwner,
		RepoName:         scan.RepoName,
		RepoURL:          scan.RepoURL,
		Branch:           scan.Branch,
		Status:           string(scan.Status),
		ScoreBefore:      scan.ScoreBefore,
		ScoreAfter:       scan.ScoreAfter,
		ErrorMessage:     scan.ErrorMessage,
		BeforeScreenshot: scan.BeforeScreenshot,
		AfterScreenshot:  scan.AfterScreenshot,
		ScreenshotHash:   scan.ScreenshotHash,
		ContainerID:      scan.ContainerID,
		CreatedAt:        scan.CreatedAt,
		UpdatedAt:        scan.UpdatedAt,
	}
	if scan.EscrowTxHash != "" {
		out.Escrow = &escrowJSON{
			Owner:             scan.EscrowOwner,
			Sequence:          scan.EscrowSequence,
			TxHash:            scan.EscrowTxHash,
			ReleaseEligibleAt: scan.EscrowReleaseAt,
			RefundedAt:        scan.EscrowRefunded,
		}
	}
	return out
}

type violationJSON struct {
	ID           string   `json:"id"`
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

func toViolationJSON(violation store.Violation) violationJSON {
	return violationJSON{
		ID:           violation.ID,
		Rule:         violation.Rule,
		Impact:       violation.Impact,
		Description:  violation.Description,
		HelpURL:      violation.HelpURL,
		Criteria:     violation.Criteria,
		AODARelevant: violation.AODARelevant,
		Target:       violation.Target,
		HTML:         violation.HTML,
		Weight:       violation.Weight,
	}
}

type fixJSON struct {
	ID          string `json:"id"`
	ViolationID string `json:"violationId"`
	FilePath    string `json:"filePath"`
	Original    string `json:"originalCode"`
	Fixed       string `json:"fixedCode"`
	Explanation string `json:"explanation,omitempty"`
	Applied     bool   `json:"applied"`
	Status      string `json:"status"`
}

func toFixJSON(fix store.Fix) fixJSON {
	return fixJSON{
		ID:          fix.ID,
		ViolationID: fix.ViolationID,
		FilePath:    fix.FilePath,
		Original:    fix.Original,
		Fixed:       fix.Fixed,
		Explanation: fix.Explanation,
		Applied:     fix.Applied,
		Status:      string(fix.Status),
	}
}
