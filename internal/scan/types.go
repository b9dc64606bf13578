// Package scan implements the attachment audit engine: pagination over the
// issue source, parallel download and hashing, deterministic duplicate
// aggregation, and checkpointed resume.
package scan

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a scan.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// State is the persistent record of a scan's lifecycle. It is created at
// scan start and mutated only by the orchestrator.
type State struct {
	ScanID          string        `json:"scan_id"`
	Status          Status        `json:"status"`
	TotalIssues     int           `json:"total_issues"`
	ProcessedIssues int           `json:"processed_issues"`
	StartTime       time.Time     `json:"start_time"`
	CompletionTime  time.Time     `json:"completion_time,omitzero"`
	JQL             string        `json:"jql_query"`
	Duration        time.Duration `json:"duration"`
}

// Anchor records where pagination should resume. StartAt names the first
// page that has not been fully merged; ProcessedAttachmentIDs lists
// attachments of that page already merged before an interruption, so they
// are skipped on resume instead of being counted twice.
type Anchor struct {
	StartAt                int      `json:"start_at"`
	LastIssueKey           string   `json:"last_issue_key"`
	ProcessedAttachmentIDs []string `json:"processed_attachment_ids,omitempty"`
}

// Snapshot is the full durable state of a scan: lifecycle record,
// aggregate statistics, every duplicate group, and the resume anchor.
// Save must be atomic — either the whole snapshot lands or the previous
// one remains readable.
type Snapshot struct {
	State  State
	Stats  *Stats
	Groups map[string]*DuplicateGroup
	Anchor Anchor
}

// ErrSnapshotNotFound is returned by Persister.LoadSnapshot for an unknown
// scan ID.
var ErrSnapshotNotFound = errors.New("scan snapshot not found")

// Persister is the checkpoint store contract the orchestrator depends on.
// Only the orchestrator goroutine ever calls Save, so implementations need
// no write-side locking.
type Persister interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, scanID string) (*Snapshot, error)
}
