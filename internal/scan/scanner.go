package scan

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/drinkits/attachment-architect/internal/jira"
	"github.com/drinkits/attachment-architect/internal/metrics"
)

// Source is the issue-query side of the Jira client.
type Source interface {
	CountIssues(ctx context.Context, jql string) (int, error)
	SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (*jira.SearchResult, error)
}

// BatchProcessor is the download-and-hash side of the pipeline.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, atts []jira.Attachment) ([]HashResult, error)
}

// ScannerConfig tunes the orchestration loop.
type ScannerConfig struct {
	PageSize           int // issues fetched per search page, default 100
	CheckpointInterval int // issues between checkpoint saves, default 100
	TopQuickWins       int // quick-win entries computed at finalization, default 3
}

func (c *ScannerConfig) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 100
	}
	if c.TopQuickWins <= 0 {
		c.TopQuickWins = 3
	}
}

// Options selects what a Scan run does. A non-empty ResumeID resumes the
// named scan from its last checkpoint instead of starting fresh.
type Options struct {
	JQL      string
	ResumeID string
}

// Result is the outcome of a completed scan.
type Result struct {
	State     State
	Stats     *Stats
	Groups    map[string]*DuplicateGroup
	QuickWins []QuickWin
}

// Scanner drives the scan: paginates over the source, dispatches each
// page to the engine, merges results in enumeration order, and persists
// checkpoints. All shared-state mutation happens on the goroutine that
// calls Scan; download workers only ever return values.
type Scanner struct {
	source   Source
	engine   BatchProcessor
	store    Persister
	cfg      ScannerConfig
	progress *Progress
	metrics  *metrics.Metrics
}

// NewScanner creates a Scanner. progress and m may be nil.
func NewScanner(source Source, engine BatchProcessor, store Persister, cfg ScannerConfig, progress *Progress, m *metrics.Metrics) *Scanner {
	cfg.applyDefaults()
	if progress == nil {
		progress = &Progress{}
	}
	return &Scanner{
		source:   source,
		engine:   engine,
		store:    store,
		cfg:      cfg,
		progress: progress,
		metrics:  m,
	}
}

// Scan executes a full audit. Cancelling ctx interrupts the scan cleanly:
// a checkpoint is written synchronously before returning, and the run can
// be resumed later with Options.ResumeID.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	state, agg, anchor, err := s.initialize(ctx, opts)
	if err != nil {
		return nil, err
	}

	slog.Info("scan started",
		"scan_id", state.ScanID,
		"total_issues", state.TotalIssues,
		"start_at", anchor.StartAt,
		"resumed", opts.ResumeID != "")

	// Attachments merged after the checkpointed anchor but before an
	// interruption; skipped on the first page after resume. pending keeps
	// the same IDs in every anchor saved until that page finishes merging,
	// so a second interrupt on the same page cannot lose them.
	skip := make(map[string]bool, len(anchor.ProcessedAttachmentIDs))
	for _, id := range anchor.ProcessedAttachmentIDs {
		skip[id] = true
	}
	pending := slices.Clone(anchor.ProcessedAttachmentIDs)

	issuesSinceCheckpoint := 0
	startAt := anchor.StartAt
	lastIssueKey := anchor.LastIssueKey

	for {
		if ctx.Err() != nil {
			return nil, s.interrupt(state, agg, Anchor{
				StartAt:                startAt,
				LastIssueKey:           lastIssueKey,
				ProcessedAttachmentIDs: pending,
			})
		}

		page, err := s.source.SearchIssues(ctx, state.JQL, startAt, s.cfg.PageSize)
		if err != nil {
			at := Anchor{
				StartAt:                startAt,
				LastIssueKey:           lastIssueKey,
				ProcessedAttachmentIDs: pending,
			}
			if ctx.Err() != nil {
				return nil, s.interrupt(state, agg, at)
			}
			return nil, s.fail(state, agg, at, fmt.Errorf("fetch page at %d: %w", startAt, err))
		}
		if len(page.Issues) == 0 {
			break
		}

		// Flatten the page's attachments in enumeration order, remembering
		// which issue owns each slot.
		var batch []jira.Attachment
		var owners []jira.Issue
		for _, issue := range page.Issues {
			for _, att := range issue.Fields.Attachments {
				batch = append(batch, att)
				owners = append(owners, issue)
			}
		}

		results, err := s.engine.ProcessBatch(ctx, batch)
		if err != nil {
			// Fatal engine error (auth/permission). Keep the last good
			// checkpoint: this page was not merged.
			return nil, s.fail(state, agg, Anchor{
				StartAt:                startAt,
				LastIssueKey:           lastIssueKey,
				ProcessedAttachmentIDs: pending,
			}, err)
		}

		// Merge sequentially in the original enumeration order. Canonical
		// selection depends on this order, never on download completion.
		// Seeding from pending keeps a resumed page's earlier merges in any
		// anchor saved before the page completes.
		mergedIDs := slices.Clone(pending)
		for i, res := range results {
			if ctx.Err() != nil {
				return nil, s.interrupt(state, agg, Anchor{
					StartAt:                startAt,
					LastIssueKey:           lastIssueKey,
					ProcessedAttachmentIDs: mergedIDs,
				})
			}
			if res.Kind == DigestFailed {
				continue
			}
			if skip[res.AttachmentID] {
				continue
			}
			s.merge(agg, owners[i], batch[i], res)
			mergedIDs = append(mergedIDs, res.AttachmentID)
		}
		// The skip set only ever applies to the page the interrupt landed
		// in; once that page is fully merged the anchor moves past it.
		skip = nil
		pending = nil

		state.ProcessedIssues += len(page.Issues)
		lastIssueKey = page.Issues[len(page.Issues)-1].Key
		issuesSinceCheckpoint += len(page.Issues)
		startAt += len(page.Issues)

		s.progress.IssuesProcessed.Add(int64(len(page.Issues)))
		s.metrics.IssuesScanned(len(page.Issues))

		if issuesSinceCheckpoint >= s.cfg.CheckpointInterval {
			if err := s.checkpoint(state, agg, Anchor{StartAt: startAt, LastIssueKey: lastIssueKey}); err != nil {
				return nil, s.fail(state, agg, Anchor{StartAt: startAt, LastIssueKey: lastIssueKey},
					fmt.Errorf("checkpoint: %w", err))
			}
			issuesSinceCheckpoint = 0
		}
	}

	return s.finalize(state, agg, Anchor{StartAt: startAt, LastIssueKey: lastIssueKey})
}

// initialize creates a fresh scan or restores one from its checkpoint.
func (s *Scanner) initialize(ctx context.Context, opts Options) (State, *Aggregator, Anchor, error) {
	if opts.ResumeID != "" {
		snap, err := s.store.LoadSnapshot(ctx, opts.ResumeID)
		if err != nil {
			return State{}, nil, Anchor{}, fmt.Errorf("resume %s: %w", opts.ResumeID, err)
		}
		if snap.State.Status == StatusCompleted {
			return State{}, nil, Anchor{}, fmt.Errorf("scan %s is already completed", opts.ResumeID)
		}
		snap.State.Status = StatusRunning
		slog.Info("resuming from checkpoint",
			"scan_id", opts.ResumeID, "start_at", snap.Anchor.StartAt)
		return snap.State, Restore(snap.Groups, snap.Stats), snap.Anchor, nil
	}

	total, err := s.source.CountIssues(ctx, opts.JQL)
	if err != nil {
		return State{}, nil, Anchor{}, fmt.Errorf("count issues: %w", err)
	}

	state := State{
		ScanID:      uuid.NewString()[:8],
		Status:      StatusRunning,
		TotalIssues: total,
		StartTime:   time.Now().UTC(),
		JQL:         opts.JQL,
	}
	agg := NewAggregator()

	if err := s.checkpoint(state, agg, Anchor{}); err != nil {
		return State{}, nil, Anchor{}, fmt.Errorf("save initial state: %w", err)
	}
	return state, agg, Anchor{}, nil
}

// merge feeds one result into the aggregator and mirrors the classification
// into the live counters.
func (s *Scanner) merge(agg *Aggregator, issue jira.Issue, att jira.Attachment, res HashResult) {
	before := agg.Stats().DuplicateFiles
	agg.Merge(issue, att, res)

	s.progress.FilesProcessed.Add(1)
	if agg.Stats().DuplicateFiles > before {
		s.progress.DuplicateFiles.Add(1)
		s.progress.WastedBytes.Add(att.Size)
	}
}

// checkpoint persists the full snapshot. Uses a background context so a
// save triggered by cancellation still lands.
func (s *Scanner) checkpoint(state State, agg *Aggregator, anchor Anchor) error {
	err := s.store.SaveSnapshot(context.Background(), &Snapshot{
		State:  state,
		Stats:  agg.Stats(),
		Groups: agg.Groups(),
		Anchor: anchor,
	})
	if err != nil {
		return err
	}
	s.progress.Checkpoints.Add(1)
	s.metrics.CheckpointSaved()
	return nil
}

// interrupt saves a checkpoint and marks the scan resumable.
func (s *Scanner) interrupt(state State, agg *Aggregator, anchor Anchor) error {
	state.Status = StatusInterrupted
	if err := s.checkpoint(state, agg, anchor); err != nil {
		slog.Error("save checkpoint on interrupt", "scan_id", state.ScanID, "error", err)
	}
	slog.Warn("scan interrupted",
		"scan_id", state.ScanID, "processed_issues", state.ProcessedIssues)
	return fmt.Errorf("scan %s interrupted: %w", state.ScanID, context.Canceled)
}

// fail marks the scan failed, preserving the last good checkpoint, and
// returns the terminal error.
func (s *Scanner) fail(state State, agg *Aggregator, anchor Anchor, cause error) error {
	state.Status = StatusFailed
	if err := s.checkpoint(state, agg, anchor); err != nil {
		slog.Error("save state on failure", "scan_id", state.ScanID, "error", err)
	}
	slog.Error("scan failed", "scan_id", state.ScanID, "error", cause)
	return fmt.Errorf("scan %s failed: %w", state.ScanID, cause)
}

// finalize computes quick wins, marks the scan completed, and persists the
// final snapshot.
func (s *Scanner) finalize(state State, agg *Aggregator, anchor Anchor) (*Result, error) {
	state.Status = StatusCompleted
	state.CompletionTime = time.Now().UTC()
	state.Duration = state.CompletionTime.Sub(state.StartTime)

	if err := s.checkpoint(state, agg, anchor); err != nil {
		return nil, s.fail(state, agg, anchor, fmt.Errorf("save final snapshot: %w", err))
	}

	stats := agg.Stats()
	slog.Info("scan completed",
		"scan_id", state.ScanID,
		"issues", state.ProcessedIssues,
		"files", stats.TotalFiles,
		"duplicates", stats.DuplicateFiles,
		"wasted_bytes", stats.DuplicateSize,
		"duration", state.Duration)

	return &Result{
		State:     state,
		Stats:     stats,
		Groups:    agg.Groups(),
		QuickWins: agg.QuickWins(s.cfg.TopQuickWins),
	}, nil
}
