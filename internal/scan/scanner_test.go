package scan

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/drinkits/attachment-architect/internal/jira"
)

// corpusKeys and corpusSpec define a 9-issue corpus with a mix of unique
// and shared attachment bodies across issues.
var corpusKeys = []string{
	"DEMO-1", "DEMO-2", "DEMO-3", "DEMO-4", "DEMO-5",
	"DEMO-6", "DEMO-7", "DEMO-8", "DEMO-9",
}

var corpusSpec = map[string][]string{
	"DEMO-1": {"alpha", "beta"},
	"DEMO-2": {"alpha"},
	"DEMO-3": {},
	"DEMO-4": {"gamma", "beta", "beta"},
	"DEMO-5": {"delta"},
	"DEMO-6": {"alpha", "epsilon"},
	"DEMO-7": {"zeta"},
	"DEMO-8": {"zeta", "gamma"},
	"DEMO-9": {"unique-tail"},
}

// runFullScan runs a complete scan over the shared corpus with pageSize
// and checkpointInterval and returns the result and store.
func runFullScan(t *testing.T, pageSize, checkpointInterval int) (*Result, *memStore) {
	t.Helper()
	issues, fetcher := buildCorpus(t, corpusSpec, corpusKeys)
	source := &fakeSource{issues: issues}
	store := newMemStore()
	scanner := NewScanner(source, newTestEngine(fetcher), store, ScannerConfig{
		PageSize:           pageSize,
		CheckpointInterval: checkpointInterval,
	}, nil, nil)

	res, err := scanner.Scan(context.Background(), Options{JQL: "project = DEMO"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return res, store
}

func TestScanCompletes(t *testing.T) {
	res, store := runFullScan(t, 3, 3)

	if res.State.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", res.State.Status)
	}
	if res.State.ProcessedIssues != len(corpusKeys) {
		t.Errorf("processed_issues = %d, want %d", res.State.ProcessedIssues, len(corpusKeys))
	}

	// 13 attachments total; alpha ×3, beta ×3, gamma ×2, zeta ×2 → 7
	// canonical bodies, 6 duplicates.
	if res.Stats.TotalFiles != 13 {
		t.Errorf("total_files = %d, want 13", res.Stats.TotalFiles)
	}
	if res.Stats.CanonicalFiles != 7 {
		t.Errorf("canonical_files = %d, want 7", res.Stats.CanonicalFiles)
	}
	if res.Stats.DuplicateFiles != 6 {
		t.Errorf("duplicate_files = %d, want 6", res.Stats.DuplicateFiles)
	}
	if res.Stats.TotalFiles != res.Stats.CanonicalFiles+res.Stats.DuplicateFiles {
		t.Error("count invariant violated")
	}
	if res.Stats.DegradedFiles != 0 {
		t.Errorf("degraded_files = %d, want 0", res.Stats.DegradedFiles)
	}

	// Final snapshot is loadable and completed.
	snap, err := store.LoadSnapshot(context.Background(), res.State.ScanID)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.State.Status != StatusCompleted {
		t.Errorf("persisted status = %q, want completed", snap.State.Status)
	}
}

func TestScanDeterministicCanonicals(t *testing.T) {
	first, _ := runFullScan(t, 4, 100)
	second, _ := runFullScan(t, 4, 100)

	if len(first.Groups) != len(second.Groups) {
		t.Fatalf("group counts differ: %d vs %d", len(first.Groups), len(second.Groups))
	}
	for digest, g1 := range first.Groups {
		g2 := second.Groups[digest]
		if g2 == nil {
			t.Fatalf("digest %s missing in second run", digest)
		}
		if g1.CanonicalIssueKey != g2.CanonicalIssueKey ||
			g1.CanonicalAttachmentID != g2.CanonicalAttachmentID {
			t.Errorf("canonical for %s differs: %s/%s vs %s/%s", digest,
				g1.CanonicalIssueKey, g1.CanonicalAttachmentID,
				g2.CanonicalIssueKey, g2.CanonicalAttachmentID)
		}
	}

	// Canonical is the first occurrence in enumeration order: alpha first
	// appears as DEMO-1's first attachment.
	for _, g := range first.Groups {
		if g.FileName == "DEMO-1-file0.bin" && g.CanonicalIssueKey != "DEMO-1" {
			t.Errorf("alpha canonical = %s, want DEMO-1", g.CanonicalIssueKey)
		}
	}
}

func TestScanInterruptAndResumeMatchesSingleRun(t *testing.T) {
	baseline, _ := runFullScan(t, 3, 100)

	// Interrupted run: SIGINT lands after the second page is served, so
	// pages one and two worth of issues may be merged but not page three.
	issues, fetcher := buildCorpus(t, corpusSpec, corpusKeys)
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{issues: issues, cancelAfter: 2, cancel: cancel}
	store := newMemStore()
	cfg := ScannerConfig{PageSize: 3, CheckpointInterval: 3}

	scanner := NewScanner(source, newTestEngine(fetcher), store, cfg, nil, nil)
	_, err := scanner.Scan(ctx, Options{JQL: "project = DEMO"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("interrupted scan err = %v, want context.Canceled", err)
	}

	// Exactly one snapshot exists, in interrupted state, with an anchor
	// strictly before the end of the corpus.
	var scanID string
	for id := range store.snaps {
		scanID = id
	}
	snap, err := store.LoadSnapshot(context.Background(), scanID)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.State.Status != StatusInterrupted {
		t.Fatalf("status after interrupt = %q, want interrupted", snap.State.Status)
	}
	if snap.Anchor.StartAt >= len(corpusKeys) {
		t.Fatalf("anchor start_at = %d, scan should not have finished", snap.Anchor.StartAt)
	}

	// Resume with a fresh source and complete.
	issues2, fetcher2 := buildCorpus(t, corpusSpec, corpusKeys)
	resumed := NewScanner(&fakeSource{issues: issues2}, newTestEngine(fetcher2), store, cfg, nil, nil)
	res, err := resumed.Scan(context.Background(), Options{ResumeID: scanID})
	if err != nil {
		t.Fatalf("resumed Scan: %v", err)
	}

	if !reflect.DeepEqual(res.Stats, baseline.Stats) {
		t.Errorf("resumed stats differ from single run:\n got %+v\nwant %+v",
			res.Stats, baseline.Stats)
	}
	if len(res.Groups) != len(baseline.Groups) {
		t.Fatalf("group count %d, want %d", len(res.Groups), len(baseline.Groups))
	}
	for digest, g := range baseline.Groups {
		r := res.Groups[digest]
		if r == nil {
			t.Fatalf("digest %s missing after resume", digest)
		}
		if r.DuplicateCount != g.DuplicateCount || r.TotalWastedSpace != g.TotalWastedSpace {
			t.Errorf("group %s: count/waste %d/%d, want %d/%d", digest,
				r.DuplicateCount, r.TotalWastedSpace, g.DuplicateCount, g.TotalWastedSpace)
		}
		if r.CanonicalIssueKey != g.CanonicalIssueKey {
			t.Errorf("group %s canonical %s, want %s", digest,
				r.CanonicalIssueKey, g.CanonicalIssueKey)
		}
	}
}

func TestScanResumeSkipsPreMergedAttachments(t *testing.T) {
	// Simulate an interrupt that landed mid-page: the checkpoint anchors
	// the page itself and lists the attachments already merged from it.
	issues, fetcher := buildCorpus(t, corpusSpec, corpusKeys)
	store := newMemStore()
	cfg := ScannerConfig{PageSize: len(corpusKeys), CheckpointInterval: 100}

	// Build the pre-interrupt state by merging the first two attachments
	// of the single page (DEMO-1's alpha and beta).
	agg := NewAggregator()
	engine := newTestEngine(fetcher)
	firstTwo := issues[0].Fields.Attachments
	results, err := engine.ProcessBatch(context.Background(), firstTwo)
	if err != nil {
		t.Fatal(err)
	}
	var mergedIDs []string
	for i, res := range results {
		agg.Merge(issues[0], firstTwo[i], res)
		mergedIDs = append(mergedIDs, res.AttachmentID)
	}

	snap := &Snapshot{
		State: State{
			ScanID:      "midpage1",
			Status:      StatusInterrupted,
			TotalIssues: len(corpusKeys),
			JQL:         "project = DEMO",
		},
		Stats:  agg.Stats(),
		Groups: agg.Groups(),
		Anchor: Anchor{StartAt: 0, ProcessedAttachmentIDs: mergedIDs},
	}
	if err := store.SaveSnapshot(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	issues2, fetcher2 := buildCorpus(t, corpusSpec, corpusKeys)
	scanner := NewScanner(&fakeSource{issues: issues2}, newTestEngine(fetcher2), store, cfg, nil, nil)
	res, err := scanner.Scan(context.Background(), Options{ResumeID: "midpage1"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}

	baseline, _ := runFullScan(t, len(corpusKeys), 100)
	if res.Stats.TotalFiles != baseline.Stats.TotalFiles {
		t.Errorf("total_files = %d, want %d (pre-merged attachments double counted?)",
			res.Stats.TotalFiles, baseline.Stats.TotalFiles)
	}
	if res.Stats.DuplicateFiles != baseline.Stats.DuplicateFiles {
		t.Errorf("duplicate_files = %d, want %d",
			res.Stats.DuplicateFiles, baseline.Stats.DuplicateFiles)
	}
}

func TestScanInterruptedResumeKeepsPreMergedAnchor(t *testing.T) {
	// Checkpoint anchoring a partially merged page, listing the attachments
	// already merged from it.
	issues, fetcher := buildCorpus(t, corpusSpec, corpusKeys)
	store := newMemStore()
	cfg := ScannerConfig{PageSize: len(corpusKeys), CheckpointInterval: 100}

	agg := NewAggregator()
	engine := newTestEngine(fetcher)
	firstTwo := issues[0].Fields.Attachments
	results, err := engine.ProcessBatch(context.Background(), firstTwo)
	if err != nil {
		t.Fatal(err)
	}
	var mergedIDs []string
	for i, res := range results {
		agg.Merge(issues[0], firstTwo[i], res)
		mergedIDs = append(mergedIDs, res.AttachmentID)
	}
	snap := &Snapshot{
		State: State{
			ScanID:      "midpage2",
			Status:      StatusInterrupted,
			TotalIssues: len(corpusKeys),
			JQL:         "project = DEMO",
		},
		Stats:  agg.Stats(),
		Groups: agg.Groups(),
		Anchor: Anchor{StartAt: 0, ProcessedAttachmentIDs: mergedIDs},
	}
	if err := store.SaveSnapshot(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	// First resume is interrupted again before the anchored page finishes
	// merging: SIGINT lands right after the page fetch.
	issues2, fetcher2 := buildCorpus(t, corpusSpec, corpusKeys)
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{issues: issues2, cancelAfter: 1, cancel: cancel}
	scanner := NewScanner(source, newTestEngine(fetcher2), store, cfg, nil, nil)
	_, err = scanner.Scan(ctx, Options{ResumeID: "midpage2"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("first resume err = %v, want context.Canceled", err)
	}

	// The new checkpoint must still carry the pre-merged attachment IDs.
	saved, err := store.LoadSnapshot(context.Background(), "midpage2")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(saved.Anchor.ProcessedAttachmentIDs); got < len(mergedIDs) {
		t.Fatalf("anchor after second interrupt lists %d merged attachments, want at least %d: %v",
			got, len(mergedIDs), saved.Anchor.ProcessedAttachmentIDs)
	}
	for _, id := range mergedIDs {
		found := false
		for _, kept := range saved.Anchor.ProcessedAttachmentIDs {
			if kept == id {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("attachment %s dropped from anchor after second interrupt", id)
		}
	}

	// Second resume completes; totals must match an uninterrupted run.
	issues3, fetcher3 := buildCorpus(t, corpusSpec, corpusKeys)
	resumed := NewScanner(&fakeSource{issues: issues3}, newTestEngine(fetcher3), store, cfg, nil, nil)
	res, err := resumed.Scan(context.Background(), Options{ResumeID: "midpage2"})
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}

	baseline, _ := runFullScan(t, len(corpusKeys), 100)
	if res.Stats.TotalFiles != baseline.Stats.TotalFiles {
		t.Errorf("total_files = %d, want %d (pre-merged attachments double counted?)",
			res.Stats.TotalFiles, baseline.Stats.TotalFiles)
	}
	if res.Stats.DuplicateFiles != baseline.Stats.DuplicateFiles {
		t.Errorf("duplicate_files = %d, want %d",
			res.Stats.DuplicateFiles, baseline.Stats.DuplicateFiles)
	}
}

// fatalEngine aborts on the first batch.
type fatalEngine struct{}

func (fatalEngine) ProcessBatch(ctx context.Context, atts []jira.Attachment) ([]HashResult, error) {
	return make([]HashResult, len(atts)), fmt.Errorf("download x: %w", jira.ErrAuth)
}

func TestScanFatalEngineErrorFailsScan(t *testing.T) {
	issues, _ := buildCorpus(t, corpusSpec, corpusKeys)
	store := newMemStore()
	scanner := NewScanner(&fakeSource{issues: issues}, fatalEngine{}, store,
		ScannerConfig{PageSize: 3}, nil, nil)

	_, err := scanner.Scan(context.Background(), Options{JQL: "project = DEMO"})
	if !errors.Is(err, jira.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}

	var snap *Snapshot
	for _, s := range store.snaps {
		snap = s
	}
	if snap == nil || snap.State.Status != StatusFailed {
		t.Errorf("persisted status = %v, want failed", snap)
	}
	// Nothing from the failed page was merged.
	if snap.Stats.TotalFiles != 0 {
		t.Errorf("total_files = %d, want 0", snap.Stats.TotalFiles)
	}
}

// failedResultEngine marks every attachment failed without error.
type failedResultEngine struct{}

func (failedResultEngine) ProcessBatch(ctx context.Context, atts []jira.Attachment) ([]HashResult, error) {
	out := make([]HashResult, len(atts))
	for i, att := range atts {
		out[i] = HashResult{AttachmentID: att.ID, Kind: DigestFailed}
	}
	return out, nil
}

func TestScanDiscardsFailedResults(t *testing.T) {
	issues, _ := buildCorpus(t, corpusSpec, corpusKeys)
	store := newMemStore()
	scanner := NewScanner(&fakeSource{issues: issues}, failedResultEngine{}, store,
		ScannerConfig{PageSize: 5}, nil, nil)

	res, err := scanner.Scan(context.Background(), Options{JQL: "project = DEMO"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Stats.TotalFiles != 0 {
		t.Errorf("total_files = %d, want 0 for all-failed results", res.Stats.TotalFiles)
	}
	if res.State.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", res.State.Status)
	}
}

func TestScanResumeUnknownIDFails(t *testing.T) {
	scanner := NewScanner(&fakeSource{}, failedResultEngine{}, newMemStore(),
		ScannerConfig{}, nil, nil)
	_, err := scanner.Scan(context.Background(), Options{ResumeID: "nope"})
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("err = %v, want ErrSnapshotNotFound", err)
	}
}
