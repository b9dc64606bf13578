package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/drinkits/attachment-architect/internal/jira"
)

// fakeFetcher serves attachment bodies from an in-memory map keyed by
// content URL. URLs listed in failing always return a transient error.
type fakeFetcher struct {
	content map[string][]byte
	failing map[string]bool
	opens   int
}

func (f *fakeFetcher) OpenAttachment(ctx context.Context, url string) (io.ReadCloser, error) {
	f.opens++
	if f.failing[url] {
		return nil, fmt.Errorf("connection reset by peer")
	}
	body, ok := f.content[url]
	if !ok {
		return nil, fmt.Errorf("no such attachment %q", url)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// fakeSource pages over a fixed issue list. When cancelAfter > 0, the
// context is cancelled right after serving that many pages, simulating a
// SIGINT landing while a page is in flight.
type fakeSource struct {
	issues      []jira.Issue
	cancelAfter int
	cancel      context.CancelFunc
	pagesServed int
}

func (f *fakeSource) CountIssues(ctx context.Context, jql string) (int, error) {
	return len(f.issues), nil
}

func (f *fakeSource) SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (*jira.SearchResult, error) {
	if startAt >= len(f.issues) {
		return &jira.SearchResult{StartAt: startAt, Total: len(f.issues)}, nil
	}
	end := startAt + maxResults
	if end > len(f.issues) {
		end = len(f.issues)
	}
	page := &jira.SearchResult{
		StartAt: startAt,
		Total:   len(f.issues),
		Issues:  f.issues[startAt:end],
	}
	f.pagesServed++
	if f.cancelAfter > 0 && f.pagesServed == f.cancelAfter {
		f.cancel()
	}
	return page, nil
}

// memStore is an in-memory Persister. Snapshots are copied through JSON so
// later aggregator mutations cannot leak into a saved checkpoint, matching
// the isolation of the real SQLite store.
type memStore struct {
	snaps map[string]*Snapshot
	saves int
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]*Snapshot)}
}

func (m *memStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	m.saves++
	m.snaps[snap.State.ScanID] = copySnapshot(snap)
	return nil
}

func (m *memStore) LoadSnapshot(ctx context.Context, scanID string) (*Snapshot, error) {
	snap, ok := m.snaps[scanID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return copySnapshot(snap), nil
}

func copySnapshot(snap *Snapshot) *Snapshot {
	raw, err := json.Marshal(snap)
	if err != nil {
		panic(err)
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

// testIssue builds an issue in project DEMO with one attachment per body.
// Attachment IDs, filenames, and content URLs derive from key and index so
// they are unique and deterministic.
func testIssue(key string, bodies ...string) (jira.Issue, map[string][]byte) {
	content := make(map[string][]byte, len(bodies))
	issue := jira.Issue{
		Key: key,
		Fields: jira.IssueFields{
			Project: jira.Project{Key: "DEMO", Name: "Demo Project"},
			Status: jira.Status{
				Name:     "Open",
				Category: jira.StatusCategory{Key: "new", Name: "To Do"},
			},
			Updated: "2026-01-02T03:04:05.000+0000",
		},
	}
	for i, body := range bodies {
		url := fmt.Sprintf("https://jira.local/secure/attachment/%s-%d/file.bin", key, i)
		content[url] = []byte(body)
		issue.Fields.Attachments = append(issue.Fields.Attachments, jira.Attachment{
			ID:       fmt.Sprintf("%s-att%d", key, i),
			Filename: fmt.Sprintf("%s-file%d.bin", key, i),
			Size:     int64(len(body)),
			MimeType: "application/octet-stream",
			Content:  url,
			Created:  "2026-01-01T00:00:00.000+0000",
			Author:   jira.Author{DisplayName: "Pat Tester", Name: "ptester"},
		})
	}
	return issue, content
}

// buildCorpus assembles issues plus a fetcher serving their bodies.
func buildCorpus(tb testing.TB, specs map[string][]string, keys []string) ([]jira.Issue, *fakeFetcher) {
	tb.Helper()
	fetcher := &fakeFetcher{content: make(map[string][]byte), failing: make(map[string]bool)}
	var issues []jira.Issue
	for _, key := range keys {
		issue, content := testIssue(key, specs[key]...)
		for url, body := range content {
			fetcher.content[url] = body
		}
		issues = append(issues, issue)
	}
	return issues, fetcher
}

// newTestEngine returns an Engine with fast retries for tests.
func newTestEngine(fetcher Fetcher) *Engine {
	return NewEngine(fetcher, EngineConfig{
		Workers:   4,
		RetryBase: time.Millisecond,
		Timeout:   5 * time.Second,
	}, nil, nil)
}
