// Package store persists scan snapshots to SQLite and implements the
// checkpoint/resume contract. The orchestrator is the only writer; CLI
// maintenance commands (list, reset, cleanup) read and delete through the
// same single-connection database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drinkits/attachment-architect/internal/scan"
)

// checkpointSchemaVersion is bumped whenever the checkpoint row layout
// changes. Loads tolerate older versions; unknown newer versions fail.
const checkpointSchemaVersion = 1

// Store implements scan.Persister on SQLite.
type Store struct {
	db *sql.DB
}

// New wraps an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveSnapshot writes the whole snapshot in a single transaction: scan
// state, stats, every duplicate group, and the checkpoint anchor. Either
// everything lands or the previous snapshot stays intact.
func (s *Store) SaveSnapshot(ctx context.Context, snap *scan.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := saveState(ctx, tx, &snap.State); err != nil {
		return err
	}
	if err := saveStats(ctx, tx, snap.State.ScanID, snap.Stats); err != nil {
		return err
	}
	if err := saveGroups(ctx, tx, snap.State.ScanID, snap.Groups); err != nil {
		return err
	}
	if err := saveCheckpoint(ctx, tx, snap.State.ScanID, snap.Anchor); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func saveState(ctx context.Context, tx *sql.Tx, state *scan.State) error {
	var completion any
	if !state.CompletionTime.IsZero() {
		completion = state.CompletionTime.UTC().Format(time.RFC3339Nano)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO scans
			(scan_id, status, total_issues, processed_issues,
			 start_time, completion_time, duration_ms, jql_query)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		state.ScanID,
		string(state.Status),
		state.TotalIssues,
		state.ProcessedIssues,
		state.StartTime.UTC().Format(time.RFC3339Nano),
		completion,
		state.Duration.Milliseconds(),
		state.JQL)
	if err != nil {
		return fmt.Errorf("save scan state: %w", err)
	}
	return nil
}

func saveStats(ctx context.Context, tx *sql.Tx, scanID string, stats *scan.Stats) error {
	projects, err := json.Marshal(stats.ProjectStats)
	if err != nil {
		return fmt.Errorf("marshal project stats: %w", err)
	}
	fileTypes, err := json.Marshal(stats.FileTypeStats)
	if err != nil {
		return fmt.Errorf("marshal file type stats: %w", err)
	}
	categories, err := json.Marshal(stats.CategoryStats)
	if err != nil {
		return fmt.Errorf("marshal category stats: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO scan_stats
			(scan_id, total_files, total_size, canonical_files,
			 duplicate_files, duplicate_size, verified_files, degraded_files,
			 project_stats_json, file_type_stats_json, category_stats_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scanID,
		stats.TotalFiles, stats.TotalSize,
		stats.CanonicalFiles, stats.DuplicateFiles, stats.DuplicateSize,
		stats.VerifiedFiles, stats.DegradedFiles,
		string(projects), string(fileTypes), string(categories))
	if err != nil {
		return fmt.Errorf("save scan stats: %w", err)
	}
	return nil
}

func saveGroups(ctx context.Context, tx *sql.Tx, scanID string, groups map[string]*scan.DuplicateGroup) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO duplicate_groups
			(scan_id, file_hash, file_name, file_size, mime_type,
			 canonical_issue_key, canonical_attachment_id,
			 duplicate_count, total_wasted_space,
			 author, author_id, created,
			 status, status_category, status_category_key,
			 issue_last_updated, degraded, locations_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare group insert: %w", err)
	}
	defer stmt.Close()

	for digest, g := range groups {
		locations, err := json.Marshal(g.Locations)
		if err != nil {
			return fmt.Errorf("marshal locations %s: %w", digest, err)
		}
		if _, err := stmt.ExecContext(ctx,
			scanID, digest, g.FileName, g.FileSize, g.MimeType,
			g.CanonicalIssueKey, g.CanonicalAttachmentID,
			g.DuplicateCount, g.TotalWastedSpace,
			g.Author, g.AuthorID, g.Created,
			g.IssueStatus, g.StatusCategory, g.StatusCategoryKey,
			g.IssueLastUpdated, boolToInt(g.Degraded), string(locations),
		); err != nil {
			return fmt.Errorf("save group %s: %w", digest, err)
		}
	}
	return nil
}

func saveCheckpoint(ctx context.Context, tx *sql.Tx, scanID string, anchor scan.Anchor) error {
	ids, err := json.Marshal(anchor.ProcessedAttachmentIDs)
	if err != nil {
		return fmt.Errorf("marshal processed ids: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints
			(scan_id, schema_version, last_start_at, last_issue_key,
			 processed_attachment_ids, checkpoint_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		scanID, checkpointSchemaVersion,
		anchor.StartAt, anchor.LastIssueKey,
		string(ids), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadSnapshot restores the full snapshot for scanID, or
// scan.ErrSnapshotNotFound if the scan is unknown.
func (s *Store) LoadSnapshot(ctx context.Context, scanID string) (*scan.Snapshot, error) {
	state, err := s.loadState(ctx, scanID)
	if err != nil {
		return nil, err
	}
	stats, err := s.loadStats(ctx, scanID)
	if err != nil {
		return nil, err
	}
	groups, err := s.loadGroups(ctx, scanID)
	if err != nil {
		return nil, err
	}
	anchor, err := s.loadCheckpoint(ctx, scanID)
	if err != nil {
		return nil, err
	}
	return &scan.Snapshot{State: *state, Stats: stats, Groups: groups, Anchor: anchor}, nil
}

func (s *Store) loadState(ctx context.Context, scanID string) (*scan.State, error) {
	var (
		state      scan.State
		status     string
		start      string
		completion sql.NullString
		durationMS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT scan_id, status, total_issues, processed_issues,
		       start_time, completion_time, duration_ms, jql_query
		FROM scans WHERE scan_id = ?`, scanID,
	).Scan(&state.ScanID, &status, &state.TotalIssues, &state.ProcessedIssues,
		&start, &completion, &durationMS, &state.JQL)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scan %s: %w", scanID, scan.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load scan state: %w", err)
	}

	state.Status = scan.Status(status)
	state.Duration = time.Duration(durationMS) * time.Millisecond
	if state.StartTime, err = time.Parse(time.RFC3339Nano, start); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	if completion.Valid {
		if state.CompletionTime, err = time.Parse(time.RFC3339Nano, completion.String); err != nil {
			return nil, fmt.Errorf("parse completion_time: %w", err)
		}
	}
	return &state, nil
}

func (s *Store) loadStats(ctx context.Context, scanID string) (*scan.Stats, error) {
	stats := scan.NewStats()
	var projects, fileTypes, categories string
	err := s.db.QueryRowContext(ctx, `
		SELECT total_files, total_size, canonical_files,
		       duplicate_files, duplicate_size, verified_files, degraded_files,
		       project_stats_json, file_type_stats_json, category_stats_json
		FROM scan_stats WHERE scan_id = ?`, scanID,
	).Scan(&stats.TotalFiles, &stats.TotalSize, &stats.CanonicalFiles,
		&stats.DuplicateFiles, &stats.DuplicateSize,
		&stats.VerifiedFiles, &stats.DegradedFiles,
		&projects, &fileTypes, &categories)
	if err == sql.ErrNoRows {
		// A scan interrupted before its first checkpoint has no stats row.
		return stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load scan stats: %w", err)
	}

	if err := json.Unmarshal([]byte(projects), &stats.ProjectStats); err != nil {
		return nil, fmt.Errorf("unmarshal project stats: %w", err)
	}
	if err := json.Unmarshal([]byte(fileTypes), &stats.FileTypeStats); err != nil {
		return nil, fmt.Errorf("unmarshal file type stats: %w", err)
	}
	if err := json.Unmarshal([]byte(categories), &stats.CategoryStats); err != nil {
		return nil, fmt.Errorf("unmarshal category stats: %w", err)
	}
	return stats, nil
}

func (s *Store) loadGroups(ctx context.Context, scanID string) (map[string]*scan.DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_hash, file_name, file_size, mime_type,
		       canonical_issue_key, canonical_attachment_id,
		       duplicate_count, total_wasted_space,
		       author, author_id, created,
		       status, status_category, status_category_key,
		       issue_last_updated, degraded, locations_json
		FROM duplicate_groups WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	defer rows.Close()

	groups := make(map[string]*scan.DuplicateGroup)
	for rows.Next() {
		var (
			digest    string
			g         scan.DuplicateGroup
			degraded  int
			locations string
		)
		if err := rows.Scan(&digest, &g.FileName, &g.FileSize, &g.MimeType,
			&g.CanonicalIssueKey, &g.CanonicalAttachmentID,
			&g.DuplicateCount, &g.TotalWastedSpace,
			&g.Author, &g.AuthorID, &g.Created,
			&g.IssueStatus, &g.StatusCategory, &g.StatusCategoryKey,
			&g.IssueLastUpdated, &degraded, &locations); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		g.Degraded = degraded != 0
		if err := json.Unmarshal([]byte(locations), &g.Locations); err != nil {
			return nil, fmt.Errorf("unmarshal locations %s: %w", digest, err)
		}
		groups[digest] = &g
	}
	return groups, rows.Err()
}

func (s *Store) loadCheckpoint(ctx context.Context, scanID string) (scan.Anchor, error) {
	var (
		anchor  scan.Anchor
		version int
		ids     string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT schema_version, last_start_at, last_issue_key, processed_attachment_ids
		FROM checkpoints WHERE scan_id = ?`, scanID,
	).Scan(&version, &anchor.StartAt, &anchor.LastIssueKey, &ids)
	if err == sql.ErrNoRows {
		// No checkpoint yet; resume from the beginning.
		return scan.Anchor{}, nil
	}
	if err != nil {
		return scan.Anchor{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if version > checkpointSchemaVersion {
		return scan.Anchor{}, fmt.Errorf("checkpoint schema version %d is newer than supported %d",
			version, checkpointSchemaVersion)
	}
	if err := json.Unmarshal([]byte(ids), &anchor.ProcessedAttachmentIDs); err != nil {
		return scan.Anchor{}, fmt.Errorf("unmarshal processed ids: %w", err)
	}
	return anchor, nil
}

// Summary is one row of List output.
type Summary struct {
	ScanID          string
	Status          scan.Status
	StartTime       time.Time
	CompletionTime  time.Time
	Duration        time.Duration
	TotalIssues     int
	ProcessedIssues int
	TotalFiles      int
	TotalSize       int64
}

// List returns all scans, most recent first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.scan_id, s.status, s.start_time, s.completion_time,
		       s.duration_ms, s.total_issues, s.processed_issues,
		       COALESCE(ss.total_files, 0), COALESCE(ss.total_size, 0)
		FROM scans s
		LEFT JOIN scan_stats ss ON s.scan_id = ss.scan_id
		ORDER BY s.start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum        Summary
			status     string
			start      string
			completion sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&sum.ScanID, &status, &start, &completion,
			&durationMS, &sum.TotalIssues, &sum.ProcessedIssues,
			&sum.TotalFiles, &sum.TotalSize); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		sum.Status = scan.Status(status)
		sum.Duration = time.Duration(durationMS) * time.Millisecond
		if sum.StartTime, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, fmt.Errorf("parse start_time: %w", err)
		}
		if completion.Valid {
			if sum.CompletionTime, err = time.Parse(time.RFC3339Nano, completion.String); err != nil {
				return nil, fmt.Errorf("parse completion_time: %w", err)
			}
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Reset deletes every trace of one scan. Cascades clear its stats, groups,
// and checkpoint.
func (s *Store) Reset(ctx context.Context, scanID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE scan_id = ?`, scanID)
	if err != nil {
		return fmt.Errorf("reset scan %s: %w", scanID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("scan %s: %w", scanID, scan.ErrSnapshotNotFound)
	}
	return nil
}

// ResetIncomplete deletes every scan that is not completed. Returns the
// number of scans removed.
func (s *Store) ResetIncomplete(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scans WHERE status != ?`, string(scan.StatusCompleted))
	if err != nil {
		return 0, fmt.Errorf("reset incomplete scans: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Cleanup deletes completed scans whose completion time is older than
// keepDays days. Returns the number of scans removed.
func (s *Store) Cleanup(ctx context.Context, keepDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scans
		WHERE status = ? AND completion_time IS NOT NULL AND completion_time < ?`,
		string(scan.StatusCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old scans: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
