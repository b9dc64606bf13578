// Package report renders a finished scan into the formats operators
// consume: JSON for tooling, CSV for spreadsheets, XLSX for the people who
// asked for the audit in the first place.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xuri/excelize/v2"

	"github.com/drinkits/attachment-architect/internal/scan"
)

// Report is the serialized form of a scan result. Duplicate groups are
// sorted by wasted space so the biggest offenders lead every format.
type Report struct {
	ScanID      string          `json:"scan_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	State       scan.State      `json:"scan"`
	Stats       *scan.Stats     `json:"summary"`
	QuickWins   []scan.QuickWin `json:"quick_wins"`
	Groups      []GroupEntry    `json:"duplicate_groups"`
}

// GroupEntry pairs a duplicate group with its content digest for the flat
// report listing.
type GroupEntry struct {
	Digest string `json:"hash"`
	*scan.DuplicateGroup
}

// New flattens a scan result into a Report.
func New(res *scan.Result) *Report {
	groups := make([]GroupEntry, 0, len(res.Groups))
	for digest, g := range res.Groups {
		groups = append(groups, GroupEntry{Digest: digest, DuplicateGroup: g})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].TotalWastedSpace != groups[j].TotalWastedSpace {
			return groups[i].TotalWastedSpace > groups[j].TotalWastedSpace
		}
		return groups[i].Digest < groups[j].Digest
	})
	return &Report{
		ScanID:      res.State.ScanID,
		GeneratedAt: time.Now().UTC(),
		State:       res.State,
		Stats:       res.Stats,
		QuickWins:   res.QuickWins,
		Groups:      groups,
	}
}

// Write renders the report in every requested format under dir and returns
// the paths written.
func (r *Report) Write(dir string, formats []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	var paths []string
	for _, format := range formats {
		path := filepath.Join(dir, fmt.Sprintf("scan-%s.%s", r.ScanID, format))
		var err error
		switch format {
		case "json":
			err = r.WriteJSON(path)
		case "csv":
			err = r.WriteCSV(path)
		case "xlsx":
			err = r.WriteXLSX(path)
		default:
			err = fmt.Errorf("unknown report format %q", format)
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteJSON writes the full report as indented JSON.
func (r *Report) WriteJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"hash", "file_name", "file_size", "mime_type",
	"canonical_issue", "canonical_attachment_id",
	"duplicate_count", "wasted_bytes", "wasted_human",
	"author", "created", "issue_status", "status_category", "degraded",
	"duplicate_issues",
}

// WriteCSV writes one row per duplicate group.
func (r *Report) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, g := range r.Groups {
		if err := w.Write([]string{
			g.Digest, g.FileName,
			strconv.FormatInt(g.FileSize, 10), g.MimeType,
			g.CanonicalIssueKey, g.CanonicalAttachmentID,
			strconv.Itoa(g.DuplicateCount),
			strconv.FormatInt(g.TotalWastedSpace, 10),
			humanize.IBytes(uint64(g.TotalWastedSpace)),
			g.Author, g.Created, g.IssueStatus, g.StatusCategory,
			strconv.FormatBool(g.Degraded),
			duplicateIssues(g.Locations),
		}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// duplicateIssues joins the non-canonical issue keys with ';' so the
// column stays a single CSV cell.
func duplicateIssues(locs []scan.Location) string {
	out := ""
	for _, l := range locs {
		if l.IsCanonical {
			continue
		}
		if out != "" {
			out += ";"
		}
		out += l.IssueKey
	}
	return out
}

// WriteXLSX writes a workbook with Summary, Quick Wins, Duplicate Groups,
// Projects, and File Types sheets.
func (r *Report) WriteXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := r.writeSummarySheet(f); err != nil {
		return err
	}
	if err := r.writeQuickWinsSheet(f); err != nil {
		return err
	}
	if err := r.writeGroupsSheet(f); err != nil {
		return err
	}
	if err := r.writeProjectsSheet(f); err != nil {
		return err
	}
	if err := r.writeFileTypesSheet(f); err != nil {
		return err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func (r *Report) writeSummarySheet(f *excelize.File) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	rows := [][]any{
		{"Scan ID", r.ScanID},
		{"Status", string(r.State.Status)},
		{"JQL", r.State.JQL},
		{"Started", r.State.StartTime.Format(time.RFC3339)},
		{"Duration", r.State.Duration.Round(time.Second).String()},
		{"Issues scanned", r.State.ProcessedIssues},
		{"Attachments", r.Stats.TotalFiles},
		{"Total attachment size", humanize.IBytes(uint64(r.Stats.TotalSize))},
		{"Unique files", r.Stats.CanonicalFiles},
		{"Duplicate files", r.Stats.DuplicateFiles},
		{"Wasted space", humanize.IBytes(uint64(r.Stats.DuplicateSize))},
		{"Content-verified files", r.Stats.VerifiedFiles},
		{"Degraded (URL-matched) files", r.Stats.DegradedFiles},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	return nil
}

func (r *Report) writeQuickWinsSheet(f *excelize.File) error {
	const sheet = "Quick Wins"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	header := []any{"File", "Size", "Copies", "Wasted"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write quick wins header: %w", err)
	}
	for i, qw := range r.QuickWins {
		row := []any{
			qw.FileName,
			humanize.IBytes(uint64(qw.FileSize)),
			qw.DuplicateCount,
			humanize.IBytes(uint64(qw.TotalWastedSpace)),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write quick win row: %w", err)
		}
	}
	return nil
}

func (r *Report) writeGroupsSheet(f *excelize.File) error {
	const sheet = "Duplicate Groups"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	header := []any{
		"File", "Size", "Copies", "Wasted", "Canonical issue",
		"Author", "Status", "Degraded", "Duplicate issues",
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write groups header: %w", err)
	}
	for i, g := range r.Groups {
		row := []any{
			g.FileName,
			humanize.IBytes(uint64(g.FileSize)),
			g.DuplicateCount,
			humanize.IBytes(uint64(g.TotalWastedSpace)),
			g.CanonicalIssueKey,
			g.Author,
			g.IssueStatus,
			g.Degraded,
			duplicateIssues(g.Locations),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write group row: %w", err)
		}
	}
	return nil
}

func (r *Report) writeProjectsSheet(f *excelize.File) error {
	const sheet = "Projects"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	header := []any{"Project", "Name", "Files", "Total size", "Duplicates", "Wasted"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write projects header: %w", err)
	}
	keys := sortedKeys(r.Stats.ProjectStats)
	for i, key := range keys {
		ps := r.Stats.ProjectStats[key]
		row := []any{
			key, ps.ProjectName, ps.FileCount,
			humanize.IBytes(uint64(ps.TotalSize)),
			ps.DuplicateCount,
			humanize.IBytes(uint64(ps.DuplicateSize)),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write project row: %w", err)
		}
	}
	return nil
}

func (r *Report) writeFileTypesSheet(f *excelize.File) error {
	const sheet = "File Types"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	header := []any{"Extension", "Files", "Total size"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write file types header: %w", err)
	}
	keys := sortedKeys(r.Stats.FileTypeStats)
	for i, key := range keys {
		ts := r.Stats.FileTypeStats[key]
		row := []any{key, ts.Count, humanize.IBytes(uint64(ts.TotalSize))}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write file type row: %w", err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]*V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
