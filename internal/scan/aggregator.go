package scan

import (
	"sort"

	"github.com/drinkits/attachment-architect/internal/filetype"
	"github.com/drinkits/attachment-architect/internal/jira"
)

// maxLocations caps the per-group location list. Sightings beyond the cap
// still count toward duplicate statistics; only the list stops growing.
const maxLocations = 20

// Location is one place a digest was seen.
type Location struct {
	IssueKey     string `json:"issue_key"`
	ProjectKey   string `json:"project_key"`
	AttachmentID string `json:"attachment_id"`
	IsCanonical  bool   `json:"is_canonical"`
	DateAdded    string `json:"date_added"`
	Author       string `json:"author"`
}

// DuplicateGroup tracks every sighting of one content digest. The first
// sighting in scan order is the canonical instance; each later sighting is
// counted as waste.
type DuplicateGroup struct {
	FileName              string     `json:"file_name"`
	FileSize              int64      `json:"file_size"`
	MimeType              string     `json:"mime_type"`
	CanonicalIssueKey     string     `json:"canonical_issue_key"`
	CanonicalAttachmentID string     `json:"canonical_attachment_id"`
	DuplicateCount        int        `json:"duplicate_count"`
	TotalWastedSpace      int64      `json:"total_wasted_space"`
	Author                string     `json:"author"`
	AuthorID              string     `json:"author_id"`
	Created               string     `json:"created"`
	IssueStatus           string     `json:"status"`
	StatusCategory        string     `json:"status_category"`
	StatusCategoryKey     string     `json:"status_category_key"`
	IssueLastUpdated      string     `json:"issue_last_updated"`
	Degraded              bool       `json:"degraded"`
	Locations             []Location `json:"locations"`
}

// ProjectStats aggregates per-project totals.
type ProjectStats struct {
	ProjectName    string `json:"project_name"`
	TotalSize      int64  `json:"total_size"`
	DuplicateSize  int64  `json:"duplicate_size"`
	FileCount      int    `json:"file_count"`
	DuplicateCount int    `json:"duplicate_count"`
}

// TypeStats aggregates totals per file extension or category.
type TypeStats struct {
	TotalSize int64 `json:"total_size"`
	Count     int   `json:"count"`
}

// Stats holds the running aggregates for a scan. Counters only ever grow;
// the invariant TotalFiles == CanonicalFiles + DuplicateFiles holds after
// every Merge.
type Stats struct {
	TotalFiles     int   `json:"total_files"`
	TotalSize      int64 `json:"total_size"`
	CanonicalFiles int   `json:"canonical_files"`
	DuplicateFiles int   `json:"duplicate_files"`
	DuplicateSize  int64 `json:"duplicate_size"`
	// VerifiedFiles and DegradedFiles split TotalFiles by digest quality so
	// operators can judge report confidence.
	VerifiedFiles int `json:"verified_files"`
	DegradedFiles int `json:"degraded_files"`

	ProjectStats  map[string]*ProjectStats `json:"project_stats"`
	FileTypeStats map[string]*TypeStats    `json:"file_type_stats"`
	CategoryStats map[string]*TypeStats    `json:"category_stats"`
}

// NewStats returns an empty Stats with initialized maps.
func NewStats() *Stats {
	return &Stats{
		ProjectStats:  make(map[string]*ProjectStats),
		FileTypeStats: make(map[string]*TypeStats),
		CategoryStats: make(map[string]*TypeStats),
	}
}

// QuickWin is one entry of the top-waste ranking produced at finalization.
type QuickWin struct {
	Digest           string `json:"hash"`
	FileName         string `json:"file_name"`
	FileSize         int64  `json:"file_size"`
	DuplicateCount   int    `json:"duplicate_count"`
	TotalWastedSpace int64  `json:"total_wasted_space"`
}

// Aggregator owns the digest → DuplicateGroup map and the running Stats.
// It performs no I/O and has no locking: correctness depends on Merge being
// called only from the orchestrator's single merge point, in deterministic
// enumeration order, never from download workers.
type Aggregator struct {
	groups map[string]*DuplicateGroup
	stats  *Stats
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		groups: make(map[string]*DuplicateGroup),
		stats:  NewStats(),
	}
}

// Restore rebuilds an Aggregator from a checkpoint snapshot.
func Restore(groups map[string]*DuplicateGroup, stats *Stats) *Aggregator {
	if groups == nil {
		groups = make(map[string]*DuplicateGroup)
	}
	if stats == nil {
		stats = NewStats()
	}
	if stats.ProjectStats == nil {
		stats.ProjectStats = make(map[string]*ProjectStats)
	}
	if stats.FileTypeStats == nil {
		stats.FileTypeStats = make(map[string]*TypeStats)
	}
	if stats.CategoryStats == nil {
		stats.CategoryStats = make(map[string]*TypeStats)
	}
	return &Aggregator{groups: groups, stats: stats}
}

// Merge classifies one hashed attachment and folds it into the group map
// and statistics. The first sighting of a digest becomes the canonical
// instance; later sightings count as duplicates.
func (a *Aggregator) Merge(issue jira.Issue, att jira.Attachment, res HashResult) {
	group, seen := a.groups[res.Digest]
	if seen {
		group.DuplicateCount++
		group.TotalWastedSpace += att.Size
		if len(group.Locations) < maxLocations {
			group.Locations = append(group.Locations, Location{
				IssueKey:     issue.Key,
				ProjectKey:   issue.Fields.Project.Key,
				AttachmentID: att.ID,
				IsCanonical:  false,
				DateAdded:    att.Created,
				Author:       att.Author.DisplayName,
			})
		}
		a.stats.DuplicateFiles++
		a.stats.DuplicateSize += att.Size
	} else {
		a.groups[res.Digest] = &DuplicateGroup{
			FileName:              att.Filename,
			FileSize:              att.Size,
			MimeType:              att.MimeType,
			CanonicalIssueKey:     issue.Key,
			CanonicalAttachmentID: att.ID,
			Author:                att.Author.DisplayName,
			AuthorID:              att.Author.ID(),
			Created:               att.Created,
			IssueStatus:           issue.Fields.Status.Name,
			StatusCategory:        issue.Fields.Status.Category.Name,
			StatusCategoryKey:     issue.Fields.Status.Category.Key,
			IssueLastUpdated:      issue.Fields.Updated,
			Degraded:              res.Kind == DigestLocator,
			Locations: []Location{{
				IssueKey:     issue.Key,
				ProjectKey:   issue.Fields.Project.Key,
				AttachmentID: att.ID,
				IsCanonical:  true,
				DateAdded:    att.Created,
				Author:       att.Author.DisplayName,
			}},
		}
		a.stats.CanonicalFiles++
	}

	a.stats.TotalFiles++
	a.stats.TotalSize += att.Size
	if res.Kind == DigestContent {
		a.stats.VerifiedFiles++
	} else {
		a.stats.DegradedFiles++
	}

	projectKey := issue.Fields.Project.Key
	if projectKey == "" {
		projectKey = "UNKNOWN"
	}
	ps, ok := a.stats.ProjectStats[projectKey]
	if !ok {
		ps = &ProjectStats{ProjectName: issue.Fields.Project.Name}
		a.stats.ProjectStats[projectKey] = ps
	}
	ps.TotalSize += att.Size
	ps.FileCount++
	if seen {
		ps.DuplicateSize += att.Size
		ps.DuplicateCount++
	}

	ext := filetype.Extension(att.Filename)
	ts, ok := a.stats.FileTypeStats[ext]
	if !ok {
		ts = &TypeStats{}
		a.stats.FileTypeStats[ext] = ts
	}
	ts.TotalSize += att.Size
	ts.Count++

	cat := string(filetype.Detect(att.Filename, att.MimeType))
	cs, ok := a.stats.CategoryStats[cat]
	if !ok {
		cs = &TypeStats{}
		a.stats.CategoryStats[cat] = cs
	}
	cs.TotalSize += att.Size
	cs.Count++
}

// QuickWins returns the top n duplicate groups ranked by wasted space.
// Groups without duplicates are excluded. Ties break on digest so the
// ranking is stable across runs.
func (a *Aggregator) QuickWins(n int) []QuickWin {
	wins := make([]QuickWin, 0, len(a.groups))
	for digest, g := range a.groups {
		if g.DuplicateCount == 0 {
			continue
		}
		wins = append(wins, QuickWin{
			Digest:           digest,
			FileName:         g.FileName,
			FileSize:         g.FileSize,
			DuplicateCount:   g.DuplicateCount,
			TotalWastedSpace: g.TotalWastedSpace,
		})
	}
	sort.Slice(wins, func(i, j int) bool {
		if wins[i].TotalWastedSpace != wins[j].TotalWastedSpace {
			return wins[i].TotalWastedSpace > wins[j].TotalWastedSpace
		}
		return wins[i].Digest < wins[j].Digest
	})
	if len(wins) > n {
		wins = wins[:n]
	}
	return wins
}

// Groups exposes the digest → group map for persistence and reporting.
// Callers must not mutate it.
func (a *Aggregator) Groups() map[string]*DuplicateGroup { return a.groups }

// Stats exposes the running aggregates. Callers must not mutate them.
func (a *Aggregator) Stats() *Stats { return a.stats }
