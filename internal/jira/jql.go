package jira

import (
	"fmt"
	"strings"
)

// Filters describe which issues a scan covers. A non-empty CustomJQL
// overrides all other fields.
type Filters struct {
	Projects  []string
	DateFrom  string // yyyy-mm-dd
	DateTo    string // yyyy-mm-dd
	CustomJQL string
}

// defaultWindow bounds an unfiltered scan to the last 20 years.
const defaultWindow = "created >= -7300d"

// BuildJQL renders f into a JQL query with a stable sort order.
// Pagination over an unsorted query can skip or repeat issues, so an
// ORDER BY clause is always appended when missing.
func BuildJQL(f Filters) string {
	if f.CustomJQL != "" {
		jql := f.CustomJQL
		if !strings.Contains(strings.ToUpper(jql), "ORDER BY") {
			jql += " ORDER BY created DESC"
		}
		return jql
	}

	var parts []string
	if len(f.Projects) > 0 {
		parts = append(parts, fmt.Sprintf("project in (%s)", strings.Join(f.Projects, ", ")))
	}
	if f.DateFrom != "" {
		parts = append(parts, fmt.Sprintf("created >= '%s'", f.DateFrom))
	}
	if f.DateTo != "" {
		parts = append(parts, fmt.Sprintf("created <= '%s'", f.DateTo))
	}
	if f.DateFrom == "" && f.DateTo == "" {
		parts = append(parts, defaultWindow)
	}

	return strings.Join(parts, " AND ") + " ORDER BY created DESC"
}
