package jira

// Author identifies the user who uploaded an attachment.
type Author struct {
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
	Key         string `json:"key"`
}

// ID returns the best available account identifier for the author.
func (a Author) ID() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Key != "" {
		return a.Key
	}
	return "unknown"
}

// Attachment is an attachment descriptor as returned by the search API.
// Content is the URL the attachment bytes can be streamed from.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
	Created  string `json:"created"`
	Author   Author `json:"author"`
}

// StatusCategory is the coarse workflow bucket of an issue status.
type StatusCategory struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Status is the workflow status of an issue.
type Status struct {
	Name     string         `json:"name"`
	Category StatusCategory `json:"statusCategory"`
}

// Project identifies the project an issue belongs to.
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// IssueFields holds the subset of issue fields the scanner requests.
type IssueFields struct {
	Project     Project      `json:"project"`
	Status      Status       `json:"status"`
	Updated     string       `json:"updated"`
	Attachments []Attachment `json:"attachment"`
}

// Issue is a single issue record with its attachment descriptors.
type Issue struct {
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// SearchResult is one page of a paginated JQL search.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}
