package models

import (
	"time"
)

// Issue represents a Jira issue as seen by the sync pipeline
type Issue struct {
	ID          string
	Key         string
	Summary     string
	Description string
	// DescriptionHTML is the rendered (rich text) description, used for
	// case extraction and inline image embedding
	DescriptionHTML string
}

// Found reports whether the issue was actually resolved on the tracker.
// Jira read failures degrade to an empty issue rather than an error.
func (i Issue) Found() bool {
	return i.Summary != ""
}

// Comment represents a Jira issue comment
type Comment struct {
	Body         string
	RenderedBody string
}

// Text returns the rendered body when present, the raw body otherwise
func (c Comment) Text() string {
	if c.RenderedBody != "" {
		return c.RenderedBody
	}
	return c.Body
}

// Attachment represents an image attachment on a Jira issue
type Attachment struct {
	URL      string
	MIME     string
	Filename string
}

// StatusNoRun is the run-status sentinel applied when a case carries no
// explicit status
const StatusNoRun = "NO RUN"

// TestCase is one extracted (or AI-generated) test scenario
type TestCase struct {
	Name                  string   `json:"name"`
	Scenario              string   `json:"scenario"`
	ExpectedResult        string   `json:"expected_result"`
	Status                string   `json:"status"`
	IsAutomationCandidate bool     `json:"is_automation_candidate"`
	// EdgeCases lists the negative scenarios the generator attached to this
	// case; the extractor never fills it
	EdgeCases []string `json:"edge_cases,omitempty"`
}

// RemoteLink is a cross-system web link stored on a Jira issue
type RemoteLink struct {
	ID    int64
	Title string
	URL   string
}

// MediaItem is a downloaded image ready for upload to a case
type MediaItem struct {
	Data     []byte
	Filename string
}

// Folder is a Testmo case folder
type Folder struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID int64  `json:"parent_id,omitempty"`
}

// Task outcome statuses
const (
	ResultSuccess   = "success"
	ResultDuplicate = "duplicate"
	ResultError     = "error"
)

// Task actions
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionNone    = "none"
)

// TaskResult is the per-task outcome record returned by the orchestrator
type TaskResult struct {
	Task     string `json:"task"`
	Status   string `json:"status"`
	Action   string `json:"action,omitempty"`
	CaseName string `json:"case_name,omitempty"`
	CaseID   int64  `json:"case_id,omitempty"`
	Cases    int    `json:"steps,omitempty"`
	Images   int    `json:"images,omitempty"`
	Message  string `json:"msg,omitempty"`
}

// User is a registered service user
type User struct {
	ID           int64
	Username     string
	PasswordHash string
}

// SyncRecord is one row of sync history
type SyncRecord struct {
	ID       int64     `json:"id"`
	Date     time.Time `json:"date"`
	Task     string    `json:"task"`
	RepoID   int64     `json:"repo_id"`
	FolderID int64     `json:"folder_id"`
	Cases    int       `json:"cases_count"`
	Images   int       `json:"images_count"`
	Status   string    `json:"status"`
	CaseName string    `json:"case_name"`
	UserID   int64     `json:"-"`
}
