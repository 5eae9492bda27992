package domain

import (
	"sort"
	"time"
)

// WorkItem is a core entity describing one ticket fetched from the tracking API.
// Instances are owned by a single pipeline run and never mutated after fetch.
type WorkItem struct {
	ID                 int
	Title              string
	Description        string
	AcceptanceCriteria string
	State              string
	Type               string
	Tags               []string
	Author             string
	AssignedTo         string
	AreaPath           string
	IterationPath      string
	StoryPoints        float64
	CreatedAt          time.Time
	ChangedAt          time.Time
}

// Comment belongs to a work-item thread; WorkItemID is a foreign reference.
type Comment struct {
	ID         int
	WorkItemID int
	Author     string
	CreatedAt  time.Time
	Body       string
}

// WorkItemThread pairs a work item with its full comment thread.
type WorkItemThread struct {
	Item     WorkItem
	Comments []Comment
}

// SortComments orders the thread by creation time ascending, ties broken by
// comment identifier ascending.
func (t *WorkItemThread) SortComments() {
	sort.Slice(t.Comments, func(i, j int) bool {
		a, b := t.Comments[i], t.Comments[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// CommentFailure records a work item whose comment fetch failed permanently.
// The item is still emitted with an empty thread.
type CommentFailure struct {
	WorkItemID int
	Reason     string
}

// FetchResult is the complete output of one source enumeration.
type FetchResult struct {
	Threads         []WorkItemThread
	CommentFailures []CommentFailure
}
