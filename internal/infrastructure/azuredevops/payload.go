package azuredevops

import (
	"fmt"
	"strings"
	"time"

	"WorkItemsETL/internal/domain"
)

// The types below form the validated-schema boundary for the loosely shaped
// API payloads. Anything that fails conversion here is rejected before it
// can propagate downstream as untyped data.

type identityRef struct {
	DisplayName string `json:"displayName"`
}

type wiqlReference struct {
	ID int `json:"id"`
}

type wiqlResponse struct {
	WorkItems []wiqlReference `json:"workItems"`
}

type itemFields struct {
	Title              string      `json:"System.Title"`
	Description        string      `json:"System.Description"`
	AcceptanceCriteria string      `json:"Microsoft.VSTS.Common.AcceptanceCriteria"`
	State              string      `json:"System.State"`
	Type               string      `json:"System.WorkItemType"`
	Tags               string      `json:"System.Tags"`
	CreatedBy          identityRef `json:"System.CreatedBy"`
	AssignedTo         identityRef `json:"System.AssignedTo"`
	AreaPath           string      `json:"System.AreaPath"`
	IterationPath      string      `json:"System.IterationPath"`
	StoryPoints        float64     `json:"Microsoft.VSTS.Scheduling.StoryPoints"`
	CreatedDate        string      `json:"System.CreatedDate"`
	ChangedDate        string      `json:"System.ChangedDate"`
}

type workItemPayload struct {
	ID     int        `json:"id"`
	Fields itemFields `json:"fields"`
}

type workItemsResponse struct {
	Count int               `json:"count"`
	Value []workItemPayload `json:"value"`
}

type commentPayload struct {
	ID          int         `json:"id"`
	WorkItemID  int         `json:"workItemId"`
	Text        string      `json:"text"`
	CreatedBy   identityRef `json:"createdBy"`
	CreatedDate string      `json:"createdDate"`
}

type commentsResponse struct {
	Comments          []commentPayload `json:"comments"`
	ContinuationToken string           `json:"continuationToken"`
}

func (p workItemPayload) toDomain() (domain.WorkItem, error) {
	if p.ID <= 0 {
		return domain.WorkItem{}, fmt.Errorf("work item payload without id")
	}

	created, err := parseAPIDate(p.Fields.CreatedDate)
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("work item %d: created date: %w", p.ID, err)
	}

	changed, err := parseAPIDate(p.Fields.ChangedDate)
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("work item %d: changed date: %w", p.ID, err)
	}

	return domain.WorkItem{
		ID:                 p.ID,
		Title:              p.Fields.Title,
		Description:        p.Fields.Description,
		AcceptanceCriteria: p.Fields.AcceptanceCriteria,
		State:              p.Fields.State,
		Type:               p.Fields.Type,
		Tags:               splitTags(p.Fields.Tags),
		Author:             p.Fields.CreatedBy.DisplayName,
		AssignedTo:         p.Fields.AssignedTo.DisplayName,
		AreaPath:           p.Fields.AreaPath,
		IterationPath:      p.Fields.IterationPath,
		StoryPoints:        p.Fields.StoryPoints,
		CreatedAt:          created,
		ChangedAt:          changed,
	}, nil
}

func (p commentPayload) toDomain(workItemID int) (domain.Comment, error) {
	if p.ID <= 0 {
		return domain.Comment{}, fmt.Errorf("comment payload without id on work item %d", workItemID)
	}

	created, err := parseAPIDate(p.CreatedDate)
	if err != nil {
		return domain.Comment{}, fmt.Errorf("comment %d on work item %d: %w", p.ID, workItemID, err)
	}

	return domain.Comment{
		ID:         p.ID,
		WorkItemID: workItemID,
		Author:     p.CreatedBy.DisplayName,
		CreatedAt:  created,
		Body:       p.Text,
	}, nil
}

func parseAPIDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t.UTC(), nil
}

// splitTags breaks the API's "alpha; beta" tag string into raw entries.
// Case folding and deduplication happen later in normalization.
func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}
