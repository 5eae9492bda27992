package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"WorkItemsETL/internal/config"
	"WorkItemsETL/internal/domain"
	"WorkItemsETL/internal/ports"
)

const commentDateLayout = "January 2, 2006 at 15:04 MST"

// Auto-generated comments the tracking system inserts on state transitions
// and moves carry no signal for embeddings. Extra patterns come from config.
var defaultNoisePatterns = []string{
	`(?i)^associated with changeset`,
	`(?i)^automatically (created|updated|resolved) by`,
	`(?i)^this work item was moved from`,
}

// RecordError reports a work item whose payload could not be normalized.
type RecordError struct {
	WorkItemID int
	Err        error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("normalize work item %d: %v", e.WorkItemID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Normalizer flattens fetched threads into plain-text records. It is a pure
// transform: no wall clock, environment or randomness feeds the output, so
// the same thread always yields the same record bytes.
type Normalizer struct {
	authors map[string]string
	noise   []*regexp.Regexp
}

var _ ports.Normalizer = (*Normalizer)(nil)

// New compiles the noise patterns and indexes the author alias table.
// Alias keys (mention GUIDs or display-name variants) are matched
// case-insensitively.
func New(cfg config.NormalizeConfig) (*Normalizer, error) {
	patterns := make([]*regexp.Regexp, 0, len(defaultNoisePatterns)+len(cfg.NoisePatterns))
	for _, raw := range append(append([]string{}, defaultNoisePatterns...), cfg.NoisePatterns...) {
		expr, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile noise pattern %q: %w", raw, err)
		}
		patterns = append(patterns, expr)
	}

	authors := make(map[string]string, len(cfg.Authors))
	for alias, canonical := range cfg.Authors {
		authors[strings.ToUpper(strings.TrimSpace(alias))] = canonical
	}

	return &Normalizer{authors: authors, noise: patterns}, nil
}

// Normalize produces the record for one thread: markup stripped, noise
// dropped, authors and tags canonicalized, comments concatenated in
// chronological order.
func (n *Normalizer) Normalize(thread domain.WorkItemThread) (domain.NormalizedRecord, error) {
	item := thread.Item

	title, err := n.cleanText(item.Title)
	if err != nil {
		return domain.NormalizedRecord{}, &RecordError{WorkItemID: item.ID, Err: fmt.Errorf("title: %w", err)}
	}

	description, err := n.cleanText(item.Description)
	if err != nil {
		return domain.NormalizedRecord{}, &RecordError{WorkItemID: item.ID, Err: fmt.Errorf("description: %w", err)}
	}

	acceptance, err := n.cleanText(item.AcceptanceCriteria)
	if err != nil {
		return domain.NormalizedRecord{}, &RecordError{WorkItemID: item.ID, Err: fmt.Errorf("acceptance criteria: %w", err)}
	}

	commentsText, commentCount, err := n.renderComments(thread)
	if err != nil {
		return domain.NormalizedRecord{}, &RecordError{WorkItemID: item.ID, Err: err}
	}

	record := domain.NormalizedRecord{
		ID:                 item.ID,
		Title:              title,
		Description:        description,
		AcceptanceCriteria: acceptance,
		CommentsText:       commentsText,
		CommentCount:       commentCount,
		Tags:               Tags(item.Tags),
		Author:             n.canonicalAuthor(item.Author),
		AssignedTo:         n.canonicalAuthor(item.AssignedTo),
		Type:               item.Type,
		State:              item.State,
		AreaPath:           item.AreaPath,
		IterationPath:      item.IterationPath,
		StoryPoints:        item.StoryPoints,
		CreatedAt:          item.CreatedAt.UTC().Format(time.RFC3339),
		ChangedAt:          item.ChangedAt.UTC().Format(time.RFC3339),
	}
	record.Text = assembleText(record)

	return record, nil
}

// renderComments emits the thread in chronological order (ties broken by
// comment id), one entry per surviving comment, prefixed with its canonical
// author and timestamp.
func (n *Normalizer) renderComments(thread domain.WorkItemThread) (string, int, error) {
	ordered := domain.WorkItemThread{
		Item:     thread.Item,
		Comments: append([]domain.Comment{}, thread.Comments...),
	}
	ordered.SortComments()

	entries := make([]string, 0, len(ordered.Comments))
	for _, comment := range ordered.Comments {
		body, err := n.cleanText(comment.Body)
		if err != nil {
			return "", 0, fmt.Errorf("comment %d: %w", comment.ID, err)
		}

		body = n.dropNoiseLines(body)
		if body == "" {
			continue
		}

		entries = append(entries, fmt.Sprintf("%s commented on (%s): %s",
			n.canonicalAuthor(comment.Author),
			comment.CreatedAt.UTC().Format(commentDateLayout),
			body))
	}

	return strings.Join(entries, "\n\n"), len(entries), nil
}

func (n *Normalizer) dropNoiseLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]

	for _, line := range lines {
		noisy := false
		for _, expr := range n.noise {
			if expr.MatchString(line) {
				noisy = true
				break
			}
		}
		if !noisy {
			kept = append(kept, line)
		}
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// canonicalAuthor maps display-name variants of one account to a single
// canonical string via the configured alias table.
func (n *Normalizer) canonicalAuthor(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if canonical, ok := n.authors[strings.ToUpper(name)]; ok {
		return canonical
	}
	return name
}

// Tags lower-cases, trims, deduplicates and sorts a raw tag list.
func Tags(raw []string) []string {
	seen := map[string]struct{}{}
	tags := make([]string, 0, len(raw))

	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	sort.Strings(tags)
	return tags
}

// assembleText builds the combined block consumed by embedding generation.
// Section order and separators are part of the dataset contract.
func assembleText(r domain.NormalizedRecord) string {
	sections := make([]string, 0, 4)
	for _, section := range []string{r.Title, r.Description, r.AcceptanceCriteria, r.CommentsText} {
		if section != "" {
			sections = append(sections, section)
		}
	}
	return strings.Join(sections, "\n\n")
}
