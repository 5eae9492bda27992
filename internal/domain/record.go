package domain

// NormalizedRecord is the flattened, markup-free representation of one work
// item, ready for embedding. Every field is plain UTF-8 text and the whole
// record is a deterministic function of the source (WorkItem, Comments) pair.
type NormalizedRecord struct {
	ID                 int      `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria string   `json:"acceptanceCriteria,omitempty"`
	CommentsText       string   `json:"comments,omitempty"`
	CommentCount       int      `json:"commentCount"`
	Tags               []string `json:"tags"`
	Author             string   `json:"author"`
	AssignedTo         string   `json:"assignedTo,omitempty"`
	Type               string   `json:"type"`
	State              string   `json:"state"`
	AreaPath           string   `json:"areaPath,omitempty"`
	IterationPath      string   `json:"iterationPath,omitempty"`
	StoryPoints        float64  `json:"storyPoints,omitempty"`
	CreatedAt          string   `json:"createdAt"`
	ChangedAt          string   `json:"changedAt"`

	// Text is the combined block fed to embedding generation downstream:
	// title, description, acceptance criteria and the comment thread joined
	// with blank lines, in that order. Field order and separators are part
	// of the dataset contract and must stay stable across runs.
	Text string `json:"text"`
}

// Dataset describes one published dataset directory.
type Dataset struct {
	Path          string `json:"-"`
	Collection    string `json:"collection"`
	Project       string `json:"project"`
	SchemaVersion int    `json:"schemaVersion"`
	RecordCount   int    `json:"recordCount"`
	RecordsFile   string `json:"recordsFile"`
}
