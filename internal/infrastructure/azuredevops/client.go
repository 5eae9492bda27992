package azuredevops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"

	"WorkItemsETL/internal/config"
	"WorkItemsETL/internal/domain"
	"WorkItemsETL/internal/ports"
)

const (
	apiVersion         = "7.0"
	commentsAPIVersion = "7.1-preview.4"
	maxIDsPerBatch     = 200
)

// Client enumerates every work item of one project through the Azure DevOps
// REST API. It keeps no state between runs: each FetchAllWorkItems call is a
// complete enumeration driven only by explicit offsets and continuation
// tokens, never by a persisted cursor.
type Client struct {
	baseURL          string
	organization     string
	project          string
	pat              string
	pageSize         int
	commentPageSize  int
	maxRetries       int
	fetchConcurrency int
	retryInterval    time.Duration
	client           *http.Client
	logger           *slog.Logger
}

var _ ports.WorkItemSource = (*Client)(nil)

// NewClient wires an HTTP client; pagination and retry bounds come from config.
func NewClient(cfg config.SourceConfig, fetchConcurrency int, client *http.Client, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if fetchConcurrency < 1 {
		fetchConcurrency = 1
	}
	pageSize := cfg.PageSize
	if pageSize < 1 {
		pageSize = maxIDsPerBatch
	}
	commentPageSize := cfg.CommentPageSize
	if commentPageSize < 1 {
		commentPageSize = 100
	}

	return &Client{
		baseURL:          strings.TrimSuffix(cfg.BaseURL, "/"),
		organization:     cfg.Organization,
		project:          cfg.Project,
		pat:              cfg.PAT,
		pageSize:         pageSize,
		commentPageSize:  commentPageSize,
		maxRetries:       cfg.MaxRetries,
		fetchConcurrency: fetchConcurrency,
		retryInterval:    500 * time.Millisecond,
		client:           client,
		logger:           logger,
	}
}

// FetchAllWorkItems walks the full project: WIQL id enumeration, batched
// detail retrieval, then one comment thread per item. Comment threads are
// fetched in parallel up to the configured bound. A permanently failing
// comment fetch does not abort the run; the item is emitted with an empty
// thread and the failure is recorded in the result.
func (c *Client) FetchAllWorkItems(ctx context.Context) (domain.FetchResult, error) {
	ids, err := c.enumerateIDs(ctx)
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("enumerate work items: %w", err)
	}
	c.debug("enumerated work items", "count", len(ids))

	items, err := c.fetchDetails(ctx, ids)
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("fetch work item details: %w", err)
	}

	threads, failures, err := c.fetchThreads(ctx, items)
	if err != nil {
		return domain.FetchResult{}, err
	}

	return domain.FetchResult{Threads: threads, CommentFailures: failures}, nil
}

// enumerateIDs pages through WIQL results ordered by id, using the last seen
// id as an explicit offset so the enumeration is complete even when the API
// caps a single response.
func (c *Client) enumerateIDs(ctx context.Context) ([]int, error) {
	endpoint := fmt.Sprintf("%s/wit/wiql?api-version=%s&$top=%d", c.apiBase(), apiVersion, c.pageSize)

	var (
		ids    []int
		seen   = map[int]struct{}{}
		lastID = 0
	)

	for {
		query := fmt.Sprintf(
			"SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = '%s' AND [System.Id] > %d ORDER BY [System.Id] ASC",
			c.project, lastID)

		var page wiqlResponse
		if err := c.doJSON(ctx, http.MethodPost, endpoint, map[string]string{"query": query}, &page); err != nil {
			return nil, err
		}

		for _, ref := range page.WorkItems {
			if _, ok := seen[ref.ID]; ok {
				continue
			}
			seen[ref.ID] = struct{}{}
			ids = append(ids, ref.ID)
		}

		if len(page.WorkItems) < c.pageSize {
			break
		}
		lastID = page.WorkItems[len(page.WorkItems)-1].ID
	}

	return ids, nil
}

func (c *Client) fetchDetails(ctx context.Context, ids []int) ([]domain.WorkItem, error) {
	items := make([]domain.WorkItem, 0, len(ids))

	for start := 0; start < len(ids); start += maxIDsPerBatch {
		end := start + maxIDsPerBatch
		if end > len(ids) {
			end = len(ids)
		}

		chunk := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			chunk = append(chunk, strconv.Itoa(id))
		}

		endpoint := fmt.Sprintf("%s/wit/workitems?ids=%s&api-version=%s",
			c.apiBase(), strings.Join(chunk, ","), apiVersion)

		var page workItemsResponse
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		for _, payload := range page.Value {
			item, err := payload.toDomain()
			if err != nil {
				return nil, &PermanentError{Err: err}
			}
			items = append(items, item)
		}
	}

	return items, nil
}

func (c *Client) fetchThreads(ctx context.Context, items []domain.WorkItem) ([]domain.WorkItemThread, []domain.CommentFailure, error) {
	pool, err := ants.NewPool(c.fetchConcurrency)
	if err != nil {
		return nil, nil, fmt.Errorf("create fetch pool: %w", err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []domain.CommentFailure
	)
	threads := make([]domain.WorkItemThread, len(items))

	for i := range items {
		i := i
		item := items[i]
		wg.Add(1)

		task := func() {
			defer wg.Done()

			comments, cErr := c.fetchComments(ctx, item.ID)
			if cErr != nil {
				c.debug("comment fetch failed", "work_item", item.ID, "error", cErr)
				mu.Lock()
				failures = append(failures, domain.CommentFailure{WorkItemID: item.ID, Reason: cErr.Error()})
				mu.Unlock()
				comments = nil
			}

			thread := domain.WorkItemThread{Item: item, Comments: comments}
			thread.SortComments()
			threads[i] = thread
		}

		if submitErr := pool.Submit(task); submitErr != nil {
			wg.Done()
			return nil, nil, fmt.Errorf("submit comment fetch: %w", submitErr)
		}
	}

	wg.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].WorkItemID < failures[j].WorkItemID })
	return threads, failures, nil
}

func (c *Client) fetchComments(ctx context.Context, workItemID int) ([]domain.Comment, error) {
	params := url.Values{}
	params.Set("api-version", commentsAPIVersion)
	params.Set("$top", strconv.Itoa(c.commentPageSize))

	var comments []domain.Comment
	for {
		endpoint := fmt.Sprintf("%s/wit/workItems/%d/comments?%s", c.apiBase(), workItemID, params.Encode())

		var page commentsResponse
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		for _, payload := range page.Comments {
			comment, err := payload.toDomain(workItemID)
			if err != nil {
				return nil, &PermanentError{Err: err}
			}
			comments = append(comments, comment)
		}

		if page.ContinuationToken == "" {
			break
		}
		params.Set("continuationToken", page.ContinuationToken)
	}

	return comments, nil
}

// doJSON performs one API call with bounded exponential backoff on
// transient failures. Permanent failures abort immediately.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	operation := func() error {
		err := c.doOnce(ctx, method, endpoint, payload, out)
		var perm *PermanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval

	return backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx))
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return &PermanentError{Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.SetBasicAuth("", c.pat)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("%s %s", method, resp.Status)}
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &PermanentError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s %s: %s", method, resp.Status, strings.TrimSpace(string(detail))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PermanentError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) apiBase() string {
	return fmt.Sprintf("%s/%s/%s/_apis", c.baseURL, c.organization, c.project)
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
