package azuredevops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"WorkItemsETL/internal/config"
)

var idOffsetExpr = regexp.MustCompile(`\[System\.Id\] > (\d+)`)

func newTestClient(t *testing.T, server *httptest.Server, pageSize, maxRetries int) *Client {
	t.Helper()

	c := NewClient(config.SourceConfig{
		BaseURL:         server.URL,
		Organization:    "contoso",
		Project:         "platform",
		PAT:             "secret",
		PageSize:        pageSize,
		CommentPageSize: 100,
		MaxRetries:      maxRetries,
	}, 2, server.Client(), nil)
	c.retryInterval = time.Millisecond
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func itemPayload(id int, title string) map[string]any {
	return map[string]any{
		"id": id,
		"fields": map[string]any{
			"System.Title":        title,
			"System.State":        "Active",
			"System.WorkItemType": "Bug",
			"System.Tags":         "Backend; Urgent",
			"System.CreatedBy":    map[string]any{"displayName": "Amy Crossan"},
			"System.CreatedDate":  "2024-03-01T10:00:00Z",
			"System.ChangedDate":  "2024-03-02T10:00:00Z",
		},
	}
}

func comment(id int, created, text string) map[string]any {
	return map[string]any{
		"id":          id,
		"text":        text,
		"createdBy":   map[string]any{"displayName": "Amy Crossan"},
		"createdDate": created,
	}
}

func TestFetchAllWorkItems(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/contoso/platform/_apis/wit/wiql"):
			body := struct {
				Query string `json:"query"`
			}{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode wiql body: %v", err)
			}
			if strings.Contains(body.Query, "ChangedDate") {
				t.Errorf("wiql query must not filter by date: %s", body.Query)
			}

			offset, _ := strconv.Atoi(idOffsetExpr.FindStringSubmatch(body.Query)[1])
			switch offset {
			case 0:
				writeJSON(t, w, map[string]any{"workItems": []map[string]int{{"id": 1}, {"id": 2}}})
			case 2:
				writeJSON(t, w, map[string]any{"workItems": []map[string]int{{"id": 3}}})
			default:
				t.Errorf("unexpected wiql offset %d", offset)
			}

		case strings.HasPrefix(r.URL.Path, "/contoso/platform/_apis/wit/workitems"):
			var value []map[string]any
			for _, raw := range strings.Split(r.URL.Query().Get("ids"), ",") {
				id, _ := strconv.Atoi(raw)
				value = append(value, itemPayload(id, fmt.Sprintf("Item %d", id)))
			}
			writeJSON(t, w, map[string]any{"count": len(value), "value": value})

		case strings.HasPrefix(r.URL.Path, "/contoso/platform/_apis/wit/workItems/1/comments"):
			if r.URL.Query().Get("continuationToken") == "" {
				writeJSON(t, w, map[string]any{
					"comments":          []map[string]any{comment(11, "2024-03-03T00:00:00Z", "third")},
					"continuationToken": "page-2",
				})
				return
			}
			writeJSON(t, w, map[string]any{
				"comments": []map[string]any{
					comment(12, "2024-03-02T00:00:00Z", "second"),
					comment(10, "2024-03-01T00:00:00Z", "first"),
				},
			})

		case strings.HasPrefix(r.URL.Path, "/contoso/platform/_apis/wit/workItems/2/comments"):
			http.Error(w, "no access", http.StatusForbidden)

		case strings.HasPrefix(r.URL.Path, "/contoso/platform/_apis/wit/workItems/3/comments"):
			writeJSON(t, w, map[string]any{"comments": []map[string]any{}})

		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := newTestClient(t, server, 2, 1)

	result, err := c.FetchAllWorkItems(context.Background())
	if err != nil {
		t.Fatalf("FetchAllWorkItems error: %v", err)
	}

	if len(result.Threads) != 3 {
		t.Fatalf("expected 3 threads, got %d", len(result.Threads))
	}
	for i, want := range []int{1, 2, 3} {
		if result.Threads[i].Item.ID != want {
			t.Fatalf("thread %d: expected item %d, got %d", i, want, result.Threads[i].Item.ID)
		}
	}

	first := result.Threads[0]
	if len(first.Comments) != 3 {
		t.Fatalf("expected 3 comments on item 1, got %d", len(first.Comments))
	}
	for i, want := range []int{10, 12, 11} {
		if first.Comments[i].ID != want {
			t.Fatalf("comment %d: expected id %d, got %d", i, want, first.Comments[i].ID)
		}
	}

	if got := first.Item.Tags; len(got) != 2 || got[0] != "Backend" || got[1] != "Urgent" {
		t.Fatalf("unexpected raw tags: %v", got)
	}

	if len(result.CommentFailures) != 1 || result.CommentFailures[0].WorkItemID != 2 {
		t.Fatalf("expected recorded comment failure for item 2, got %v", result.CommentFailures)
	}
	if len(result.Threads[1].Comments) != 0 {
		t.Fatalf("item 2 should be emitted with an empty thread")
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	t.Parallel()

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, map[string]any{"workItems": []map[string]int{}})
	}))
	defer server.Close()

	c := newTestClient(t, server, 10, 3)

	result, err := c.FetchAllWorkItems(context.Background())
	if err != nil {
		t.Fatalf("FetchAllWorkItems error: %v", err)
	}
	if len(result.Threads) != 0 {
		t.Fatalf("expected empty result, got %d threads", len(result.Threads))
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestPermanentErrorAbortsWithoutRetry(t *testing.T) {
	t.Parallel()

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server, 10, 3)

	_, err := c.FetchAllWorkItems(context.Background())
	if err == nil {
		t.Fatal("expected error for unauthorized response")
	}

	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermanentError, got %T: %v", err, err)
	}
	if perm.Status != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", perm.Status)
	}
	if attempts != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", attempts)
	}
}

func TestRetriesAreBounded(t *testing.T) {
	t.Parallel()

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(t, server, 10, 2)

	_, err := c.FetchAllWorkItems(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}

	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientError, got %T: %v", err, err)
	}
	if attempts != 3 { // initial attempt + 2 retries
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}
