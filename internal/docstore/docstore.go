// Package docstore implements the Doc-store incremental query client (C4):
// data-source enumeration, schema detection, paginated page queries filtered
// by last-edited timestamp, and property-name resolution for writes.
//
// Built on github.com/jomei/notionapi for transport, pagination, and the
// typed-property decoding idiom demonstrated by the pack's sercha-cli Notion
// connector (other_examples/806811e3_...-notion-connector.go.go): a
// type-switch over notionapi's Page/Database results rather than hand-rolled
// JSON request bodies. Requests go through the same internal/ratelimit.Transport
// + internal/daemon.CircuitBreaker pairing the CalDAV client uses, scoped to
// this external system, so a 429/5xx from either backend is retried and
// isolated the same way.
package docstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"notioncalsync/internal/daemon"
	"notioncalsync/internal/ratelimit"
	"notioncalsync/internal/task"
)

// Client wraps a notionapi.Client with the task-schema query surface §4.4
// requires.
type Client struct {
	api     *notionapi.Client
	breaker *daemon.CircuitBreaker
}

// Config holds Doc-store connection and retry settings.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// New constructs a Client authenticated with a bearer token, using default
// retry settings.
func New(token string) *Client {
	return NewWithConfig(token, Config{})
}

// NewWithConfig constructs a Client authenticated with a bearer token and
// explicit retry settings.
func NewWithConfig(token string, cfg Config) *Client {
	breaker := daemon.NewCircuitBreaker(daemon.DefaultCircuitBreakerThreshold, daemon.DefaultCircuitBreakerCooldown)

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &ratelimit.Transport{
			Next:    http.DefaultTransport,
			Breaker: breaker,
			Config: ratelimit.Config{
				Backend:      "doc_store",
				MaxRetries:   cfg.MaxRetries,
				BaseDelay:    cfg.BaseDelay,
				MaxDelay:     cfg.MaxDelay,
				EnableJitter: true,
			},
		},
	}

	return &Client{
		api:     notionapi.NewClient(notionapi.Token(token), notionapi.WithHTTPClient(httpClient)),
		breaker: breaker,
	}
}

// Healthy reports whether the Doc-store circuit breaker is currently
// allowing requests through (used by the admin surface's check_connectivity
// action to distinguish "never tried" from "tripped").
func (c *Client) Healthy() bool {
	return c.breaker.State() != daemon.CircuitOpen
}

// NewWithAPI wraps an already-constructed notionapi.Client, for tests.
func NewWithAPI(api *notionapi.Client) *Client {
	return &Client{api: api}
}

// DataSource is the minimal data-source descriptor the reconciliation
// engine needs: id, title, and the typed property schema used by
// IsTaskSchema and FindPropertyNames.
type DataSource struct {
	ID         string
	Title      string
	Properties notionapi.PropertyConfigs
}

// ListDataSources enumerates every data source reachable via search,
// paginating on start_cursor/has_more (§4.4). Pagination stops early if the
// server reports has_more without a next cursor, mirroring the original
// source's query_database_pages guard.
func (c *Client) ListDataSources(ctx context.Context) ([]DataSource, error) {
	var out []DataSource
	var cursor notionapi.Cursor

	for {
		req := &notionapi.SearchRequest{
			Filter: notionapi.SearchFilter{
				Value:    "data_source",
				Property: "object",
			},
			PageSize: task.NotionDataSourcePageSize,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := c.api.Search.Do(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("docstore: search data sources: %w", err)
		}

		for _, obj := range resp.Results {
			ds, ok := obj.(*notionapi.Database)
			if !ok {
				continue
			}
			out = append(out, DataSource{
				ID:         ds.ID.String(),
				Title:      plainTitle(ds.Title),
				Properties: ds.Properties,
			})
		}

		if !resp.HasMore {
			break
		}
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	return out, nil
}

// IsTaskSchema reports whether a data source's property schema looks like a
// task database: at least one date property and one status-or-select
// property (§4.4).
func IsTaskSchema(props notionapi.PropertyConfigs) bool {
	hasDate, hasStatus := false, false
	for _, p := range props {
		switch p.GetType() {
		case notionapi.PropertyConfigTypeDate:
			hasDate = true
		case notionapi.PropertyConfigTypeStatus, notionapi.PropertyConfigTypeSelect:
			hasStatus = true
		}
	}
	return hasDate && hasStatus
}

// QueryPages paginates a data source's pages, optionally filtered to pages
// whose last_edited_time is on_or_after since (the "changed since" filter,
// §4.4), and decodes each into a task.Task.
func (c *Client) QueryPages(ctx context.Context, dsID string, since *time.Time) ([]task.Task, error) {
	var out []task.Task
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: task.NotionDataSourcePageSize,
		}
		if since != nil {
			req.Filter = notionapi.PropertyFilter{
				Property: "last_edited_time",
				Date: &notionapi.DateFilterCondition{
					OnOrAfter: since,
				},
			}
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(dsID), req)
		if err != nil {
			return nil, fmt.Errorf("docstore: query data source %s: %w", dsID, err)
		}

		for _, page := range resp.Results {
			t, ok := ParsePage(page, dsID)
			if !ok {
				continue // schema error: skip page, not an error (§7)
			}
			out = append(out, t)
		}

		if !resp.HasMore {
			break
		}
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	return out, nil
}

// GetPage fetches a single page by id and decodes it into a task.Task. ok is
// false if the page is archived/deleted or lacks the minimum task shape.
func (c *Client) GetPage(ctx context.Context, pageID string) (t task.Task, ok bool, err error) {
	page, err := c.api.Page.Get(ctx, notionapi.PageID(pageID))
	if err != nil {
		if isNotFound(err) {
			return task.Task{}, false, nil
		}
		return task.Task{}, false, fmt.Errorf("docstore: get page %s: %w", pageID, err)
	}
	if page.Archived {
		return task.Task{}, false, nil
	}
	t, ok = ParsePage(*page, "")
	return t, ok, nil
}

// CreatePage creates a new page in dsID from t's fields, using well-known
// property names.
func (c *Client) CreatePage(ctx context.Context, dsID string, t task.Task) (string, error) {
	props := BuildProperties(t, nil)
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			DatabaseID: notionapi.DatabaseID(dsID),
		},
		Properties: props,
	}
	page, err := c.api.Page.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("docstore: create page: %w", err)
	}
	return page.ID.String(), nil
}

// UpdatePage overwrites t's fields on an existing page, using resolved
// property names when names is non-nil (falls back to well-known names
// otherwise).
func (c *Client) UpdatePage(ctx context.Context, pageID string, t task.Task, names map[string]string) error {
	props := BuildProperties(t, names)
	req := &notionapi.PageUpdateRequest{Properties: props}
	if _, err := c.api.Page.Update(ctx, notionapi.PageID(pageID), req); err != nil {
		return fmt.Errorf("docstore: update page %s: %w", pageID, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *notionapi.Error
	if e, ok := err.(*notionapi.Error); ok {
		apiErr = e
	}
	return apiErr != nil && apiErr.Status == 404
}

func plainTitle(rich []notionapi.RichText) string {
	var sb strings.Builder
	for _, r := range rich {
		sb.WriteString(r.PlainText)
	}
	return strings.TrimSpace(sb.String())
}
