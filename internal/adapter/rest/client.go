// Package rest talks to a PostgREST-style hosted table API.
package rest

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
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

// ErrUnexpectedStatus is wrapped by errors for non-success responses.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Client is a minimal PostgREST client authenticated with an API key.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Ping checks that the API answers. PostgREST replies 404 on the bare root
// when no schema is exposed, which still proves connectivity.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/rest/v1/", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return statusError(resp)
	}
	return nil
}

// Insert posts rows to table. rows is any JSON-encodable value, usually a
// slice of structs or a single struct.
func (c *Client) Insert(ctx context.Context, table string, rows any) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode %s rows: %w", table, err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.tableURL(table, nil), bytes.NewReader(body), http.Header{
		"Prefer": {"return=minimal"},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

// Count returns the exact row count of table, read from Content-Range.
func (c *Client) Count(ctx context.Context, table string) (int, error) {
	params := url.Values{"select": {"*"}, "limit": {"1"}}
	resp, err := c.do(ctx, http.MethodGet, c.tableURL(table, params), nil, http.Header{
		"Prefer": {"count=exact"},
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, statusError(resp)
	}
	return parseContentRange(resp.Header.Get("Content-Range"))
}

// RecentPredictions reads up to limit predictions from table, newest first.
func (c *Client) RecentPredictions(ctx context.Context, table string, limit int) ([]domain.Prediction, error) {
	params := url.Values{
		"order": {"timestamp.desc"},
		"limit": {strconv.Itoa(limit)},
	}
	resp, err := c.do(ctx, http.MethodGet, c.tableURL(table, params), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var preds []domain.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&preds); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}
	return preds, nil
}

func (c *Client) tableURL(table string, params url.Values) string {
	u := c.baseURL + "/rest/v1/" + url.PathEscape(table)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, fullURL string, body io.Reader, extra http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range extra {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	return fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, bytes.TrimSpace(body))
}

// parseContentRange extracts the total from "0-0/123". An unknown total
// ("*") counts as zero.
func parseContentRange(v string) (int, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	total := v[i+1:]
	if total == "*" {
		return 0, nil
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", v, err)
	}
	return n, nil
}
