package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"triage/internal/services"
)

// Client calls the run and result API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the API at baseURL (for example
// "http://127.0.0.1:7487").
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StartRun admits a run for cycle.
func (c *Client) StartRun(ctx context.Context, cycle int) (*Run, error) {
	var resp RunResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/cycles/%d/runs", cycle), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

// Retry admits a retry of the latest failed run for cycle.
func (c *Client) Retry(ctx context.Context, cycle int) (*Run, error) {
	var resp RunResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/cycles/%d/retry", cycle), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

// Run fetches one run by id.
func (c *Client) Run(ctx context.Context, id string) (*Run, error) {
	var resp RunResponse
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

// ListRuns lists runs newest first. cycle 0 lists every cycle.
func (c *Client) ListRuns(ctx context.Context, cycle, limit int) ([]Run, error) {
	path := "/api/runs"
	if cycle != 0 {
		path = fmt.Sprintf("/api/cycles/%d/runs", cycle)
	}
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp RunListResponse
	if err := c.do(ctx, http.MethodGet, path, query, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// ResultQuery narrows CurrentResult.
type ResultQuery struct {
	Cycle int
	// Tier filters assignments; nil means every tier.
	Tier            *int
	SkipAssignments bool
}

// CurrentResult fetches the live result set.
func (c *Client) CurrentResult(ctx context.Context, q ResultQuery) (*ResultResponse, error) {
	query := url.Values{}
	if q.Cycle != 0 {
		query.Set("cycle", strconv.Itoa(q.Cycle))
	}
	if q.Tier != nil {
		query.Set("tier", strconv.Itoa(*q.Tier))
	}
	if q.SkipAssignments {
		query.Set("assignments", "0")
	}
	var resp ResultResponse
	if err := c.do(ctx, http.MethodGet, "/api/results/current", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health fetches the health report. A degraded service still returns the
// decoded report alongside an error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp)
	if err != nil && resp.Status == "" {
		return nil, err
	}
	return &resp, err
}

// StatusError is returned for non-2xx replies. It unwraps to the service
// marker matching the status code so callers can use errors.Is.
type StatusError struct {
	Code    int
	Message string
	Kind    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("api: %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusConflict:
		return services.ErrConcurrentRun
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusBadRequest:
		return services.ErrValidation
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return services.ErrTransient
	default:
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	statusErr := &StatusError{Code: resp.StatusCode}
	var payload ErrorResponse
	if json.Unmarshal(body, &payload) == nil {
		statusErr.Message = payload.Error
		statusErr.Kind = payload.Kind
	}
	if resp.StatusCode == http.StatusServiceUnavailable && out != nil {
		_ = json.Unmarshal(body, out)
	}
	return statusErr
}
