package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jobflow/internal/lifecycle"
	"jobflow/internal/models"
)

// apiError is the error body the API returns.
type apiError struct {
	Status  int
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s, http %d)", e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s (http %d)", e.Message, e.Status)
}

type client struct {
	base  string
	actor string
	http  *http.Client
}

func newClient(base, actor string) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		actor: actor,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set("X-Actor-ID", c.actor)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

type items[T any] struct {
	Items []T `json:"items"`
}

func (c *client) GetLifecycle(ctx context.Context, jobRef string) (models.JobLifecycle, error) {
	var lc models.JobLifecycle
	err := c.do(ctx, http.MethodGet, "/lifecycles/"+url.PathEscape(jobRef), nil, nil, &lc)
	return lc, err
}

func (c *client) History(ctx context.Context, jobRef string) ([]models.LifecycleHistoryEntry, error) {
	var out items[models.LifecycleHistoryEntry]
	err := c.do(ctx, http.MethodGet, "/lifecycles/"+url.PathEscape(jobRef)+"/history", nil, nil, &out)
	return out.Items, err
}

func (c *client) List(ctx context.Context, q url.Values) ([]models.JobLifecycle, error) {
	var out items[models.JobLifecycle]
	err := c.do(ctx, http.MethodGet, "/lifecycles", q, nil, &out)
	return out.Items, err
}

func (c *client) Dashboard(ctx context.Context) (lifecycle.Dashboard, error) {
	var d lifecycle.Dashboard
	err := c.do(ctx, http.MethodGet, "/dashboard", nil, nil, &d)
	return d, err
}

func (c *client) Notifications(ctx context.Context, q url.Values) ([]models.Notification, error) {
	var out items[models.Notification]
	err := c.do(ctx, http.MethodGet, "/notifications", q, nil, &out)
	return out.Items, err
}

func (c *client) Create(ctx context.Context, body map[string]any) (models.JobLifecycle, error) {
	var lc models.JobLifecycle
	err := c.do(ctx, http.MethodPost, "/lifecycles", nil, body, &lc)
	return lc, err
}

// Action posts to one of the per-job control endpoints (hold, cancel,
// complete). Resume answers with an update result and is handled by Resume.
func (c *client) Action(ctx context.Context, jobRef, action, reason string) (models.JobLifecycle, error) {
	var lc models.JobLifecycle
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	err := c.do(ctx, http.MethodPost, "/lifecycles/"+url.PathEscape(jobRef)+"/"+action, nil, body, &lc)
	return lc, err
}

func (c *client) Resume(ctx context.Context, jobRef string) (lifecycle.UpdateResult, error) {
	var res lifecycle.UpdateResult
	err := c.do(ctx, http.MethodPost, "/lifecycles/"+url.PathEscape(jobRef)+"/resume", nil, nil, &res)
	return res, err
}
