// Package remote talks to the status API of a running watch daemon.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ipsix/coresum/internal/audit"
	"github.com/ipsix/coresum/internal/scheduler"
	"github.com/ipsix/coresum/internal/state"
)

type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.getJSON(ctx, http.MethodGet, "/health", &out)
}

func (c *Client) Targets(ctx context.Context) ([]scheduler.JobStatus, error) {
	var out []scheduler.JobStatus
	err := c.getJSON(ctx, http.MethodGet, "/targets", &out)
	return out, err
}

func (c *Client) LatestRuns(ctx context.Context) ([]state.RunSummary, error) {
	var out []state.RunSummary
	err := c.getJSON(ctx, http.MethodGet, "/runs/latest", &out)
	return out, err
}

// History lists stored runs, all targets when target is empty.
func (c *Client) History(ctx context.Context, target string) ([]state.RunSummary, error) {
	path := "/runs/history"
	if target != "" {
		path += "?target=" + url.QueryEscape(target)
	}
	var out []state.RunSummary
	err := c.getJSON(ctx, http.MethodGet, path, &out)
	return out, err
}

func (c *Client) Run(ctx context.Context, id string) (audit.Run, error) {
	var out audit.Run
	err := c.getJSON(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), &out)
	return out, err
}

// Trigger verifies the named target now and returns the finished run.
func (c *Client) Trigger(ctx context.Context, name string) (audit.Run, error) {
	var out audit.Run
	err := c.getJSON(ctx, http.MethodPost, "/targets/trigger/"+url.PathEscape(name), &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.Token)
	req.Header.Set("Accept", "application/json")
	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
