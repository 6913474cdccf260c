// Package client talks to the marginalia API. It is the transport behind a
// mirror.Session and the remote commands of outlinectl.
package client

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

	"marginalia/api/internal/mirror"
	"marginalia/api/internal/outline"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: %s (%d): %s", e.Code, e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

var _ mirror.Transport = (*Client)(nil)

func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: defaultTimeout})
}

func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type operationRequest struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

type replaceRequest struct {
	Workspace outline.Workspace `json:"workspace"`
}

func (c *Client) GetWorkspace(ctx context.Context, conceptID string) (outline.Workspace, error) {
	var ws outline.Workspace
	err := c.do(ctx, http.MethodGet, workspacePath(conceptID), nil, &ws)
	return ws, err
}

func (c *Client) ApplyOperation(ctx context.Context, conceptID string, op outline.Operation) (outline.Workspace, error) {
	name, payload, err := outline.EncodeOperation(op)
	if err != nil {
		return outline.Workspace{}, err
	}
	var ws outline.Workspace
	err = c.do(ctx, http.MethodPost, workspacePath(conceptID)+"/ops", operationRequest{Op: name, Payload: payload}, &ws)
	return ws, err
}

func (c *Client) ReplaceWorkspace(ctx context.Context, conceptID string, ws outline.Workspace) (outline.Workspace, error) {
	var out outline.Workspace
	err := c.do(ctx, http.MethodPut, workspacePath(conceptID), replaceRequest{Workspace: ws}, &out)
	return out, err
}

func (c *Client) DeleteConcept(ctx context.Context, conceptID string) error {
	return c.do(ctx, http.MethodDelete, "/api/concepts/"+url.PathEscape(conceptID), nil, nil)
}

type SnapshotInfo struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
}

func (c *Client) CreateSnapshot(ctx context.Context, conceptID string) (SnapshotInfo, error) {
	var info SnapshotInfo
	err := c.do(ctx, http.MethodPost, workspacePath(conceptID)+"/snapshots", nil, &info)
	return info, err
}

func (c *Client) ListSnapshots(ctx context.Context, conceptID string) ([]SnapshotInfo, error) {
	var body struct {
		Snapshots []SnapshotInfo `json:"snapshots"`
	}
	err := c.do(ctx, http.MethodGet, workspacePath(conceptID)+"/snapshots", nil, &body)
	return body.Snapshots, err
}

func (c *Client) RestoreSnapshot(ctx context.Context, conceptID, snapshotID string) (outline.Workspace, error) {
	var ws outline.Workspace
	path := workspacePath(conceptID) + "/snapshots/" + url.PathEscape(snapshotID) + "/restore"
	err := c.do(ctx, http.MethodPost, path, nil, &ws)
	return ws, err
}

type GroupHit struct {
	GroupID     string `json:"groupId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (c *Client) SearchGroups(ctx context.Context, conceptID, query string) ([]GroupHit, error) {
	var body struct {
		Groups []GroupHit `json:"groups"`
	}
	path := workspacePath(conceptID) + "/groups?q=" + url.QueryEscape(query)
	err := c.do(ctx, http.MethodGet, path, nil, &body)
	return body.Groups, err
}

func workspacePath(conceptID string) string {
	return "/api/concepts/" + url.PathEscape(conceptID) + "/workspace"
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
