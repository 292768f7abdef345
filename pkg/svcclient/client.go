// Package svcclient implements the narrow HTTP control interface the
// worker loop drives a task through: execute, status, output. It is
// grounded on the engine's existing health.HTTPChecker — a *http.Client
// with an explicit timeout and context-based cancellation — rather than a
// new client abstraction.
package svcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/fluxion/pkg/errors"
	"github.com/cuemby/fluxion/pkg/health"
	"github.com/cuemby/fluxion/pkg/types"
)

// Status is the control interface's reported task status.
type Status string

const (
	StatusComplete Status = "complete"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ExecuteRequest is the body posted to POST /control/execute.
type ExecuteRequest struct {
	Method     string                 `json:"method"`
	WorkflowID string                 `json:"workflow_id"`
	TaskID     string                 `json:"task_id"`
	Inputs     []types.DataReference  `json:"inputs"`
	Parameters map[string]string      `json:"parameters"`
}

// ExecuteResponse is the response from execute or status, unified since
// both share the status/output/error shape. Output decodes a bare
// DataReference instead.
type ExecuteResponse struct {
	Status   Status               `json:"status"`
	TaskID   string               `json:"task_id,omitempty"`
	Output   *types.DataReference `json:"output,omitempty"`
	Progress *int                 `json:"progress,omitempty"`
	Error    *types.ErrorInfo     `json:"error,omitempty"`
}

// Client is the narrow surface the worker drives a task through.
type Client struct {
	httpClient *http.Client
}

// NewClient constructs a Client with the given per-call timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Execute calls POST {endpoint}/control/execute. status=complete implies
// Output is present; status=running implies TaskID is present for polling.
func (c *Client) Execute(ctx context.Context, endpoint string, req *ExecuteRequest) (*ExecuteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(errors.TransportError, "encode execute request", err)
	}
	out, err := c.do(ctx, http.MethodPost, endpoint+"/control/execute", body)
	if err != nil {
		return out, err
	}
	if out.Status == StatusComplete && out.Output == nil {
		return nil, errors.New(errors.TransportError, "execute status=complete without output")
	}
	return out, nil
}

// Status calls GET {endpoint}/control/status/{remoteTaskID}. Unlike Execute,
// a status=complete response carries no output — the caller must fetch it
// separately with Output.
func (c *Client) Status(ctx context.Context, endpoint, remoteTaskID string) (*ExecuteResponse, error) {
	return c.do(ctx, http.MethodGet, endpoint+"/control/status/"+remoteTaskID, nil)
}

// Output calls GET {endpoint}/control/output/{remoteTaskID} and decodes the
// DataReference directly (the endpoint returns the reference, not an
// envelope).
func (c *Client) Output(ctx context.Context, endpoint, remoteTaskID string) (*types.DataReference, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/control/output/"+remoteTaskID, nil)
	if err != nil {
		return nil, errors.Wrap(errors.TransportError, "build output request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.TransportError, "output request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == 0 {
		return nil, errors.New(errors.TransportError, fmt.Sprintf("output returned HTTP %d", resp.StatusCode))
	}

	var ref types.DataReference
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, errors.Wrap(errors.TransportError, "malformed output body", err)
	}
	return &ref, nil
}

// Probe performs a lightweight reachability check against a container's
// control-interface health path, reusing the engine's generic HTTP checker
// rather than a bespoke one-off request. It never returns an error: an
// unreachable endpoint simply reports Result.Healthy == false, which the
// worker loop treats as a TransportError: the attempt already counted for
// this dispatch is used up and the task is retried, without waiting on an
// execute call that would just time out.
func (c *Client) Probe(ctx context.Context, endpoint string) health.Result {
	checker := health.NewHTTPChecker(endpoint + "/control/health").WithTimeout(c.httpClient.Timeout)
	return checker.Check(ctx)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*ExecuteResponse, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, errors.Wrap(errors.TransportError, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.TransportError, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, errors.New(errors.TransportError, fmt.Sprintf("service returned HTTP %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, errors.New(errors.TransportError, fmt.Sprintf("unexpected HTTP %d", resp.StatusCode))
	}

	var out ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(errors.TransportError, "malformed response body", err)
	}

	switch out.Status {
	case StatusComplete, StatusRunning:
		// TaskID/Output presence requirements differ between execute and
		// status polls; callers validate what they need.
	case StatusFailed:
		message := "service reported failure"
		if out.Error != nil {
			message = out.Error.Message
		}
		return &out, errors.New(errors.ServiceError, message)
	default:
		return nil, errors.New(errors.TransportError, fmt.Sprintf("unrecognized status %q", out.Status))
	}

	return &out, nil
}
