// Package worker provides a client SDK for external job workers: an HTTP
// client for the worker gateway and a poll loop dispatching jobs to
// registered handlers by task type.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/conveyr/conveyr/pkg/web"
)

var (
	// ErrLeaseExpired mirrors the gateway's lease rejection: the job was
	// reassigned or the lease elapsed. Recoverable by re-polling.
	ErrLeaseExpired = errors.New("lease expired")

	// ErrInstanceCancelled indicates the job's owning instance was cancelled.
	ErrInstanceCancelled = errors.New("instance cancelled")

	// ErrNotFound indicates the gateway does not know the given key.
	ErrNotFound = errors.New("not found")
)

// Client talks to a broker's worker gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// ActivateJobs long-polls the gateway for jobs of the given task type.
func (c *Client) ActivateJobs(ctx context.Context, req web.ActivateJobsRequest) ([]web.ActivatedJob, error) {
	var resp web.ActivateJobsResponse

	err := c.post(ctx, "/jobs/activate", req, &resp)
	if err != nil {
		return nil, err
	}

	return resp.Jobs, nil
}

// CompleteJob reports successful execution with output variables.
func (c *Client) CompleteJob(ctx context.Context, jobKey, workerID string, variables map[string]any) error {
	return c.post(ctx, "/jobs/"+jobKey+"/complete", web.CompleteJobRequest{
		WorkerID:  workerID,
		Variables: variables,
	}, nil)
}

// FailJob reports a business-logic failure with the remaining retry budget.
func (c *Client) FailJob(ctx context.Context, jobKey, workerID string, retries int, errorMessage string) error {
	return c.post(ctx, "/jobs/"+jobKey+"/fail", web.FailJobRequest{
		WorkerID:     workerID,
		Retries:      retries,
		ErrorMessage: errorMessage,
	}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(resp)
	}

	if out == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}

// decodeError maps the gateway's RFC-7807 problem responses back onto the
// client-side sentinel errors.
func (c *Client) decodeError(resp *http.Response) error {
	var problem struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}

	data, err := io.ReadAll(resp.Body)
	if err == nil {
		_ = json.Unmarshal(data, &problem)
	}

	switch problem.Type {
	case "lease_expired":
		return ErrLeaseExpired
	case "instance_cancelled":
		return ErrInstanceCancelled
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if problem.Detail != "" {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, problem.Detail)
	}

	return fmt.Errorf("gateway returned %d", resp.StatusCode)
}
