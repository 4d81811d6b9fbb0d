package rollout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// #region ops-client

// OpsClient implements the Executor, Probe, and Rollback seams against a
// deployment target's REST API:
//
//	POST {base}/deployments/{id}/traffic   {"commit_id": ..., "percent": N}
//	GET  {base}/deployments/{id}/health    -> {"error_rate": F, "p95_latency_ms": N}
//	POST {base}/deployments/{id}/rollback
type OpsClient struct {
	baseURL string
	client  *http.Client
}

// NewOpsClient creates a client for the given base URL.
func NewOpsClient(baseURL string) *OpsClient {
	return &OpsClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Deploy asks the target to route the given traffic share to the record's
// artifact.
func (c *OpsClient) Deploy(ctx context.Context, rec DeploymentRecord, trafficPercent int) error {
	body, err := json.Marshal(map[string]any{
		"commit_id": rec.CommitID,
		"percent":   trafficPercent,
	})
	if err != nil {
		return fmt.Errorf("marshal deploy request: %w", err)
	}

	url := fmt.Sprintf("%s/deployments/%s/traffic", c.baseURL, rec.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deploy %s to %d%%: %w", rec.ID, trafficPercent, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deploy %s to %d%%: target returned %s", rec.ID, trafficPercent, resp.Status)
	}
	return nil
}

// Sample reads the target's health endpoint for one probe observation.
func (c *OpsClient) Sample(ctx context.Context, deploymentID string) (ProbeSample, error) {
	url := fmt.Sprintf("%s/deployments/%s/health", c.baseURL, deploymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeSample{}, fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ProbeSample{}, fmt.Errorf("sample %s: %w", deploymentID, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return ProbeSample{}, fmt.Errorf("sample %s: target returned %s", deploymentID, resp.Status)
	}

	var payload struct {
		ErrorRate    float64 `json:"error_rate"`
		P95LatencyMS int64   `json:"p95_latency_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ProbeSample{}, fmt.Errorf("decode health response: %w", err)
	}
	return ProbeSample{
		ErrorRate:  payload.ErrorRate,
		P95Latency: time.Duration(payload.P95LatencyMS) * time.Millisecond,
	}, nil
}

// Rollback asks the target to swap traffic back to the prior artifact.
func (c *OpsClient) Rollback(ctx context.Context, deploymentID string) error {
	url := fmt.Sprintf("%s/deployments/%s/rollback", c.baseURL, deploymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build rollback request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("rollback %s: %w", deploymentID, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rollback %s: target returned %s", deploymentID, resp.Status)
	}
	return nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// #endregion ops-client
