package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"examguard/internal/config"
	"examguard/internal/model"
)

// Client talks to the backend review service. All timestamps are sent in
// UTC; the backend treats zone-less timestamps as UTC, so everything is
// canonicalized before marshalling.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg config.BackendConfig) *Client {
	if !cfg.Enabled {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type batchRequest struct {
	Events []model.ProctorEvent `json:"events"`
}

type BatchResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

type statusRequest struct {
	Status  model.SessionStatus `json:"status"`
	EndedAt time.Time           `json:"ended_at,omitzero"`
}

// CohortOverview is the backend's per-cohort integrity rollup.
type CohortOverview struct {
	CohortID string                  `json:"cohort_id"`
	Sessions []model.SessionAnalysis `json:"sessions"`
}

func canonicalize(events []model.ProctorEvent) []model.ProctorEvent {
	out := make([]model.ProctorEvent, len(events))
	for i, ev := range events {
		ev.Timestamp = ev.Timestamp.UTC()
		out[i] = ev
	}
	return out
}

// SendEvent posts a single event. Used for flagged events that should not
// wait for a batch boundary.
func (c *Client) SendEvent(ctx context.Context, ev model.ProctorEvent) error {
	if c == nil {
		return fmt.Errorf("backend client not configured")
	}
	ev.Timestamp = ev.Timestamp.UTC()
	return c.post(ctx, "/events", ev, nil)
}

// SendBatch posts a batch of events. Satisfies the batcher's sink interface.
func (c *Client) SendBatch(ctx context.Context, events []model.ProctorEvent) error {
	if c == nil {
		return fmt.Errorf("backend client not configured")
	}
	if len(events) == 0 {
		return nil
	}
	var result BatchResponse
	if err := c.post(ctx, "/events/batch", batchRequest{Events: canonicalize(events)}, &result); err != nil {
		return err
	}
	if result.Rejected > 0 {
		return fmt.Errorf("backend rejected %d of %d events", result.Rejected, len(events))
	}
	return nil
}

func (c *Client) RegisterSession(ctx context.Context, session model.Session) error {
	if c == nil {
		return fmt.Errorf("backend client not configured")
	}
	session.StartedAt = session.StartedAt.UTC()
	if !session.EndedAt.IsZero() {
		session.EndedAt = session.EndedAt.UTC()
	}
	return c.post(ctx, "/sessions", session, nil)
}

func (c *Client) UpdateSessionStatus(ctx context.Context, sessionUUID string, status model.SessionStatus, endedAt time.Time) error {
	if c == nil {
		return fmt.Errorf("backend client not configured")
	}
	if !endedAt.IsZero() {
		endedAt = endedAt.UTC()
	}
	return c.put(ctx, "/sessions/"+sessionUUID+"/status", statusRequest{Status: status, EndedAt: endedAt}, nil)
}

func (c *Client) SessionAnalysis(ctx context.Context, sessionUUID string) (*model.SessionAnalysis, error) {
	if c == nil {
		return nil, fmt.Errorf("backend client not configured")
	}
	var result model.SessionAnalysis
	if err := c.get(ctx, "/sessions/"+sessionUUID+"/analysis", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CohortIntegrityOverview(ctx context.Context, cohortID string) (*CohortOverview, error) {
	if c == nil {
		return nil, fmt.Errorf("backend client not configured")
	}
	var result CohortOverview
	if err := c.get(ctx, "/cohorts/"+cohortID+"/integrity-overview", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) put(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("backend response status %d: %s", resp.StatusCode, errBody["message"])
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
