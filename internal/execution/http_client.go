package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/platform/logger"
)

// HTTPClientConfig holds the settings for the HTTP execution client.
type HTTPClientConfig struct {
	// BaseURL is the root of the execution service API, without trailing slash.
	BaseURL string

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// ResponseTimeout bounds the full request/response exchange. Submissions
	// can be long-running, so this is allowed to be much larger than the
	// connect timeout.
	ResponseTimeout time.Duration
}

// HTTPClient implements Client over the execution service's HTTP API:
//
//	POST /v1/executions        {task_id, payload}  → 202
//	GET  /v1/executions/{id}                       → outcome JSON
//	GET  /healthz                                  → 200
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates an execution client with bounded connect and
// response timeouts.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ResponseTimeout,
		},
	}
}

// submitRequest is the wire payload for a task submission.
type submitRequest struct {
	TaskID  uuid.UUID       `json:"task_id"`
	Payload json.RawMessage `json:"payload"`
}

// SubmitTask hands the task payload to the execution service.
func (c *HTTPClient) SubmitTask(
	ctx context.Context,
	taskID uuid.UUID,
	payload json.RawMessage,
) error {
	log := logger.FromContext(ctx)

	body, err := json.Marshal(submitRequest{TaskID: taskID, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode submission for task %s: %w", taskID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/executions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug("task submission transport failure",
			"task_id", taskID,
			"error", err)
		return classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	return c.classifyResponse(resp, "submit", taskID)
}

// FetchOutcome queries the current outcome of a previously submitted task.
func (c *HTTPClient) FetchOutcome(ctx context.Context, taskID uuid.UUID) (*Outcome, error) {
	log := logger.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/executions/"+taskID.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build outcome request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug("outcome fetch transport failure",
			"task_id", taskID,
			"error", err)
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTaskUnknown, taskID)
	}
	if err := c.classifyResponse(resp, "outcome", taskID); err != nil {
		return nil, err
	}

	var outcome Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return nil, fmt.Errorf("%w: malformed outcome body: %v", ErrTransient, err)
	}
	if outcome.TaskID == uuid.Nil {
		outcome.TaskID = taskID
	}

	return &outcome, nil
}

// Ping performs a lightweight round-trip against the health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to build ping request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ping returned status %d", ErrTransient, resp.StatusCode)
	}
	return nil
}

// CloseIdleConnections drops pooled connections. The network recovery action
// uses it to force fresh connections after a network-class failure.
func (c *HTTPClient) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

// classifyResponse maps a non-2xx response to the matching error class.
// 429 and 507 signal the remote side is out of capacity; other 5xx responses
// are transient.
func (c *HTTPClient) classifyResponse(resp *http.Response, op string, taskID uuid.UUID) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Bounded read keeps a misbehaving server from ballooning error messages.
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusInsufficientStorage:
		return fmt.Errorf("%w: %s for task %s returned %d: %s",
			ErrResourceExhausted, op, taskID, resp.StatusCode, strings.TrimSpace(string(detail)))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s for task %s returned %d: %s",
			ErrTransient, op, taskID, resp.StatusCode, strings.TrimSpace(string(detail)))
	default:
		return fmt.Errorf("%s for task %s rejected with status %d: %s",
			op, taskID, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
}
