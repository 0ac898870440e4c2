package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskboard/domain"
)

const maxErrorBody = 4 << 10

// Client talks to the task service REST API.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// NewClient creates a Client. A zero timeout leaves the per-call context as
// the only deadline.
func NewClient(baseURL, bearer string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type listEnvelope struct {
	Tasks []domain.Task `json:"tasks"`
}

type statusBody struct {
	Status domain.Status `json:"status"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ListTasksForAssignee fetches every task assigned to assigneeID, or every
// task when assigneeID is empty. The service may answer with a bare array or
// with {"tasks": [...]}.
func (c *Client) ListTasksForAssignee(ctx context.Context, assigneeID string) ([]domain.Task, error) {
	const op = "list tasks"
	target := c.BaseURL + "/api/tasks"
	if assigneeID != "" {
		target += "?assignee=" + url.QueryEscape(assigneeID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &ServiceError{Op: op, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(op, req)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env listEnvelope
		if err := sonic.Unmarshal(trimmed, &env); err != nil {
			return nil, &ServiceError{Op: op, Message: "decode response: " + err.Error()}
		}
		return nonNil(env.Tasks), nil
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(trimmed, &tasks); err != nil {
		return nil, &ServiceError{Op: op, Message: "decode response: " + err.Error()}
	}
	return nonNil(tasks), nil
}

// SetTaskStatus changes the status of one task. Every call carries a fresh
// Idempotency-Key; the call is never retried here.
func (c *Client) SetTaskStatus(ctx context.Context, taskID string, status domain.Status) error {
	const op = "set task status"
	payload, err := sonic.Marshal(statusBody{Status: status})
	if err != nil {
		return &ServiceError{Op: op, Message: err.Error()}
	}
	target := c.BaseURL + "/api/tasks/" + url.PathEscape(taskID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(payload))
	if err != nil {
		return &ServiceError{Op: op, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	_, err = c.do(op, req)
	return err
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	return body, nil
}

func errorMessage(raw []byte, fallback string) string {
	var eb errorBody
	if err := sonic.Unmarshal(raw, &eb); err == nil {
		if eb.Error != "" {
			return eb.Error
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return fallback
}

func nonNil(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return []domain.Task{}
	}
	return tasks
}
