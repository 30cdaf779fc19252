// Package client is a small HTTP client for the notekeeper API, used by
// the operator console.
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

	"github.com/notexe/notekeeper/internal/httpapi"
	"github.com/notexe/notekeeper/internal/lifecycle"
	"github.com/notexe/notekeeper/internal/notify"
	"github.com/notexe/notekeeper/internal/reminder"
)

const maxErrorBody = 4096

// APIError is returned when the server answers with success=false.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type ListParams struct {
	OwnerID string
	Status  reminder.Status
	Search  string
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

func (c *Client) List(ctx context.Context, p ListParams) ([]httpapi.ReminderView, error) {
	q := url.Values{}
	if p.OwnerID != "" {
		q.Set("ownerId", p.OwnerID)
	}
	if p.Status != "" {
		q.Set("status", string(p.Status))
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}

	var out []httpapi.ReminderView
	err := c.do(ctx, http.MethodGet, "/api/v1/reminders", q, nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (*httpapi.ReminderView, error) {
	var out httpapi.ReminderView
	if err := c.do(ctx, http.MethodGet, reminderPath(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Create(ctx context.Context, d reminder.Draft) (*httpapi.ReminderView, error) {
	var out httpapi.ReminderView
	if err := c.do(ctx, http.MethodPost, "/api/v1/reminders", nil, d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Update(ctx context.Context, id string, p reminder.Patch) (*httpapi.ReminderView, error) {
	var out httpapi.ReminderView
	if err := c.do(ctx, http.MethodPut, reminderPath(id), nil, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, reminderPath(id), nil, nil, nil)
}

func (c *Client) SetStatus(ctx context.Context, id string, status reminder.Status) (*httpapi.ReminderView, error) {
	var out httpapi.ReminderView
	body := map[string]reminder.Status{"status": status}
	if err := c.do(ctx, http.MethodPut, reminderPath(id)+"/status", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Notify sends the reminder now. A report is returned alongside an
// *APIError when every channel failed.
func (c *Client) Notify(ctx context.Context, id string, channel reminder.Channel) (lifecycle.DispatchReport, error) {
	q := url.Values{}
	if channel != "" {
		q.Set("channel", string(channel))
	}
	var out lifecycle.DispatchReport
	err := c.do(ctx, http.MethodPost, reminderPath(id)+"/notify", q, nil, &out)
	return out, err
}

func (c *Client) Schedule(ctx context.Context, id string) (*httpapi.ReminderView, error) {
	var out httpapi.ReminderView
	if err := c.do(ctx, http.MethodPost, reminderPath(id)+"/schedule", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelSchedule(ctx context.Context, id string) (*httpapi.ReminderView, error) {
	var out httpapi.ReminderView
	if err := c.do(ctx, http.MethodDelete, reminderPath(id)+"/schedule", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trigger runs one reconciliation pass on the server: missed, completed
// or dispatch.
func (c *Client) Trigger(ctx context.Context, sweep string) (lifecycle.SweepResult, error) {
	var out lifecycle.SweepResult
	err := c.do(ctx, http.MethodPost, "/api/v1/reminders/trigger/"+url.PathEscape(sweep), nil, nil, &out)
	return out, err
}

// Notifications pulls the owner's due browser notifications.
func (c *Client) Notifications(ctx context.Context, ownerID string) ([]notify.Notification, error) {
	q := url.Values{"ownerId": {ownerID}}
	var out []notify.Notification
	err := c.do(ctx, http.MethodGet, "/api/v1/notifications", q, nil, &out)
	return out, err
}

func reminderPath(id string) string {
	return "/api/v1/reminders/" + url.PathEscape(id)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	if !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	return nil
}
