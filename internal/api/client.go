// Package api is the typed HTTP client for the tasks/users API. All calls
// go through the authenticated transport; domain errors such as a missing
// user surface as sentinel errors for the caller to handle.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/taskdeck-dev/taskdeck/internal/session"
)

// ErrUserNotFound indicates the looked-up user does not exist. This is a
// domain error, not a session-lifecycle error: callers typically offer
// registration.
var ErrUserNotFound = errors.New("user not found")

// Client represents an HTTP client for the Taskdeck API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client. The HTTP client is expected to carry the
// authenticated transport so bearer attachment and 401 handling apply.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Tokens is the credential pair issued by the API
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Task represents a task record
type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	IsCompleted bool      `json:"isCompleted"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewTask is the payload for creating a task
type NewTask struct {
	UserID      string `json:"userId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TaskPatch is the payload for updating a task; nil fields are left unchanged
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	IsCompleted *bool   `json:"isCompleted,omitempty"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// GetUserByEmail fetches a user record by email address
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*session.User, error) {
	var envelope struct {
		Data session.User `json:"data"`
	}

	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%s", url.PathEscape(email)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if err := expectStatus(resp, http.StatusOK, "fetch user"); err != nil {
		return nil, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &envelope.Data, nil
}

// CreateUser registers (or re-issues credentials for) the given email and
// returns the user record with a fresh token pair
func (c *Client) CreateUser(ctx context.Context, email string) (*session.User, *Tokens, error) {
	var envelope struct {
		Data struct {
			User   session.User `json:"user"`
			Tokens Tokens       `json:"tokens"`
		} `json:"data"`
	}

	body := map[string]string{"email": email}
	resp, err := c.do(ctx, http.MethodPost, "/users", body)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if err := expectSuccess(resp, "create user"); err != nil {
		return nil, nil, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Data.Tokens.AccessToken == "" {
		return nil, nil, fmt.Errorf("create user response missing tokens")
	}

	return &envelope.Data.User, &envelope.Data.Tokens, nil
}

// ListTasks returns the user's tasks. A 404 means the user has no tasks yet
// and yields an empty list, not an error.
func (c *Client) ListTasks(ctx context.Context, email string) ([]Task, error) {
	var envelope struct {
		Data []Task `json:"data"`
	}

	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tasks/%s", url.PathEscape(email)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []Task{}, nil
	}
	if err := expectStatus(resp, http.StatusOK, "list tasks"); err != nil {
		return nil, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return envelope.Data, nil
}

// CreateTask creates a new task
func (c *Client) CreateTask(ctx context.Context, task NewTask) (*Task, error) {
	resp, err := c.do(ctx, http.MethodPost, "/tasks", task)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := expectSuccess(resp, "create task"); err != nil {
		return nil, err
	}
	return decodeTask(resp)
}

// UpdateTask applies a partial update to a task
func (c *Client) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	resp, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/tasks/%s", url.PathEscape(id)), patch)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := expectSuccess(resp, "update task"); err != nil {
		return nil, err
	}
	return decodeTask(resp)
}

// CompleteTask marks a task as completed
func (c *Client) CompleteTask(ctx context.Context, id string) (*Task, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/tasks/%s/complete", url.PathEscape(id)), struct{}{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := expectSuccess(resp, "complete task"); err != nil {
		return nil, err
	}
	return decodeTask(resp)
}

// DeleteTask removes a task
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/tasks/%s", url.PathEscape(id)), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return expectSuccess(resp, "delete task")
}

// do sends a request with an optional JSON body
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func decodeTask(resp *http.Response) (*Task, error) {
	var envelope struct {
		Data Task `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &envelope.Data, nil
}

// expectStatus fails with the response body when the status does not match
func expectStatus(resp *http.Response, want int, action string) error {
	if resp.StatusCode == want {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("failed to %s (status %d): %s", action, resp.StatusCode, string(body))
}

// expectSuccess fails with the response body on any non-2xx status
func expectSuccess(resp *http.Response, action string) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("failed to %s (status %d): %s", action, resp.StatusCode, string(body))
}
