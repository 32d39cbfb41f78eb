// Package client is a small Go client for the todo API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"todoapp.io/internal/auth"
	"todoapp.io/internal/todo"
)

const maxResponseBytes = 1 << 20

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %q (request id: %s)", e.StatusCode, e.Message, e.RequestID)
}

type Client struct {
	baseURL  string
	http     *http.Client
	token    string
	adminKey string
}

type Option func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithToken sends an access token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithAdminKey sends the administrative key used for partner registration.
func WithAdminKey(key string) Option {
	return func(c *Client) { c.adminKey = key }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges a user's email and password for tokens.
func (c *Client) Login(ctx context.Context, email, password string) (auth.TokenPair, error) {
	var pair auth.TokenPair
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &pair)
	return pair, err
}

// PartnerToken exchanges partner credentials for tokens.
func (c *Client) PartnerToken(ctx context.Context, partnerID, secret string) (auth.TokenPair, error) {
	var pair auth.TokenPair
	err := c.do(ctx, http.MethodPost, "/api/partner/auth/token", map[string]string{
		"partnerId":     partnerID,
		"partnerSecret": secret,
	}, &pair)
	return pair, err
}

// RefreshPartnerToken runs the refresh flow.
func (c *Client) RefreshPartnerToken(ctx context.Context, partnerID, refreshToken string) (auth.TokenPair, error) {
	var pair auth.TokenPair
	err := c.do(ctx, http.MethodPost, "/api/partner/auth/token", map[string]string{
		"partnerId":    partnerID,
		"refreshToken": refreshToken,
	}, &pair)
	return pair, err
}

// RegisterPartner provisions a partner. Requires WithAdminKey.
func (c *Client) RegisterPartner(ctx context.Context, partnerID, email string) (auth.PartnerIdentity, error) {
	var identity auth.PartnerIdentity
	err := c.do(ctx, http.MethodPost, "/api/partner/register", map[string]string{
		"partnerId": partnerID,
		"email":     email,
	}, &identity)
	return identity, err
}

// ListTodos returns the caller's items. Requires WithToken.
func (c *Client) ListTodos(ctx context.Context) ([]todo.Todo, error) {
	var items []todo.Todo
	err := c.do(ctx, http.MethodGet, "/api/todos", nil, &items)
	return items, err
}

// CreateTodo adds an item for the caller.
func (c *Client) CreateTodo(ctx context.Context, d todo.Draft) (todo.Todo, error) {
	var item todo.Todo
	err := c.do(ctx, http.MethodPost, "/api/todos", map[string]string{
		"title":       d.Title,
		"description": d.Description,
		"dueDate":     d.DueDate,
	}, &item)
	return item, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.adminKey != "" {
		req.Header.Set("x-api-key", c.adminKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "unreadable response", RequestID: resp.Header.Get("X-Request-ID")}
	}
	if resp.StatusCode >= 300 || env.Status != "success" {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message, RequestID: resp.Header.Get("X-Request-ID")}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
