package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatapp/models"
)

// API is the server surface the session store depends on.
type API interface {
	Roster(ctx context.Context) ([]models.RosterEntry, error)
	History(ctx context.Context, peerID string) ([]models.Message, error)
	Send(ctx context.Context, peerID string, payload models.SendPayload) (*models.Message, error)
	MarkRead(ctx context.Context, peerID string) error
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// HTTPClient talks to the chat server's JSON API with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Token returns the session token obtained by Login or Signup.
func (c *HTTPClient) Token() string { return c.token }

// SetToken sets the session token sent with every request.
func (c *HTTPClient) SetToken(token string) { c.token = token }

// WebSocketURL returns the realtime endpoint for the current token.
func (c *HTTPClient) WebSocketURL() string {
	u := c.baseURL + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

type authResult struct {
	Token string              `json:"token"`
	User  models.UserResponse `json:"user"`
}

// Login authenticates and stores the returned session token.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (*models.UserResponse, error) {
	var out authResult
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out.User, nil
}

// Signup registers an account and stores the returned session token.
func (c *HTTPClient) Signup(ctx context.Context, username, email, password string) (*models.UserResponse, error) {
	var out authResult
	body := map[string]string{"username": username, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", body, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out.User, nil
}

// Me returns the authenticated user.
func (c *HTTPClient) Me(ctx context.Context) (*models.UserResponse, error) {
	var out models.UserResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Roster(ctx context.Context) ([]models.RosterEntry, error) {
	var out []models.RosterEntry
	if err := c.do(ctx, http.MethodGet, "/api/messages/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) History(ctx context.Context, peerID string) ([]models.Message, error) {
	var out []models.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(peerID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) Send(ctx context.Context, peerID string, payload models.SendPayload) (*models.Message, error) {
	var out models.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages/send/"+url.PathEscape(peerID), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) MarkRead(ctx context.Context, peerID string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/read/"+url.PathEscape(peerID), nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil {
			apiErr.Message = errBody.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
