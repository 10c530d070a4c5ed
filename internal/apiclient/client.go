// Package apiclient calls the attendance HTTP API on behalf of an
// instructor device.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// CodeResponse is the API's view of a session's current code.
type CodeResponse struct {
	CourseID         string    `json:"course_id"`
	Date             string    `json:"date"`
	Code             string    `json:"code"`
	ValidFor         int       `json:"valid_for"`
	ExpiresAt        time.Time `json:"expires_at"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
	Rotations        int       `json:"rotations"`
}

// Error is a non-2xx response from the API.
type Error struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d", e.Status)
	}
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Client calls the attendance API with a bearer token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New creates a client with a short request timeout.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Activate opens today's session for the course or rotates its code.
func (c *Client) Activate(ctx context.Context, courseID string) (*CodeResponse, error) {
	var out CodeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/courses/"+url.PathEscape(courseID)+"/codes", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentCode returns the code currently valid for the course.
func (c *Client) CurrentCode(ctx context.Context, courseID string) (*CodeResponse, error) {
	var out CodeResponse
	if err := c.do(ctx, http.MethodGet, "/v1/courses/"+url.PathEscape(courseID)+"/codes/current", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseSession ends the session of the course on date.
func (c *Client) CloseSession(ctx context.Context, courseID, date string) error {
	path := "/v1/courses/" + url.PathEscape(courseID) + "/sessions/" + url.PathEscape(date)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Health checks if the API is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("api unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("api unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		raw, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(raw, apiErr)
		if apiErr.Code == "" && len(raw) > 0 {
			apiErr.Message = string(raw)
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
