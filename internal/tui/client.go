package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a genie server on behalf of one device.
type Client struct {
	BaseURL  string
	ClientID string
	Secret   string
	HTTP     *http.Client
}

// Entry is one rendered line of conversation.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func NewClient(baseURL, clientID, secret string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		ClientID: clientID,
		Secret:   secret,
		// Agent runs can take a while when the model makes several tool calls.
		HTTP: &http.Client{Timeout: 3 * time.Minute},
	}
}

// Register pairs the device with the server. Registering again rotates the
// secret.
func (c *Client) Register(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/register_device", nil, c.creds(nil), nil)
}

func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	var out struct {
		Response string `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat", nil, c.creds(map[string]any{"question": question}), &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// History returns up to limit recent turns, oldest first. A non-positive
// limit uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]Entry, error) {
	q := url.Values{"client_id": {c.ClientID}, "secret": {c.Secret}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Entry
	if err := c.do(ctx, http.MethodGet, "/api/chat/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) creds(extra map[string]any) map[string]any {
	body := map[string]any{"client_id": c.ClientID, "secret": c.Secret}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
