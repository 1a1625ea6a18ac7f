// Package mail talks to the mailbox HTTP API the assistant reads email
// through. All calls require an access token set after the user links
// their mailbox.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ErrUnauthenticated is returned when no access token has been set or the
// server rejected the one we have.
var ErrUnauthenticated = errors.New("mail: not authenticated")

// Message is one mailbox entry in list or search results.
type Message struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Snippet string `json:"snippet"`
}

// Client is a mailbox API client. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the mailbox API at baseURL. A nil
// httpClient gets a default with a 15s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// SetAccessToken installs the bearer token used on subsequent calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Authenticated reports whether an access token is set.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// ListUnread returns up to max unread messages, newest first.
func (c *Client) ListUnread(ctx context.Context, max int) ([]Message, error) {
	q := url.Values{}
	q.Set("unread", "true")
	q.Set("max", strconv.Itoa(max))
	return c.list(ctx, "/messages?"+q.Encode())
}

// Search returns up to max messages matching query.
func (c *Client) Search(ctx context.Context, query string, max int) ([]Message, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("max", strconv.Itoa(max))
	return c.list(ctx, "/messages/search?"+q.Encode())
}

func (c *Client) list(ctx context.Context, path string) ([]Message, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return nil, ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mail request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("mail api status %d", resp.StatusCode)
	}

	var body struct {
		Messages []Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode mail response: %w", err)
	}
	return body.Messages, nil
}
