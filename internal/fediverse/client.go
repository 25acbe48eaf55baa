// Package fediverse speaks just enough of each remote server protocol to
// register an application, drive a login handshake, and read back a verified
// username. It never stores passwords and never federates beyond that.
package fediverse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotDetected means the remote host could not be identified as any
	// supported server software. Never fatal; callers report it to the client.
	ErrNotDetected = errors.New("instance not detected")
	// ErrStateMismatch means the callback's state value did not exactly match
	// the login-state token. Always an authentication failure.
	ErrStateMismatch = errors.New("login state mismatch")
	// ErrTokenMissing means a callback arrived without the token the
	// handshake hands back. Always an authentication failure.
	ErrTokenMissing = errors.New("callback token missing")
)

// Client performs outbound calls to remote instances. A slow remote only
// blocks the request that depends on it; the underlying http.Client pools
// connections and nothing else is shared.
type Client struct {
	http        *http.Client
	appName     string
	redirectURL string

	// Scheme for instance URLs. Tests point it at plain http servers.
	Scheme string
}

func NewClient(contestName, redirectURL string) *Client {
	return &Client{
		http:        &http.Client{Timeout: 15 * time.Second},
		appName:     "contcont/" + contestName,
		redirectURL: redirectURL,
		Scheme:      "https",
	}
}

func (c *Client) instanceURL(hostname, path string) string {
	return fmt.Sprintf("%s://%s%s", c.Scheme, hostname, path)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.doJSON(req, out)
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request %s: unexpected status %d", req.URL.Host, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", req.URL.Host, err)
	}
	return nil
}
