// Package roster fetches the participant roster for a room over HTTP.
//
// The roster endpoint is an external collaborator of the session core: it is
// consumed read-only and never retried. Fetch failures surface as explicit
// errors for the caller to display.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// User is one roster entry.
type User struct {
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// Online reports whether the entry is currently online.
func (u User) Online() bool { return u.Status == "online" }

// Client fetches rosters from a chat server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a roster client for the given server base URL. The http(s)
// scheme is used as-is; ws(s) base URLs are mapped to their http(s)
// counterparts so one server URL can configure both transports.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	switch {
	case strings.HasPrefix(baseURL, "ws://"):
		baseURL = "http://" + strings.TrimPrefix(baseURL, "ws://")
	case strings.HasPrefix(baseURL, "wss://"):
		baseURL = "https://" + strings.TrimPrefix(baseURL, "wss://")
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

// errorBody is the JSON error shape returned by the server.
type errorBody struct {
	Error string `json:"error"`
}

// Fetch returns the participants of a room.
//
// Non-2xx responses surface as an error carrying the server's error message
// when one is present; the request is never retried here.
func (c *Client) Fetch(ctx context.Context, room string) ([]User, error) {
	endpoint := c.baseURL + "/api/rooms/" + url.PathEscape(room) + "/users"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("roster: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster: fetch %q: %w", room, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body errorBody
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return nil, fmt.Errorf("roster: fetch %q: %s", room, body.Error)
		}
		return nil, fmt.Errorf("roster: fetch %q: unexpected status %d", room, resp.StatusCode)
	}

	var users []User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("roster: decode response: %w", err)
	}
	return users, nil
}
