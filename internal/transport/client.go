package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds every outbound request this daemon makes to a peer.
// Matches the teacher's pingPeer 5-second client timeout.
const DefaultTimeout = 5 * time.Second

// Client issues the outbound half of the request transport contracts:
// discovery, heartbeat, and election all share one of these rather than
// rolling their own http.Client.
type Client struct {
	http *http.Client
}

// NewClient builds a Client with DefaultTimeout.
func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: DefaultTimeout}}
}

// Get issues a GET to url and returns the status code and body text.
func (c *Client) Get(url string) (status int, body string, err error) {
	resp, err := c.http.Get(url)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(b), nil
}

// PostJSON POSTs payload as JSON to url and returns the status code and the
// raw response body (the four wire contracts never need the response body
// parsed as JSON — join/vote/new_master replies are plain text or empty).
func (c *Client) PostJSON(url string, payload interface{}) (status int, body string, err error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(b), nil
}
