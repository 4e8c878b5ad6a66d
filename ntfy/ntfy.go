// Package ntfy posts push notifications to an ntfy topic.
package ntfy

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client sends messages to a single topic on an ntfy server.
type Client struct {
	Endpoint   string
	Topic      string
	HTTPClient *http.Client
}

// New returns a client for the given server and topic.
func New(endpoint, topic string) *Client {
	return &Client{
		Endpoint:   endpoint,
		Topic:      topic,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts message to the topic with the given notification title. Any
// 2xx response counts as delivered. Failed sends are not retried.
func (c *Client) Send(title, message string) error {
	url := strings.TrimRight(c.Endpoint, "/") + "/" + c.Topic
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Title", title)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ntfy responded with %s", resp.Status)
	}
	return nil
}
