package pushover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.pushover.net"

type Client struct {
	Token   string
	User    string
	BaseURL string
	http    *http.Client
}

func NewClient(token, user string) *Client {
	return &Client{
		Token:   token,
		User:    user,
		BaseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether both credentials are present.
func (c *Client) Configured() bool {
	return c.Token != "" && c.User != ""
}

func (c *Client) SendMessage(ctx context.Context, title, message string) error {
	apiUrl := strings.TrimRight(c.BaseURL, "/") + "/1/messages.json"

	params := url.Values{}
	params.Set("token", c.Token)
	params.Set("user", c.User)
	params.Set("title", title)
	params.Set("message", message)
	params.Set("priority", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiUrl, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pushover api error: status %s, body %s", resp.Status, string(body))
	}

	return nil
}
