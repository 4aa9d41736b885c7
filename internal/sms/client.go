// Package sms relays text messages through the Twilio REST API.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.twilio.com"

// ErrNotConfigured is returned when any Twilio credential is missing.
var ErrNotConfigured = errors.New("sms not configured: set TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio api error: status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	http       *http.Client
}

func NewClient(accountSID, authToken, from string) *Client {
	return &Client{
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		BaseURL:    DefaultBaseURL,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}

type messageResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
}

// Send makes a single attempt and returns the gateway's message SID.
func (c *Client) Send(ctx context.Context, to, message string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(c.BaseURL, "/"), url.PathEscape(c.AccountSID))

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.From)
	form.Set("Body", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read twilio response: %w", err)
	}

	var out messageResponse
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Message
		if msg == "" {
			msg = "Failed to send"
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return out.SID, nil
}
