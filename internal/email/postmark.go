// Package email sends transactional notices through Postmark.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"
)

const defaultEndpoint = "https://api.postmarkapp.com/email"

// ErrNotConfigured is returned when no server token was provided.
var ErrNotConfigured = errors.New("email client not configured")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	endpoint    string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithEndpoint overrides the Postmark send URL.
func WithEndpoint(url string) Option {
	return func(cl *Client) {
		cl.endpoint = url
	}
}

// NewClient builds a Postmark client. baseURL is the public app URL used in
// links inside messages.
func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		endpoint:    defaultEndpoint,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type message struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	TextBody      string `json:"TextBody"`
	MessageStream string `json:"MessageStream,omitempty"`
}

// SendTeamInvite tells toEmail they were added to orgName with role.
func (c *Client) SendTeamInvite(ctx context.Context, toEmail, orgName, inviterName, role string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	if inviterName == "" {
		inviterName = "A teammate"
	}
	link := c.baseURL + "/dashboard/team"
	subject := fmt.Sprintf("You've joined %s on RecipeRank", orgName)
	text := fmt.Sprintf("%s added you to %s as %s.\n\nOpen your team dashboard: %s\n", inviterName, orgName, role, link)
	body := fmt.Sprintf(
		`<p>%s added you to <strong>%s</strong> as %s.</p><p><a href="%s">Open your team dashboard</a></p>`,
		html.EscapeString(inviterName), html.EscapeString(orgName), html.EscapeString(role), link,
	)

	return c.send(ctx, message{
		From:          c.fromEmail,
		To:            toEmail,
		Subject:       subject,
		HtmlBody:      body,
		TextBody:      text,
		MessageStream: "outbound",
	})
}

func (c *Client) send(ctx context.Context, m message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}
	return nil
}
