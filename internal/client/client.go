// ABOUTME: REST client for the chat server's conversation history and presence endpoints
// ABOUTME: Bearer-authenticated JSON GETs under /api/meetups/{id}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hobbylink/meetup-chat/internal/chat"
)

// ErrUnexpectedStatus is returned when the server answers with a non-200
// status.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// DefaultTimeout bounds each request when no http.Client is supplied.
const DefaultTimeout = 10 * time.Second

// maxErrorBody limits how much of an error response is kept for the message.
const maxErrorBody = 512

// Client reads conversation state from the chat server's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the API rooted at baseURL. Pass nil httpClient
// for a client with DefaultTimeout and nil logger for default.
func New(baseURL, token string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		logger:  logger.With("component", "api_client"),
	}, nil
}

// Messages returns the stored messages of a meetup, oldest first.
func (c *Client) Messages(ctx context.Context, meetupID int64) ([]chat.Message, error) {
	var msgs []chat.Message
	if err := c.get(ctx, meetupPath(meetupID, "messages"), func(body []byte) error {
		return json.Unmarshal(body, &msgs)
	}); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return msgs, nil
}

// OnlineUsers returns the presence snapshot of a meetup.
func (c *Client) OnlineUsers(ctx context.Context, meetupID int64) ([]chat.User, error) {
	var users []chat.User
	if err := c.get(ctx, meetupPath(meetupID, "online-users"), func(body []byte) error {
		var err error
		users, err = chat.DecodeOnlineUsers(body)
		return err
	}); err != nil {
		return nil, fmt.Errorf("fetching online users: %w", err)
	}
	return users, nil
}

// MessageCount returns the number of stored messages in a meetup.
func (c *Client) MessageCount(ctx context.Context, meetupID int64) (int64, error) {
	var n int64
	if err := c.get(ctx, meetupPath(meetupID, "messages/count"), func(body []byte) error {
		return json.Unmarshal(body, &n)
	}); err != nil {
		return 0, fmt.Errorf("fetching message count: %w", err)
	}
	return n, nil
}

func meetupPath(meetupID int64, suffix string) string {
	return "/api/meetups/" + strconv.FormatInt(meetupID, 10) + "/" + suffix
}

func (c *Client) get(ctx context.Context, path string, decode func([]byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, resp.Status, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := decode(body); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
