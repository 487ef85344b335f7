// Package zulip talks to the Zulip REST API: it reads the roster of a stream
// and sends private messages.
package zulip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"coffeebot/internal/logger"
	"coffeebot/internal/models"
)

type Config struct {
	Realm    string
	Username string
	APIKey   string
	StreamID int
	Timeout  time.Duration
}

// Client is a minimal Zulip API client authenticated as the bot.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger

	mu    sync.RWMutex
	names map[string]string // full names from the last user directory fetch
}

func New(cfg Config, log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Realm) == "" {
		return nil, fmt.Errorf("missing zulip realm")
	}
	if cfg.Username == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("missing zulip credentials")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.Realm), "/") + "/api/v1",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With("client", "ZulipClient"),
	}, nil
}

// BotEmail is the identity the client is authenticated as.
func (c *Client) BotEmail() string {
	return c.cfg.Username
}

type apiResponse struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
}

type member struct {
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsBot    bool   `json:"is_bot"`
}

type usersResponse struct {
	apiResponse
	Members []member `json:"members"`
}

type subscription struct {
	StreamID    int               `json:"stream_id"`
	Name        string            `json:"name"`
	Subscribers []json.RawMessage `json:"subscribers"`
}

type subscriptionsResponse struct {
	apiResponse
	Subscriptions []subscription `json:"subscriptions"`
}

// ListSubscribers returns everyone subscribed to the configured stream,
// including the bot itself and other bots; IsBot is set from the user
// directory. Subscribers missing from the directory are returned with an
// empty FullName.
func (c *Client) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	var users usersResponse
	if err := c.get(ctx, "/users", nil, &users); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	var subs subscriptionsResponse
	query := url.Values{"include_subscribers": {"true"}}
	if err := c.get(ctx, "/users/me/subscriptions", query, &subs); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	var stream *subscription
	for i := range subs.Subscriptions {
		if subs.Subscriptions[i].StreamID == c.cfg.StreamID {
			stream = &subs.Subscriptions[i]
			break
		}
	}
	if stream == nil {
		return nil, fmt.Errorf("bot is not subscribed to stream %d", c.cfg.StreamID)
	}

	byEmail := make(map[string]member, len(users.Members))
	byID := make(map[int64]member, len(users.Members))
	names := make(map[string]string, len(users.Members))
	for _, m := range users.Members {
		byEmail[m.Email] = m
		byID[m.UserID] = m
		if m.FullName != "" {
			names[m.Email] = m.FullName
		}
	}
	c.mu.Lock()
	c.names = names
	c.mu.Unlock()

	out := make([]models.Subscriber, 0, len(stream.Subscribers))
	for _, raw := range stream.Subscribers {
		m, ok, err := resolveSubscriber(raw, byEmail, byID)
		if err != nil {
			return nil, fmt.Errorf("failed to decode subscriber of stream %d: %w", c.cfg.StreamID, err)
		}
		if !ok {
			c.log.Warn("subscriber missing from user directory", "subscriber", string(raw))
			if m.Email == "" {
				continue
			}
		}
		out = append(out, models.Subscriber{Email: m.Email, FullName: m.FullName, IsBot: m.IsBot})
	}

	return out, nil
}

// FullName looks email up in the user directory fetched by the last
// ListSubscribers call, which also covers people outside the stream.
func (c *Client) FullName(email string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[email]
	return name, ok
}

// resolveSubscriber accepts both subscriber encodings Zulip has used: email
// strings on older servers and numeric user ids on newer ones.
func resolveSubscriber(raw json.RawMessage, byEmail map[string]member, byID map[int64]member) (member, bool, error) {
	var email string
	if err := json.Unmarshal(raw, &email); err == nil {
		m, ok := byEmail[email]
		if !ok {
			return member{Email: email}, false, nil
		}
		return m, true, nil
	}

	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return member{}, false, err
	}
	m, ok := byID[id]
	return m, ok, nil
}

// Send delivers a private message to one user.
func (c *Client) Send(ctx context.Context, to, body string) error {
	form := url.Values{
		"type":    {"private"},
		"to":      {to},
		"content": {body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp apiResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.SetBasicAuth(c.cfg.Username, c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var apiErr apiResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("zulip %s %s: status %d: %s", req.Method, req.URL.Path, res.StatusCode, apiErr.Msg)
		}
		return fmt.Errorf("zulip %s %s: status %d: %s", req.Method, req.URL.Path, res.StatusCode, string(bytes.TrimSpace(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode zulip response: %w", err)
	}
	return nil
}
