package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"support-relay/internal/domain"
)

// apiMessage is the minimal message shape returned by the Slack Web API.
type apiMessage struct {
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	Text     string `json:"text"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Subtype  string `json:"subtype"`
}

// repliesResponse is the response shape for conversations.replies.
type repliesResponse struct {
	OK       bool         `json:"ok"`
	Error    string       `json:"error"`
	Messages []apiMessage `json:"messages"`
}

// postMessageRequest is the request shape for chat.postMessage.
type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// postMessageResponse is the response shape for chat.postMessage.
type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// userInfoResponse is the minimal response shape for users.info.
type userInfoResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	User  struct {
		Profile struct {
			RealName string `json:"real_name"`
			Email    string `json:"email"`
		} `json:"profile"`
	} `json:"user"`
}

// TokenGetter resolves a named secret to an API token.
type TokenGetter interface {
	GetToken(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("slack: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// APIError is a Slack Web API error. Slack reports failures with HTTP 200
// and ok=false, so status codes alone are not enough.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack: %s: %s", e.Method, e.Code)
}

// Client is a focused Slack Web API client covering thread history, message
// posting and user profile lookups.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      TokenGetter
	paramPrefix string

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given TokenGetter for bot
// token retrieval. The token is fetched from SSM on the first API call and
// reused for the lifetime of the process.
func NewClient(ps TokenGetter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("slack: token getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("slack: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://slack.com/api",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		c.token, c.tokenErr = c.getter.GetToken(ctx, c.paramPrefix+"/slack-bot-token")
	})
	return c.token, c.tokenErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) methodURL(method string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + method
}

// Fetch returns every message in a thread, the parent included, in the order
// Slack returns them.
func (c *Client) Fetch(ctx context.Context, thread domain.ThreadRef) ([]domain.ChatMessage, error) {
	if thread.ChannelID == "" || thread.ThreadID == "" {
		return nil, errors.New("slack: Fetch: channel and thread IDs are required")
	}

	q := url.Values{}
	q.Set("channel", thread.ChannelID)
	q.Set("ts", thread.ThreadID)
	q.Set("limit", "200")

	var payload repliesResponse
	if err := c.get(ctx, "conversations.replies", q, &payload); err != nil {
		return nil, err
	}
	if !payload.OK {
		return nil, &APIError{Method: "conversations.replies", Code: payload.Error}
	}

	msgs := make([]domain.ChatMessage, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		msgs = append(msgs, toChatMessage(m))
	}
	return msgs, nil
}

// Post sends a message to the channel. A thread ID addresses an existing
// thread; leaving it empty starts a new top-level message.
func (c *Client) Post(ctx context.Context, thread domain.ThreadRef, text string) (domain.ChatMessage, error) {
	if thread.ChannelID == "" {
		return domain.ChatMessage{}, errors.New("slack: Post: channel ID is required")
	}

	var payload postMessageResponse
	err := c.post(ctx, "chat.postMessage", postMessageRequest{
		Channel:  thread.ChannelID,
		Text:     text,
		ThreadTS: thread.ThreadID,
	}, &payload)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if !payload.OK {
		return domain.ChatMessage{}, &APIError{Method: "chat.postMessage", Code: payload.Error}
	}

	return domain.ChatMessage{
		ID:        payload.TS,
		ParentID:  thread.ThreadID,
		Author:    domain.AuthorBot,
		Body:      text,
		CreatedAt: tsToTime(payload.TS),
	}, nil
}

// Profile looks up the display name and email for a Slack user ID.
func (c *Client) Profile(ctx context.Context, userID string) (domain.UserProfile, error) {
	if userID == "" {
		return domain.UserProfile{}, errors.New("slack: Profile: user ID is required")
	}

	q := url.Values{}
	q.Set("user", userID)

	var payload userInfoResponse
	if err := c.get(ctx, "users.info", q, &payload); err != nil {
		return domain.UserProfile{}, err
	}
	if !payload.OK {
		return domain.UserProfile{}, &APIError{Method: "users.info", Code: payload.Error}
	}

	return domain.UserProfile{
		RealName: payload.User.Profile.RealName,
		Email:    payload.User.Profile.Email,
	}, nil
}

func (c *Client) get(ctx context.Context, method string, q url.Values, out any) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}

	u := c.methodURL(method) + "?" + q.Encode()
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if reqErr != nil {
		return fmt.Errorf("slack: create %s request: %w", method, reqErr)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return fmt.Errorf("slack: %s request failed: %w", method, err)
	}
	if decErr := json.Unmarshal(raw, out); decErr != nil {
		return fmt.Errorf("slack: decode %s response: %w", method, decErr)
	}
	return nil
}

func (c *Client) post(ctx context.Context, method string, body any, out any) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("slack: marshal %s request: %w", method, err)
	}

	u := c.methodURL(method)
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(encoded))
	if reqErr != nil {
		return fmt.Errorf("slack: create %s request: %w", method, reqErr)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return fmt.Errorf("slack: %s request failed: %w", method, err)
	}
	if decErr := json.Unmarshal(raw, out); decErr != nil {
		return fmt.Errorf("slack: decode %s response: %w", method, decErr)
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func toChatMessage(m apiMessage) domain.ChatMessage {
	author := domain.AuthorHuman
	if m.BotID != "" {
		author = domain.AuthorBot
	}
	parent := m.ThreadTS
	if parent == m.TS {
		parent = ""
	}
	return domain.ChatMessage{
		ID:        m.TS,
		ParentID:  parent,
		Author:    author,
		Body:      m.Text,
		CreatedAt: tsToTime(m.TS),
	}
}

// tsToTime converts a Slack timestamp like "1597940362.013100" to a UTC time.
// The fractional part is microseconds.
func tsToTime(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	seconds, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(seconds, micros*1000).UTC()
}
