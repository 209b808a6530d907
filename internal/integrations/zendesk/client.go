package zendesk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"support-relay/internal/domain"
)

// apiComment is the comment shape returned by the Zendesk Ticket API.
type apiComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Via       struct {
		Channel string `json:"channel"`
	} `json:"via"`
}

type commentsResponse struct {
	Comments []apiComment `json:"comments"`
}

// apiTicket is the minimal ticket shape for reads.
type apiTicket struct {
	ID      int64  `json:"id"`
	Status  string `json:"status"`
	Subject string `json:"subject"`
}

type ticketResponse struct {
	Ticket apiTicket `json:"ticket"`
}

// createTicketRequest is the request shape for ticket creation. The first
// comment links back to the originating chat message.
type createTicketRequest struct {
	Ticket struct {
		Type       string `json:"type"`
		ExternalID string `json:"external_id"`
		Subject    string `json:"subject"`
		Recipient  string `json:"recipient,omitempty"`
		Comment    struct {
			Body string `json:"body"`
		} `json:"comment"`
	} `json:"ticket"`
}

// updateTicketRequest is the request shape for ticket updates.
type updateTicketRequest struct {
	Ticket struct {
		Status  string `json:"status,omitempty"`
		Comment *struct {
			Body string `json:"body"`
		} `json:"comment,omitempty"`
	} `json:"ticket"`
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
	return fmt.Sprintf("zendesk: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused Zendesk Ticket API client covering ticket creation,
// comment reads and writes, and status changes.
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

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client for the given Zendesk subdomain base URL,
// e.g. "https://example.zendesk.com". The OAuth token is fetched from SSM on
// the first API call and reused for the lifetime of the process.
func NewClient(ps TokenGetter, paramPrefix, baseURL string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("zendesk: token getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("zendesk: parameter prefix must not be empty")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("zendesk: base URL must not be empty")
	}
	c := &Client{
		baseURL:     baseURL,
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
		c.token, c.tokenErr = c.getter.GetToken(ctx, c.paramPrefix+"/zendesk-oauth-token")
	})
	return c.token, c.tokenErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// FetchComments returns every comment on a ticket in the order Zendesk
// returns them, oldest first.
func (c *Client) FetchComments(ctx context.Context, ticketID string) ([]domain.TicketComment, error) {
	if ticketID == "" {
		return nil, errors.New("zendesk: FetchComments: ticket ID is required")
	}

	var payload commentsResponse
	u := fmt.Sprintf("%s/api/v2/tickets/%s/comments.json", c.baseURL, ticketID)
	if err := c.do(ctx, http.MethodGet, u, nil, &payload); err != nil {
		return nil, fmt.Errorf("zendesk: FetchComments: %w", err)
	}

	comments := make([]domain.TicketComment, 0, len(payload.Comments))
	for _, raw := range payload.Comments {
		comments = append(comments, domain.TicketComment{
			ID:        strconv.FormatInt(raw.ID, 10),
			Body:      raw.Body,
			Channel:   toChannel(raw.Via.Channel),
			CreatedAt: raw.CreatedAt,
		})
	}
	return comments, nil
}

// Get fetches a single ticket.
func (c *Client) Get(ctx context.Context, ticketID string) (domain.Ticket, error) {
	if ticketID == "" {
		return domain.Ticket{}, errors.New("zendesk: Get: ticket ID is required")
	}

	var payload ticketResponse
	u := fmt.Sprintf("%s/api/v2/tickets/%s.json", c.baseURL, ticketID)
	if err := c.do(ctx, http.MethodGet, u, nil, &payload); err != nil {
		return domain.Ticket{}, fmt.Errorf("zendesk: Get: %w", err)
	}
	return toTicket(payload.Ticket), nil
}

// Create opens a new question ticket. The first comment carries a link back
// to the chat message that raised the issue.
func (c *Client) Create(ctx context.Context, ticket domain.NewTicket) (domain.Ticket, error) {
	if ticket.Subject == "" {
		return domain.Ticket{}, errors.New("zendesk: Create: subject is required")
	}

	var body createTicketRequest
	body.Ticket.Type = "question"
	body.Ticket.ExternalID = ticket.ExternalID
	body.Ticket.Subject = ticket.Subject
	body.Ticket.Recipient = ticket.RequesterEmail
	body.Ticket.Comment.Body = ticket.MessageURL

	var payload ticketResponse
	u := c.baseURL + "/api/v2/tickets.json"
	if err := c.do(ctx, http.MethodPost, u, body, &payload); err != nil {
		return domain.Ticket{}, fmt.Errorf("zendesk: Create: %w", err)
	}
	return toTicket(payload.Ticket), nil
}

// AddComment appends a public comment to an existing ticket.
func (c *Client) AddComment(ctx context.Context, ticketID, body string) error {
	if ticketID == "" {
		return errors.New("zendesk: AddComment: ticket ID is required")
	}

	var req updateTicketRequest
	req.Ticket.Comment = &struct {
		Body string `json:"body"`
	}{Body: body}

	u := fmt.Sprintf("%s/api/v2/tickets/%s.json", c.baseURL, ticketID)
	if err := c.do(ctx, http.MethodPut, u, req, &ticketResponse{}); err != nil {
		return fmt.Errorf("zendesk: AddComment: %w", err)
	}
	return nil
}

// Close sets the ticket status to closed. Zendesk rejects updates to tickets
// that are already closed, which surfaces here as an HTTPStatusError.
func (c *Client) Close(ctx context.Context, ticketID string) error {
	if ticketID == "" {
		return errors.New("zendesk: Close: ticket ID is required")
	}

	var req updateTicketRequest
	req.Ticket.Status = domain.TicketStatusClosed

	u := fmt.Sprintf("%s/api/v2/tickets/%s.json", c.baseURL, ticketID)
	if err := c.do(ctx, http.MethodPut, u, req, &ticketResponse{}); err != nil {
		return fmt.Errorf("zendesk: Close: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, url, reader)
	if reqErr != nil {
		return fmt.Errorf("create request: %w", reqErr)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return err
	}
	if decErr := json.Unmarshal(raw, out); decErr != nil {
		return fmt.Errorf("decode response: %w", decErr)
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

func toChannel(raw string) domain.CommentChannel {
	switch raw {
	case "web":
		return domain.ChannelWeb
	case "email":
		return domain.ChannelEmail
	case "api":
		return domain.ChannelAPI
	default:
		return domain.ChannelOther
	}
}

func toTicket(raw apiTicket) domain.Ticket {
	return domain.Ticket{
		ID:      strconv.FormatInt(raw.ID, 10),
		Status:  raw.Status,
		Subject: raw.Subject,
	}
}
