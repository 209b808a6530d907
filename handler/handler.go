package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"support-relay/internal/relay"
)

// Paths served by the single relay Lambda.
const (
	PathSlackEvents     = "/slack/events"
	PathZendeskComments = "/zendesk/comments"
	PathZendeskEmail    = "/zendesk/email"
)

// SyncService is the relay surface the handler drives.
type SyncService interface {
	SyncComments(ctx context.Context, ticketID string) (int, error)
	HandleChatMessage(ctx context.Context, ev relay.ChatEvent) (bool, error)
	OpenFromEmail(ctx context.Context, ticketID string) error
}

// slackEnvelope is the Events API request body. Slack sends a one-off
// url_verification challenge when the endpoint is registered, then
// event_callback envelopes for subscribed events.
type slackEnvelope struct {
	Token     string        `json:"token"`
	Type      string        `json:"type"`
	Challenge string        `json:"challenge"`
	Event     slackRawEvent `json:"event"`
}

type slackRawEvent struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	BotID    string `json:"bot_id"`
	Subtype  string `json:"subtype"`
}

// zendeskEvent is the JSON body a Zendesk trigger posts. The shared token is
// carried in the body because Zendesk HTTP targets cannot set custom headers.
type zendeskEvent struct {
	Token    string `json:"token"`
	TicketID string `json:"ticket_id"`
}

type challengeResponse struct {
	Challenge string `json:"challenge"`
}

// Handler is the Lambda entry point for all relay webhooks.
type Handler struct {
	svc          SyncService
	slackToken   string
	zendeskToken string
	log          zerolog.Logger
}

// NewHandler validates its dependencies and returns a ready Handler.
func NewHandler(svc SyncService, slackToken, zendeskToken string, logger zerolog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: sync service must not be nil")
	}
	if strings.TrimSpace(slackToken) == "" {
		return nil, errors.New("handler: slack verification token must not be empty")
	}
	if strings.TrimSpace(zendeskToken) == "" {
		return nil, errors.New("handler: zendesk webhook token must not be empty")
	}
	return &Handler{
		svc:          svc,
		slackToken:   slackToken,
		zendeskToken: zendeskToken,
		log:          logger,
	}, nil
}

// Handle routes one API Gateway request. Webhook callers always receive 200
// unless authentication fails: Slack and Zendesk both disable endpoints that
// keep erroring, so processing failures are logged here and acknowledged.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := requestCorrelationID(req.Headers)
	log := h.log.With().Str("correlation_id", correlationID).Str("path", req.Path).Logger()

	if req.HTTPMethod != http.MethodPost {
		return respond(http.StatusMethodNotAllowed, "", correlationID), nil
	}

	switch req.Path {
	case PathSlackEvents:
		return h.handleSlackEvent(ctx, log, req.Body, correlationID), nil
	case PathZendeskComments:
		return h.handleZendeskEvent(ctx, log, req.Body, correlationID, h.svc.SyncComments), nil
	case PathZendeskEmail:
		return h.handleZendeskEvent(ctx, log, req.Body, correlationID, func(ctx context.Context, ticketID string) (int, error) {
			return 0, h.svc.OpenFromEmail(ctx, ticketID)
		}), nil
	default:
		return respond(http.StatusNotFound, "", correlationID), nil
	}
}

func (h *Handler) handleSlackEvent(ctx context.Context, log zerolog.Logger, body, correlationID string) events.APIGatewayProxyResponse {
	var envelope slackEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		log.Error().Err(err).Msg("malformed slack event body")
		return respond(http.StatusBadRequest, "", correlationID)
	}

	if envelope.Token != h.slackToken {
		log.Error().Msg("slack message verification failed")
		return respond(http.StatusForbidden, "", correlationID)
	}

	if envelope.Type == "url_verification" {
		payload, _ := json.Marshal(challengeResponse{Challenge: envelope.Challenge})
		return respond(http.StatusOK, string(payload), correlationID)
	}

	if envelope.Event.Type == "message" {
		ev := relay.ChatEvent{
			ChannelID: envelope.Event.Channel,
			UserID:    envelope.Event.User,
			Text:      envelope.Event.Text,
			TS:        envelope.Event.TS,
			ThreadTS:  envelope.Event.ThreadTS,
			BotID:     envelope.Event.BotID,
			Subtype:   envelope.Event.Subtype,
		}
		handled, err := h.svc.HandleChatMessage(ctx, ev)
		if err != nil {
			// Logged, not surfaced: Slack retries on non-2xx and disables
			// endpoints that keep failing. The next event re-triggers a
			// reconciliation from scratch anyway.
			log.Error().Err(err).Msg("chat message handling failed")
		}
		log.Debug().Bool("handled", handled).Msg("slack event processed")
	}

	return respond(http.StatusOK, "", correlationID)
}

func (h *Handler) handleZendeskEvent(ctx context.Context, log zerolog.Logger, body, correlationID string, run func(context.Context, string) (int, error)) events.APIGatewayProxyResponse {
	var event zendeskEvent
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		log.Error().Err(err).Msg("malformed zendesk webhook body")
		// Still acknowledged: a malformed body will not improve on retry.
		return respond(http.StatusOK, "OK, Thanks", correlationID)
	}

	if event.Token != h.zendeskToken {
		log.Error().Msg("zendesk webhook token does not match")
		return respond(http.StatusForbidden, "", correlationID)
	}

	delivered, err := run(ctx, event.TicketID)
	if err != nil {
		log.Error().Err(err).Str("ticket_id", event.TicketID).Msg("zendesk event handling failed")
	} else {
		log.Info().Str("ticket_id", event.TicketID).Int("delivered", delivered).Msg("zendesk event processed")
	}
	return respond(http.StatusOK, "OK, Thanks", correlationID)
}

func requestCorrelationID(headers map[string]string) string {
	for key, value := range headers {
		if strings.EqualFold(key, "X-Correlation-Id") && value != "" {
			return value
		}
	}
	return uuid.NewString()
}

func respond(status int, body, correlationID string) events.APIGatewayProxyResponse {
	headers := map[string]string{"X-Correlation-Id": correlationID}
	if body != "" {
		headers["Content-Type"] = "application/json"
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       body,
	}
}
