package main

import (
	"context"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"support-relay/handler"
	"support-relay/internal/integrations/paramstore"
	"support-relay/internal/integrations/slack"
	"support-relay/internal/integrations/zendesk"
	"support-relay/internal/relay"
	"support-relay/internal/repository"
)

func main() {
	ctx := context.Background()
	logger := newLogger()

	// ---- Configuration (read only here) ----
	conversationsTable := mustEnv(logger, "CONVERSATIONS_TABLE")
	paramPrefix := mustEnv(logger, "PARAM_PREFIX")
	supportChannelID := mustEnv(logger, "SUPPORT_CHANNEL_ID")
	zendeskAPIURL := mustEnv(logger, "ZENDESK_API_URL")
	ticketBaseURL := mustEnv(logger, "ZENDESK_TICKET_URI")
	workspaceURL := mustEnv(logger, "SLACK_WORKSPACE_URI")
	disabled := envBool("RELAY_DISABLED", false)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create SSM client")
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), conversationsTable)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create conversation store")
	}
	slackClient, err := slack.NewClient(ssmClient, paramPrefix)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create Slack client")
	}
	zendeskClient, err := zendesk.NewClient(ssmClient, paramPrefix, zendeskAPIURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create Zendesk client")
	}

	// Webhook tokens are shared secrets checked on every inbound request.
	slackToken, err := ssmClient.GetToken(ctx, paramPrefix+"/slack-webhook-token")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to fetch Slack webhook token")
	}
	zendeskToken, err := ssmClient.GetToken(ctx, paramPrefix+"/zendesk-webhook-token")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to fetch Zendesk webhook token")
	}

	// ---- Service and handler ----
	svc, err := relay.NewService(slackClient, slackClient, zendeskClient, store, relay.NewReconciler(), relay.Config{
		SupportChannelID: supportChannelID,
		TicketBaseURL:    ticketBaseURL,
		WorkspaceURL:     workspaceURL,
		Disabled:         disabled,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create relay service")
	}

	h, err := handler.NewHandler(svc, slackToken, zendeskToken, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Handle)
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func mustEnv(logger zerolog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Fatal().Str("key", key).Msg("required environment variable is not set")
	}
	return v
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
