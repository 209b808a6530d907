package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"support-relay/internal/domain"
)

const skState = "STATE#"

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding conversation records. Each tracked
// thread has a single state item keyed by channel and thread, plus a pointer
// item keyed by ticket ID so lookups work in both directions.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// convPK returns the partition key for a conversation state item.
func convPK(thread domain.ThreadRef) string {
	return "CONV#" + thread.ChannelID + ":" + thread.ThreadID
}

// ticketPK returns the partition key for a ticket pointer item.
func ticketPK(ticketID string) string {
	return "TICKET#" + ticketID
}

// GetActiveByThread returns the active conversation for a thread, or
// domain.ErrConversationNotFound when the thread is untracked or closed.
func (c *Client) GetActiveByThread(ctx context.Context, thread domain.ThreadRef) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(thread)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetActiveByThread get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}

	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetActiveByThread decode: %w", err)
	}
	if !conv.Active {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	return conv, nil
}

// GetActiveByTicket resolves a ticket ID to its thread via the pointer item,
// then reads the conversation state.
func (c *Client) GetActiveByTicket(ctx context.Context, ticketID string) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ticketPK(ticketID)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetActiveByTicket get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}

	channelID, err := strAttr(out.Item, "channelId")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetActiveByTicket decode: %w", err)
	}
	threadID, err := strAttr(out.Item, "threadId")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetActiveByTicket decode: %w", err)
	}
	return c.GetActiveByThread(ctx, domain.ThreadRef{ChannelID: channelID, ThreadID: threadID})
}

// Open writes the conversation state and ticket pointer in one transaction.
// Both puts are conditional on the key not existing, so a thread is tracked
// at most once and a ticket maps to at most one thread.
func (c *Client) Open(ctx context.Context, conv domain.Conversation) error {
	if conv.ChannelID == "" || conv.ThreadID == "" {
		return errors.New("repository: Open: channel and thread IDs are required")
	}
	if conv.TicketID == "" {
		return errors.New("repository: Open: ticket ID is required")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                conversationItem(conv),
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                pointerItem(conv),
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Open: %w", err)
	}
	return nil
}

// Close marks the conversation inactive. The update is conditional on the
// record still being active, so concurrent closes collapse to one winner
// and the losers return without error.
func (c *Client) Close(ctx context.Context, thread domain.ThreadRef, closedAt time.Time) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(thread)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		UpdateExpression:    aws.String("SET active = :false, closedAt = :closedAt"),
		ConditionExpression: aws.String("active = :true"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":false":    &types.AttributeValueMemberBOOL{Value: false},
			":true":     &types.AttributeValueMemberBOOL{Value: true},
			":closedAt": &types.AttributeValueMemberS{Value: closedAt.UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return fmt.Errorf("repository: Close: %w", err)
	}
	return nil
}

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: convPK(conv.Thread())},
		"SK":        &types.AttributeValueMemberS{Value: skState},
		"channelId": &types.AttributeValueMemberS{Value: conv.ChannelID},
		"threadId":  &types.AttributeValueMemberS{Value: conv.ThreadID},
		"ticketId":  &types.AttributeValueMemberS{Value: conv.TicketID},
		"active":    &types.AttributeValueMemberBOOL{Value: conv.Active},
		"openedAt":  &types.AttributeValueMemberS{Value: conv.OpenedAt.UTC().Format(time.RFC3339)},
	}
	if conv.ClosedAt != nil {
		item["closedAt"] = &types.AttributeValueMemberS{Value: conv.ClosedAt.UTC().Format(time.RFC3339)}
	}
	return item
}

func pointerItem(conv domain.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: ticketPK(conv.TicketID)},
		"SK":        &types.AttributeValueMemberS{Value: skState},
		"channelId": &types.AttributeValueMemberS{Value: conv.ChannelID},
		"threadId":  &types.AttributeValueMemberS{Value: conv.ThreadID},
	}
}

// itemToConversation converts a DynamoDB attribute map to a Conversation.
func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	channelID, err := strAttr(item, "channelId")
	if err != nil {
		return domain.Conversation{}, err
	}
	threadID, err := strAttr(item, "threadId")
	if err != nil {
		return domain.Conversation{}, err
	}
	ticketID, err := strAttr(item, "ticketId")
	if err != nil {
		return domain.Conversation{}, err
	}
	active, err := boolAttr(item, "active")
	if err != nil {
		return domain.Conversation{}, err
	}
	openedAt, err := timeAttr(item, "openedAt")
	if err != nil {
		return domain.Conversation{}, err
	}

	conv := domain.Conversation{
		ChannelID: channelID,
		ThreadID:  threadID,
		TicketID:  ticketID,
		Active:    active,
		OpenedAt:  openedAt,
	}
	if _, ok := item["closedAt"]; ok {
		closedAt, err := timeAttr(item, "closedAt")
		if err != nil {
			return domain.Conversation{}, err
		}
		conv.ClosedAt = &closedAt
	}
	return conv, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a boolean", key)
	}
	return b.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
