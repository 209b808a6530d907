package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"support-relay/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getOuts      []*dynamodb.GetItemOutput
	getErr       error
	updateErr    error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	lastUpdateIn *dynamodb.UpdateItemInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
	getInputs    []*dynamodb.GetItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	f.getInputs = append(f.getInputs, in)
	if len(f.getOuts) > 0 {
		out := f.getOuts[0]
		f.getOuts = f.getOuts[1:]
		return out, f.getErr
	}
	return f.getOut, f.getErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func makeConversationItem(channelID, threadID, ticketID string, active bool) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: "CONV#" + channelID + ":" + threadID},
		"SK":        &types.AttributeValueMemberS{Value: skState},
		"channelId": &types.AttributeValueMemberS{Value: channelID},
		"threadId":  &types.AttributeValueMemberS{Value: threadID},
		"ticketId":  &types.AttributeValueMemberS{Value: ticketID},
		"active":    &types.AttributeValueMemberBOOL{Value: active},
		"openedAt":  &types.AttributeValueMemberS{Value: "2026-08-30T10:00:00Z"},
	}
}

func makePointerItem(channelID, threadID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: "TICKET#32"},
		"SK":        &types.AttributeValueMemberS{Value: skState},
		"channelId": &types.AttributeValueMemberS{Value: channelID},
		"threadId":  &types.AttributeValueMemberS{Value: threadID},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func testThread() domain.ThreadRef {
	return domain.ThreadRef{ChannelID: "C019JUGAGTS", ThreadID: "1597940362.013100"}
}

func TestGetActiveByThread_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{
		Item: makeConversationItem("C019JUGAGTS", "1597940362.013100", "32", true),
	}}
	c := mustNewClient(t, db)

	conv, err := c.GetActiveByThread(context.Background(), testThread())
	require.NoError(t, err)
	require.Equal(t, "32", conv.TicketID)
	require.True(t, conv.Active)
	require.Equal(t, "CONV#C019JUGAGTS:1597940362.013100",
		db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetActiveByThread_Untracked(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)

	_, err := c.GetActiveByThread(context.Background(), testThread())
	require.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestGetActiveByThread_ClosedConversation(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{
		Item: makeConversationItem("C019JUGAGTS", "1597940362.013100", "32", false),
	}}
	c := mustNewClient(t, db)

	_, err := c.GetActiveByThread(context.Background(), testThread())
	require.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestGetActiveByThread_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)

	_, err := c.GetActiveByThread(context.Background(), testThread())
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetActiveByThread")
}

func TestGetActiveByThread_MalformedItem(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{
		Item: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "CONV#C019JUGAGTS:1597940362.013100"},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
	}}
	c := mustNewClient(t, db)

	_, err := c.GetActiveByThread(context.Background(), testThread())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

func TestGetActiveByTicket_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOuts: []*dynamodb.GetItemOutput{
		{Item: makePointerItem("C019JUGAGTS", "1597940362.013100")},
		{Item: makeConversationItem("C019JUGAGTS", "1597940362.013100", "32", true)},
	}}
	c := mustNewClient(t, db)

	conv, err := c.GetActiveByTicket(context.Background(), "32")
	require.NoError(t, err)
	require.Equal(t, testThread(), conv.Thread())
	require.Len(t, db.getInputs, 2)
	require.Equal(t, "TICKET#32", db.getInputs[0].Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestGetActiveByTicket_NoPointer(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)

	_, err := c.GetActiveByTicket(context.Background(), "32")
	require.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestGetActiveByTicket_PointerToClosedConversation(t *testing.T) {
	db := &fakeDynamo{getOuts: []*dynamodb.GetItemOutput{
		{Item: makePointerItem("C019JUGAGTS", "1597940362.013100")},
		{Item: makeConversationItem("C019JUGAGTS", "1597940362.013100", "32", false)},
	}}
	c := mustNewClient(t, db)

	_, err := c.GetActiveByTicket(context.Background(), "32")
	require.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestOpen_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.Open(context.Background(), domain.Conversation{
		ChannelID: "C019JUGAGTS",
		ThreadID:  "1597940362.013100",
		TicketID:  "32",
		Active:    true,
		OpenedAt:  time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	state := db.lastTxInput.TransactItems[0].Put
	require.Equal(t, "attribute_not_exists(PK)", *state.ConditionExpression)
	require.Equal(t, "CONV#C019JUGAGTS:1597940362.013100", state.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.True(t, state.Item["active"].(*types.AttributeValueMemberBOOL).Value)

	pointer := db.lastTxInput.TransactItems[1].Put
	require.Equal(t, "attribute_not_exists(PK)", *pointer.ConditionExpression)
	require.Equal(t, "TICKET#32", pointer.Item["PK"].(*types.AttributeValueMemberS).Value)
}

func TestOpen_MissingThread(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.Open(context.Background(), domain.Conversation{TicketID: "32"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestOpen_MissingTicketID(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.Open(context.Background(), domain.Conversation{
		ChannelID: "C019JUGAGTS",
		ThreadID:  "1597940362.013100",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ticket ID")
}

func TestOpen_TransactionError(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("transaction canceled")}
	c := mustNewClient(t, db)

	err := c.Open(context.Background(), domain.Conversation{
		ChannelID: "C019JUGAGTS",
		ThreadID:  "1597940362.013100",
		TicketID:  "32",
		Active:    true,
		OpenedAt:  time.Now(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Open")
}

func TestClose_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	closedAt := time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC)
	err := c.Close(context.Background(), testThread(), closedAt)
	require.NoError(t, err)
	require.NotNil(t, db.lastUpdateIn)
	require.Equal(t, "active = :true", *db.lastUpdateIn.ConditionExpression)
	require.Equal(t, "2026-08-31T09:30:00Z",
		db.lastUpdateIn.ExpressionAttributeValues[":closedAt"].(*types.AttributeValueMemberS).Value)
}

func TestClose_AlreadyClosedIsNotAnError(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)

	err := c.Close(context.Background(), testThread(), time.Now())
	require.NoError(t, err)
}

func TestClose_DynamoError(t *testing.T) {
	db := &fakeDynamo{updateErr: errors.New("internal server error")}
	c := mustNewClient(t, db)

	err := c.Close(context.Background(), testThread(), time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "Close")
}

func TestConversationItem_IncludesClosedAt(t *testing.T) {
	closedAt := time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC)
	item := conversationItem(domain.Conversation{
		ChannelID: "C019JUGAGTS",
		ThreadID:  "1597940362.013100",
		TicketID:  "32",
		OpenedAt:  time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		ClosedAt:  &closedAt,
	})
	require.Equal(t, "2026-08-31T09:30:00Z", item["closedAt"].(*types.AttributeValueMemberS).Value)
}

func TestItemToConversation_RoundTrip(t *testing.T) {
	conv, err := itemToConversation(makeConversationItem("C019JUGAGTS", "1597940362.013100", "32", true))
	require.NoError(t, err)
	require.Equal(t, "C019JUGAGTS", conv.ChannelID)
	require.Equal(t, "1597940362.013100", conv.ThreadID)
	require.Equal(t, "32", conv.TicketID)
	require.True(t, conv.Active)
	require.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), conv.OpenedAt)
	require.Nil(t, conv.ClosedAt)
}

func TestItemToConversation_BadTimestamp(t *testing.T) {
	item := makeConversationItem("C019JUGAGTS", "1597940362.013100", "32", true)
	item["openedAt"] = &types.AttributeValueMemberS{Value: "yesterday"}
	_, err := itemToConversation(item)
	require.Error(t, err)
	require.Contains(t, err.Error(), "openedAt")
}

func TestConvPK(t *testing.T) {
	require.Equal(t, "CONV#C019JUGAGTS:1597940362.013100", convPK(testThread()))
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
