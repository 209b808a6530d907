package domain

import "time"

// AuthorKind distinguishes human-authored chat messages from the relay's own
// posts so the relay never reacts to itself.
type AuthorKind string

const (
	AuthorHuman AuthorKind = "human"
	AuthorBot   AuthorKind = "bot"
)

// ChatMessage is one message in a Slack support thread. ID is the Slack "ts"
// token: an opaque, thread-local, timestamp-like string that sorts in posting
// order. ParentID is the thread_ts of the parent message and is empty on
// top-level messages.
type ChatMessage struct {
	ID        string
	ParentID  string
	Author    AuthorKind
	Body      string
	CreatedAt time.Time
}

// IsReply reports whether the message is a reply inside an existing thread
// rather than the thread parent itself.
func (m ChatMessage) IsReply() bool {
	return m.ParentID != "" && m.ParentID != m.ID
}

// CommentChannel is the Zendesk "via" channel a ticket comment arrived on.
type CommentChannel string

const (
	ChannelWeb   CommentChannel = "web"
	ChannelEmail CommentChannel = "email"
	// ChannelAPI marks comments the relay itself pushed into the ticket.
	// They mirror chat content and must never be relayed back.
	ChannelAPI   CommentChannel = "api"
	ChannelOther CommentChannel = "other"
)

// TicketComment is one comment on a Zendesk ticket. Email-channel comment
// bodies may carry quoted signature blocks below a "--" marker line.
type TicketComment struct {
	ID        string
	Body      string
	Channel   CommentChannel
	CreatedAt time.Time
}

// Ticket is the subset of a Zendesk ticket the relay acts on.
type Ticket struct {
	ID      string
	Status  string
	Subject string
}

// TicketStatusClosed is the status written when a conversation is resolved.
const TicketStatusClosed = "closed"
