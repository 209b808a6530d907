package domain

import "time"

// ThreadRef locates a Slack support thread: the channel it lives in and the
// ts of the thread parent message.
type ThreadRef struct {
	ChannelID string
	ThreadID  string
}

// Conversation links a Slack thread to the Zendesk ticket tracking it. At
// most one active Conversation exists per thread and per ticket. Resolved
// conversations are kept (Active=false) for reporting, never deleted.
type Conversation struct {
	ChannelID string
	ThreadID  string
	TicketID  string
	Active    bool
	OpenedAt  time.Time
	ClosedAt  *time.Time
}

// Thread returns the conversation's thread reference.
func (c Conversation) Thread() ThreadRef {
	return ThreadRef{ChannelID: c.ChannelID, ThreadID: c.ThreadID}
}
