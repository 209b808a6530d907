package domain

// UserProfile is the subset of a Slack user profile the relay needs when
// filing tickets and mirroring comments.
type UserProfile struct {
	RealName string
	Email    string
}

// NewTicket carries the fields for filing a ticket from a Slack thread.
// ExternalID ("channel:ts") lets Zendesk events route back to the thread.
type NewTicket struct {
	ExternalID     string
	Subject        string
	RequesterEmail string
	MessageURL     string
}
