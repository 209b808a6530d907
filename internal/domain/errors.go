package domain

import "errors"

// ErrConversationNotFound is returned by conversation stores when no active
// Conversation exists for the given reference. Expected and non-fatal: events
// for threads the relay never opened, or closed long ago, resolve to this.
var ErrConversationNotFound = errors.New("domain: no active conversation")
