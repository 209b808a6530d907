package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"support-relay/internal/domain"
)

// originMarker tags every comment the relay posts into Slack so the next
// reconciliation pass recognizes and excludes it.
const originMarker = "(Zendesk): "

// emailSubjectMarker opens the Slack thread for a ticket that arrived by
// email.
const emailSubjectMarker = "(From Zendesk Email): "

const helpMessage = "🤖 Reply in this thread to add a comment to the ticket. " +
	"Say `resolve ticket` or ✅ when the issue is fixed."

// ChatHistory fetches and appends to a Slack support thread. Post with an
// empty ThreadID starts a new top-level thread and returns its parent
// message.
type ChatHistory interface {
	Fetch(ctx context.Context, thread domain.ThreadRef) ([]domain.ChatMessage, error)
	Post(ctx context.Context, thread domain.ThreadRef, text string) (domain.ChatMessage, error)
}

// UserDirectory resolves chat user ids to profile details used on tickets.
type UserDirectory interface {
	Profile(ctx context.Context, userID string) (domain.UserProfile, error)
}

// TicketHistory is the Zendesk surface the relay consumes.
type TicketHistory interface {
	FetchComments(ctx context.Context, ticketID string) ([]domain.TicketComment, error)
	Get(ctx context.Context, ticketID string) (domain.Ticket, error)
	Create(ctx context.Context, ticket domain.NewTicket) (domain.Ticket, error)
	AddComment(ctx context.Context, ticketID, body string) error
	Close(ctx context.Context, ticketID string) error
}

// ConversationStore persists the thread↔ticket mapping. Lookups return
// domain.ErrConversationNotFound when no active conversation matches.
type ConversationStore interface {
	GetActiveByThread(ctx context.Context, thread domain.ThreadRef) (domain.Conversation, error)
	GetActiveByTicket(ctx context.Context, ticketID string) (domain.Conversation, error)
	Open(ctx context.Context, conv domain.Conversation) error
	Close(ctx context.Context, thread domain.ThreadRef, closedAt time.Time) error
}

// ChatEvent is one inbound Slack message event, already unwrapped from the
// Events API envelope.
type ChatEvent struct {
	ChannelID string
	UserID    string
	Text      string
	TS        string
	ThreadTS  string
	BotID     string
	Subtype   string
}

// isReply reports whether the event is a message inside an existing thread.
// Slack marks replies by setting thread_ts to the parent ts.
func (e ChatEvent) isReply() bool {
	return e.ThreadTS != "" && e.ThreadTS != e.TS
}

// Config carries the service's static settings. Feature switches are explicit
// here rather than ambient globals.
type Config struct {
	// SupportChannelID is the one Slack channel the relay watches.
	SupportChannelID string
	// TicketBaseURL is the agent-facing ticket URL prefix,
	// e.g. https://example.zendesk.com/agent/tickets
	TicketBaseURL string
	// WorkspaceURL is the Slack archive base used for message permalinks.
	WorkspaceURL string
	// Disabled suspends all message processing when set.
	Disabled bool
}

// Service orchestrates synchronization between Slack threads and Zendesk
// tickets. All blocking work (fetching histories, posting messages) happens
// here; the Reconciler itself is pure.
type Service struct {
	chat       ChatHistory
	users      UserDirectory
	tickets    TicketHistory
	store      ConversationStore
	reconciler *Reconciler
	cfg        Config
	log        zerolog.Logger
}

// NewService validates its collaborators and returns a ready Service. A nil
// reconciler gets the defaults.
func NewService(chat ChatHistory, users UserDirectory, tickets TicketHistory, store ConversationStore, reconciler *Reconciler, cfg Config, logger zerolog.Logger) (*Service, error) {
	if chat == nil {
		return nil, errors.New("relay: chat history must not be nil")
	}
	if users == nil {
		return nil, errors.New("relay: user directory must not be nil")
	}
	if tickets == nil {
		return nil, errors.New("relay: ticket history must not be nil")
	}
	if store == nil {
		return nil, errors.New("relay: conversation store must not be nil")
	}
	if strings.TrimSpace(cfg.SupportChannelID) == "" {
		return nil, errors.New("relay: support channel id must not be empty")
	}
	if strings.TrimSpace(cfg.TicketBaseURL) == "" {
		return nil, errors.New("relay: ticket base url must not be empty")
	}
	if reconciler == nil {
		reconciler = NewReconciler()
	}
	return &Service{
		chat:       chat,
		users:      users,
		tickets:    tickets,
		store:      store,
		reconciler: reconciler,
		cfg:        cfg,
		log:        logger,
	}, nil
}

// SyncComments fetches both histories for the ticket's conversation, works
// out which ticket comments Slack has not seen, and posts them into the
// thread. Returns the number delivered.
//
// Delivery is sequential and best-effort per item: a failed post is logged
// and skipped, never retried inline. The unsent comment is not recorded
// anywhere as delivered, so it stays eligible and the next webhook event
// heals the gap.
func (s *Service) SyncComments(ctx context.Context, ticketID string) (int, error) {
	if s.cfg.Disabled {
		s.log.Debug().Str("ticket_id", ticketID).Msg("message processing disabled, skipping sync")
		return 0, nil
	}

	conv, err := s.store.GetActiveByTicket(ctx, ticketID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		// A thread the relay never opened, or one already closed.
		s.log.Debug().Str("ticket_id", ticketID).Msg("no active conversation for ticket, ignoring")
		return 0, nil
	}
	if err != nil {
		return 0, newError(ErrorInternal, "conversation_lookup", err)
	}

	thread := conv.Thread()
	chatMessages, err := s.chat.Fetch(ctx, thread)
	if err != nil {
		return 0, newError(ErrorUpstream, "chat_history_fetch", err)
	}
	ticketComments, err := s.tickets.FetchComments(ctx, conv.TicketID)
	if err != nil {
		return 0, newError(ErrorUpstream, "ticket_comments_fetch", err)
	}

	toDeliver := s.reconciler.Reconcile(chatMessages, ticketComments)

	delivered := 0
	for _, comment := range toDeliver {
		if _, err := s.chat.Post(ctx, thread, originMarker+comment.Body); err != nil {
			s.log.Error().Err(err).
				Str("ticket_id", conv.TicketID).
				Str("comment_id", comment.ID).
				Msg("failed to deliver comment to slack, will retry on next pass")
			continue
		}
		delivered++
	}

	s.log.Info().
		Str("ticket_id", conv.TicketID).
		Str("channel_id", conv.ChannelID).
		Str("thread_id", conv.ThreadID).
		Int("pending", len(toDeliver)).
		Int("delivered", delivered).
		Msg("comment sync complete")
	return delivered, nil
}

// HandleChatMessage reacts to one inbound Slack message. A new top-level
// message in the support channel opens a ticket; a thread reply is either a
// command or a comment mirrored onto the ticket. Returns false when the
// message is not one the relay handles.
func (s *Service) HandleChatMessage(ctx context.Context, ev ChatEvent) (bool, error) {
	if s.cfg.Disabled {
		s.log.Debug().Msg("message processing disabled, ignoring chat message")
		return false, nil
	}
	if ev.BotID != "" {
		// Usually our own post coming back around. Reacting would loop.
		s.log.Debug().Str("bot_id", ev.BotID).Msg("ignoring bot message")
		return false, nil
	}
	if ev.Subtype != "" {
		s.log.Debug().Str("subtype", ev.Subtype).Msg("ignoring message subtype")
		return false, nil
	}
	if ev.ChannelID != s.cfg.SupportChannelID {
		return false, nil
	}
	if ev.TS == "" {
		return false, nil
	}

	if ev.isReply() {
		return true, s.handleReply(ctx, ev)
	}
	return true, s.handleNewIssue(ctx, ev)
}

func (s *Service) handleReply(ctx context.Context, ev ChatEvent) error {
	thread := domain.ThreadRef{ChannelID: ev.ChannelID, ThreadID: ev.ThreadTS}
	conv, err := s.store.GetActiveByThread(ctx, thread)
	if errors.Is(err, domain.ErrConversationNotFound) {
		s.log.Warn().
			Str("channel_id", thread.ChannelID).
			Str("thread_id", thread.ThreadID).
			Msg("no active conversation for reply, old thread?")
		return nil
	}
	if err != nil {
		return newError(ErrorInternal, "conversation_lookup", err)
	}

	switch Interpret(ev.Text) {
	case CommandResolve:
		return s.resolve(ctx, conv)
	case CommandHelp:
		if _, err := s.chat.Post(ctx, thread, helpMessage); err != nil {
			return newError(ErrorUpstream, "help_post", err)
		}
		return nil
	default:
		profile, err := s.users.Profile(ctx, ev.UserID)
		if err != nil {
			return newError(ErrorUpstream, "user_profile", err)
		}
		mirror := fmt.Sprintf("%s (Slack): %s", profile.RealName, ev.Text)
		if err := s.tickets.AddComment(ctx, conv.TicketID, mirror); err != nil {
			return newError(ErrorUpstream, "ticket_comment_add", err)
		}
		return nil
	}
}

func (s *Service) handleNewIssue(ctx context.Context, ev ChatEvent) error {
	thread := domain.ThreadRef{ChannelID: ev.ChannelID, ThreadID: ev.TS}

	_, err := s.store.GetActiveByThread(ctx, thread)
	if err == nil {
		s.log.Info().
			Str("channel_id", thread.ChannelID).
			Str("thread_id", thread.ThreadID).
			Msg("issue already tracked, ignoring repeat message")
		return nil
	}
	if !errors.Is(err, domain.ErrConversationNotFound) {
		return newError(ErrorInternal, "conversation_lookup", err)
	}

	profile, err := s.users.Profile(ctx, ev.UserID)
	if err != nil {
		return newError(ErrorUpstream, "user_profile", err)
	}

	ticket, err := s.tickets.Create(ctx, domain.NewTicket{
		ExternalID:     thread.ChannelID + ":" + thread.ThreadID,
		Subject:        ev.Text,
		RequesterEmail: profile.Email,
		MessageURL:     s.messageURL(thread),
	})
	if err != nil {
		return newError(ErrorUpstream, "ticket_create", err)
	}

	if err := s.store.Open(ctx, domain.Conversation{
		ChannelID: thread.ChannelID,
		ThreadID:  thread.ThreadID,
		TicketID:  ticket.ID,
		Active:    true,
		OpenedAt:  time.Now().UTC(),
	}); err != nil {
		return newError(ErrorInternal, "conversation_open", err)
	}

	s.log.Info().
		Str("ticket_id", ticket.ID).
		Str("channel_id", thread.ChannelID).
		Str("thread_id", thread.ThreadID).
		Msg("opened new support conversation")

	// Once-off acknowledgement on the parent thread. The conversation is
	// already open, so a failed post is logged, not fatal.
	ack := "Hello, your new support request is " + s.ticketURL(ticket.ID)
	if _, err := s.chat.Post(ctx, thread, ack); err != nil {
		s.log.Error().Err(err).Str("ticket_id", ticket.ID).Msg("failed to post ticket acknowledgement")
	}
	return nil
}

// resolve closes the ticket and deactivates the conversation. The
// conversation is re-read first: a concurrent resolve for the same thread may
// already have won, and CLOSED never transitions back to OPEN.
func (s *Service) resolve(ctx context.Context, conv domain.Conversation) error {
	current, err := s.store.GetActiveByThread(ctx, conv.Thread())
	if errors.Is(err, domain.ErrConversationNotFound) {
		s.log.Debug().
			Str("ticket_id", conv.TicketID).
			Msg("conversation already resolved")
		return nil
	}
	if err != nil {
		return newError(ErrorInternal, "conversation_lookup", err)
	}

	url := s.ticketURL(current.TicketID)
	message := fmt.Sprintf("🤖 Understood. Ticket %s has been closed.", url)
	if err := s.tickets.Close(ctx, current.TicketID); err != nil {
		s.log.Warn().Err(err).Str("ticket_id", current.TicketID).Msg("ticket close failed, assuming closed externally")
		message = fmt.Sprintf("🤖 Ticket %s is already closed.", url)
	}

	if err := s.store.Close(ctx, conv.Thread(), time.Now().UTC()); err != nil {
		return newError(ErrorInternal, "conversation_close", err)
	}

	if _, err := s.chat.Post(ctx, conv.Thread(), message); err != nil {
		s.log.Error().Err(err).Str("ticket_id", current.TicketID).Msg("failed to post resolution message")
	}
	return nil
}

// OpenFromEmail starts tracking a ticket that was opened by email: a new
// Slack thread is created for it, the conversation is stored, and the ticket
// gets a comment linking back to the thread.
func (s *Service) OpenFromEmail(ctx context.Context, ticketID string) error {
	if s.cfg.Disabled {
		s.log.Debug().Str("ticket_id", ticketID).Msg("message processing disabled, ignoring email ticket")
		return nil
	}

	_, err := s.store.GetActiveByTicket(ctx, ticketID)
	if err == nil {
		s.log.Info().Str("ticket_id", ticketID).Msg("email ticket already tracked")
		return nil
	}
	if !errors.Is(err, domain.ErrConversationNotFound) {
		return newError(ErrorInternal, "conversation_lookup", err)
	}

	ticket, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return newError(ErrorUpstream, "ticket_fetch", err)
	}

	parent, err := s.chat.Post(ctx, domain.ThreadRef{ChannelID: s.cfg.SupportChannelID}, emailSubjectMarker+ticket.Subject)
	if err != nil {
		return newError(ErrorUpstream, "thread_create", err)
	}
	thread := domain.ThreadRef{ChannelID: s.cfg.SupportChannelID, ThreadID: parent.ID}

	if err := s.store.Open(ctx, domain.Conversation{
		ChannelID: thread.ChannelID,
		ThreadID:  thread.ThreadID,
		TicketID:  ticket.ID,
		Active:    true,
		OpenedAt:  time.Now().UTC(),
	}); err != nil {
		return newError(ErrorInternal, "conversation_open", err)
	}

	s.log.Info().
		Str("ticket_id", ticket.ID).
		Str("thread_id", thread.ThreadID).
		Msg("opened conversation for email ticket")

	ack := "Hello, your new support request is " + s.ticketURL(ticket.ID)
	if _, err := s.chat.Post(ctx, thread, ack); err != nil {
		s.log.Error().Err(err).Str("ticket_id", ticket.ID).Msg("failed to post ticket acknowledgement")
	}

	aware := fmt.Sprintf("The support team is aware of your issue on Slack here %s.", s.messageURL(thread))
	if err := s.tickets.AddComment(ctx, ticket.ID, aware); err != nil {
		s.log.Error().Err(err).Str("ticket_id", ticket.ID).Msg("failed to link slack thread on ticket")
	}
	return nil
}

func (s *Service) ticketURL(ticketID string) string {
	return strings.TrimRight(s.cfg.TicketBaseURL, "/") + "/" + ticketID
}

// messageURL builds the archive permalink stored on tickets,
// e.g. 1597844917.045900 -> .../C019JUGAGTS/p1597844917045900
func (s *Service) messageURL(thread domain.ThreadRef) string {
	msgID := "p" + strings.Replace(thread.ThreadID, ".", "", 1)
	return strings.Join([]string{strings.TrimRight(s.cfg.WorkspaceURL, "/"), thread.ChannelID, msgID}, "/")
}
