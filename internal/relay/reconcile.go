package relay

import (
	"sort"

	"support-relay/internal/domain"
)

// DefaultEmailPreviewLimit bounds the preview posted to Slack for
// email-channel comments, which tend to carry long quoted chains.
const DefaultEmailPreviewLimit = 512

// Reconciler computes which ticket comments are new to a Slack thread. The
// two histories evolve independently, are ordered and formatted differently,
// and share no identifier, so novelty detection is a one-directional
// set-membership test: Slack is the source of truth for what a human has
// already seen, and only ticket-side novelty matters.
type Reconciler struct {
	normalizer        *Normalizer
	emailPreviewLimit int
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithStripPrefixes overrides the origin markers stripped during
// normalization.
func WithStripPrefixes(prefixes ...string) ReconcilerOption {
	return func(r *Reconciler) {
		r.normalizer = NewNormalizer(prefixes...)
	}
}

// WithEmailPreviewLimit overrides the email preview length.
func WithEmailPreviewLimit(limit int) ReconcilerOption {
	return func(r *Reconciler) {
		r.emailPreviewLimit = limit
	}
}

// NewReconciler returns a Reconciler with default normalization and preview
// bounds unless overridden.
func NewReconciler(opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		normalizer:        NewNormalizer(),
		emailPreviewLimit: DefaultEmailPreviewLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Normalizer exposes the reconciler's normalizer so callers share one
// canonical pipeline.
func (r *Reconciler) Normalizer() *Normalizer {
	return r.normalizer
}

// Reconcile returns the ticket comments that must be delivered to the Slack
// thread, oldest first, with each Body replaced by the normalized (and, for
// email comments, truncated) preview text. Callers deliver exactly what they
// receive.
//
// The pass is idempotent: once delivered comments appear in the chat history
// (tagged with the origin marker), a rerun over the grown history returns
// nothing. That property is what makes concurrent or repeated passes over
// the same conversation safe; there is no locking between them.
func (r *Reconciler) Reconcile(chatMessages []domain.ChatMessage, ticketComments []domain.TicketComment) []domain.TicketComment {
	index := NewFingerprintIndex(r.normalizer, chatMessages)

	// Probe newest-first so a run can stop early at the first known comment
	// if that ever becomes worthwhile; the delivery order is restored below.
	ordered := make([]domain.TicketComment, len(ticketComments))
	copy(ordered, ticketComments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})

	var deliver []domain.TicketComment
	for _, comment := range ordered {
		// Comments the relay pushed in from Slack must never travel back,
		// regardless of text: that way lies an infinite mirror loop.
		if comment.Channel == domain.ChannelAPI {
			continue
		}

		text := r.normalizer.Normalize(comment.Body)
		if comment.Channel == domain.ChannelEmail {
			// The preview is truncated before fingerprinting, so two long
			// emails sharing a prefix collide and the later one is
			// suppressed. Kept as-is: it also stops full email chains from
			// being re-posted over and over.
			text = Truncate(text, r.emailPreviewLimit)
		}
		if index.Has(text) {
			continue
		}

		comment.Body = text
		deliver = append(deliver, comment)
	}

	// Chat receives history in the order it happened.
	sort.SliceStable(deliver, func(i, j int) bool {
		return deliver[i].CreatedAt.Before(deliver[j].CreatedAt)
	})
	return deliver
}
