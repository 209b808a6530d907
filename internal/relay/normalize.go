package relay

import (
	"html"
	"regexp"
	"strings"

	"github.com/enescakir/emoji"
)

// Ellipsis is appended to truncated previews.
const Ellipsis = "..."

// defaultStripPrefixes are the origin markers the relay prepends to messages
// it posts into Slack. Stripping them before comparison keeps relayed copies
// from looking like new content. New relay message templates get added here.
var defaultStripPrefixes = []string{
	"(Zendesk):",
	"(From Zendesk Email):",
}

// slackAliases maps Slack shortcodes onto glyphs the canonical emoji table
// spells with different names. Applied before the main alias pass.
var slackAliases = strings.NewReplacer(
	":thumbsup:", "\U0001F44D",
	":thumbsdown:", "\U0001F44E",
	":white_check_mark:", "✅",
	":heavy_check_mark:", "✔️",
	":ok:", "\U0001F197",
	":simple_smile:", "\U0001F642",
)

var (
	slackLabelledLinkRE = regexp.MustCompile(`<(?:[a-z][a-z0-9+.-]*://)?([^|>]+)\|([^>]+)>`)
	slackBareLinkRE     = regexp.MustCompile(`<(?:[a-z][a-z0-9+.-]*://)([^|>]+)>`)
	markdownLinkRE      = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)
)

// Normalizer canonicalizes message bodies for comparison. The same pipeline
// runs on both Slack messages and Zendesk comments so that the two stored
// copies of one logical message compare equal despite formatting differences.
type Normalizer struct {
	stripPrefixes []string
}

// NewNormalizer returns a Normalizer using the given origin-marker prefixes,
// or the defaults when none are given.
func NewNormalizer(stripPrefixes ...string) *Normalizer {
	if len(stripPrefixes) == 0 {
		stripPrefixes = defaultStripPrefixes
	}
	return &Normalizer{stripPrefixes: stripPrefixes}
}

// Normalize canonicalizes raw message text: origin markers stripped, email
// signatures dropped, link markup reduced to display text, emoji shortcodes
// converted to glyphs, surrounding whitespace trimmed. Empty input yields the
// empty string. The result is only ever used for fingerprinting and previews,
// never to re-render the original content.
func (n *Normalizer) Normalize(raw string) string {
	text := n.stripOriginMarkers(raw)
	text = stripSignature(text)
	text = stripMarkup(text)
	text = Emojize(text)
	return strings.TrimSpace(text)
}

// stripOriginMarkers keeps only the text after the last occurrence of each
// known relay marker.
func (n *Normalizer) stripOriginMarkers(text string) string {
	for _, prefix := range n.stripPrefixes {
		if idx := strings.LastIndex(text, prefix); idx >= 0 {
			text = text[idx+len(prefix):]
		}
	}
	return text
}

// stripSignature drops everything from the first standalone "--" line on.
// Email replies carry quoted signature blocks below that marker.
func stripSignature(text string) string {
	lines := strings.SplitAfter(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "--" {
			return strings.Join(lines[:i], "")
		}
	}
	return text
}

// stripMarkup reduces link decoration to its display text and collapses HTML
// entities. Slack links keep their label, or the target minus its scheme when
// no label is present.
func stripMarkup(text string) string {
	text = markdownLinkRE.ReplaceAllString(text, "$1")
	text = slackLabelledLinkRE.ReplaceAllString(text, "$2")
	text = slackBareLinkRE.ReplaceAllString(text, "$1")
	return html.UnescapeString(text)
}

// Emojize converts named emoji tokens (":thumbs_up:") to glyph form ("👍").
// Slack stores the name form while Zendesk stores the glyph, so both sides
// must be converted before comparison.
func Emojize(text string) string {
	return emoji.Parse(slackAliases.Replace(text))
}

// Truncate returns the first limit characters of text, with an ellipsis
// appended only when something was actually cut off.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + Ellipsis
}
