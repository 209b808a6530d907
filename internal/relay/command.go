package relay

import "strings"

// Command is a recognized thread instruction.
type Command int

const (
	// CommandNone means the text is an ordinary comment to forward.
	CommandNone Command = iota
	// CommandResolve closes the ticket and the conversation.
	CommandResolve
	// CommandHelp asks for the usage message.
	CommandHelp
)

// Interpret matches text against the fixed command vocabulary. Matching is
// exact on the normalized, lowercased, trimmed text, independent of emoji
// encoding: "resolve it please" is not a resolve command, which keeps casual
// phrasing from closing tickets by accident.
func Interpret(text string) Command {
	switch strings.TrimSpace(Emojize(strings.ToLower(text))) {
	case "resolve", "resolve ticket", "\U0001F197", "✅":
		return CommandResolve
	case "help":
		return CommandHelp
	default:
		return CommandNone
	}
}
