package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Viewer commands, sent as WebSocket text frames by the viewer page
const (
	CommandSubscribe   = "INICIAR_TRANSCRICAO"
	CommandUnsubscribe = "PAUSAR_TRANSCRICAO"
)

// MaxCommandSize bounds the part of an unknown message echoed into logs
const MaxCommandSize = 64

// ErrUnknownCommand is returned for any inbound text that is not a viewer command
var ErrUnknownCommand = errors.New("unknown viewer command")

// Command is a parsed viewer command
type Command uint8

const (
	// Unknown is any text that is not a recognised command
	Unknown Command = iota
	// Subscribe moves a connected viewer into the subscribed set
	Subscribe
	// Unsubscribe moves a subscribed viewer back to connected only
	Unsubscribe
)

// Parse parses one inbound text message. Surrounding whitespace is ignored;
// the command itself must match exactly. Anything else yields Unknown and an
// error wrapping ErrUnknownCommand.
func Parse(message string) (Command, error) {
	switch strings.TrimSpace(message) {
	case CommandSubscribe:
		return Subscribe, nil
	case CommandUnsubscribe:
		return Unsubscribe, nil
	default:
		return Unknown, fmt.Errorf("%w: %q", ErrUnknownCommand, Truncate(message, MaxCommandSize))
	}
}

// Truncate shortens s to at most n bytes for logging, marking the cut
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// String returns the wire form of the command
func (c Command) String() string {
	switch c {
	case Subscribe:
		return CommandSubscribe
	case Unsubscribe:
		return CommandUnsubscribe
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// Status strings optionally sent to an individual viewer
const (
	StatusConnected    = "Conectado ao servidor de transcrição."
	StatusSubscribed   = "Transcrição iniciada."
	StatusUnsubscribed = "Transcrição pausada."
)

// StatusFor returns the status line announcing the effect of c, or "" for Unknown
func StatusFor(c Command) string {
	switch c {
	case Subscribe:
		return StatusSubscribed
	case Unsubscribe:
		return StatusUnsubscribed
	default:
		return ""
	}
}
