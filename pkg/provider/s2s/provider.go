// Package s2s defines the Provider interface for the remote conversational
// streaming endpoint the concierge talks to.
//
// An s2s provider wraps a real-time voice agent that accepts microphone audio
// and returns synthesised speech in a single, stateful session. Besides audio
// the session carries input and output transcriptions, tool-call requests and
// their responses, and turn-control signals (turn complete, interrupted).
//
// The central abstraction is SessionHandle. Everything the remote side emits
// is delivered as a typed [Event] on a single channel, in wire order, so a
// consumer can process the session with one dispatch function.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"

	"github.com/dreamit/concierge/pkg/audio"
)

var (
	// ErrMissingCredential is returned by Connect when no API credential is
	// configured.
	ErrMissingCredential = errors.New("s2s: missing api credential")

	// ErrInvalidCredential is returned (wrapped) by Connect, or carried by an
	// [EventError], when the remote service rejects the credential or cannot
	// find the requested model for it.
	ErrInvalidCredential = errors.New("s2s: invalid api credential")

	// ErrSessionClosed is returned by send methods after the session has ended.
	ErrSessionClosed = errors.New("s2s: session closed")
)

// IsCredentialError reports whether err is a credential problem that a new
// key could fix.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrInvalidCredential)
}

// KeyFunc yields a provider's API key. Providers call it on every Connect,
// so a key replaced while the process runs reaches the next session.
type KeyFunc func() string

// StaticKey returns a KeyFunc that always yields key.
func StaticKey(key string) KeyFunc {
	return func() string { return key }
}

// ToolDefinition declares one function the remote agent may call.
type ToolDefinition struct {
	// Name is the function name the agent uses in tool calls.
	Name string

	// Description tells the agent when to call the function.
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// SessionConfig is the configuration declared when a session is opened.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Voice is the prebuilt voice name the agent speaks with.
	Voice string

	// Instructions is the system prompt describing the agent persona and its
	// obligation to call tools.
	Instructions string

	// Tools is the tool schema offered to the agent.
	Tools []ToolDefinition

	// Transcribe enables input and output transcription events.
	Transcribe bool
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// InputSampleRate is the PCM rate the provider expects from the microphone.
	InputSampleRate int

	// OutputSampleRate is the PCM rate of audio the provider emits.
	OutputSampleRate int

	// Voices lists prebuilt voice names.
	Voices []string
}

// EventKind enumerates the messages a session emits.
type EventKind int

const (
	// EventOpen is emitted once, when the remote side confirms the session
	// is set up.
	EventOpen EventKind = iota + 1

	// EventAudio carries one base64 PCM chunk of agent speech in Event.Audio.
	EventAudio

	// EventInputTranscript carries recognised user speech in Event.Text.
	EventInputTranscript

	// EventOutputTranscript carries the text of agent speech in Event.Text.
	EventOutputTranscript

	// EventToolCall carries one or more calls in Event.ToolCalls.
	EventToolCall

	// EventTurnComplete marks the end of an agent turn.
	EventTurnComplete

	// EventInterrupted signals that the user barged in and the agent stopped
	// its current turn.
	EventInterrupted

	// EventError carries a session-fatal error in Event.Err. The events
	// channel closes after it.
	EventError

	// EventClose is emitted when the remote side ends the session cleanly.
	// The events channel closes after it.
	EventClose
)

var eventKindNames = map[EventKind]string{
	EventOpen:             "open",
	EventAudio:            "audio",
	EventInputTranscript:  "input_transcript",
	EventOutputTranscript: "output_transcript",
	EventToolCall:         "tool_call",
	EventTurnComplete:     "turn_complete",
	EventInterrupted:      "interrupted",
	EventError:            "error",
	EventClose:            "close",
}

// String returns the wire-neutral name of k.
func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ToolCall is one function invocation requested by the agent.
type ToolCall struct {
	// ID identifies the call. The response must carry the same ID.
	ID string

	// Name is the function name.
	Name string

	// Args is the decoded argument object. May be nil.
	Args map[string]any
}

// ToolResponse acknowledges a [ToolCall].
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Event is one message received from the session.
type Event struct {
	Kind EventKind

	// Audio is set for EventAudio.
	Audio audio.Packet

	// Text is set for transcript events and for EventClose (the reason, if
	// any).
	Text string

	// ToolCalls is set for EventToolCall.
	ToolCalls []ToolCall

	// Err is set for EventError.
	Err error
}

// SessionHandle represents an open session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// All methods must be safe for concurrent use. Callers must call Close when
// the session is no longer needed.
type SessionHandle interface {
	// SendRealtimeInput delivers one microphone packet. Returns
	// [ErrSessionClosed] after the session ends.
	SendRealtimeInput(p audio.Packet) error

	// SendToolResponse acknowledges one or more tool calls.
	SendToolResponse(responses ...ToolResponse) error

	// Events returns the channel of received events. It is closed after an
	// EventError or EventClose, or after Close.
	Events() <-chan Event

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over a streaming voice agent backend.
type Provider interface {
	// Connect opens a session. It returns once the connection is established
	// and the configuration has been sent; [EventOpen] follows when the remote
	// side confirms it. Credential problems are reported as errors wrapping
	// [ErrMissingCredential] or [ErrInvalidCredential].
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() Capabilities
}
