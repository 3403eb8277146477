package concierge

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a [Controller].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosed
	StateError
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// User-facing status lines.
const (
	StatusIdle              = "Initializing Concierge..."
	StatusConnecting        = "Connecting..."
	StatusListening         = "Concierge is listening..."
	StatusConnectionError   = "Connection error. Please retry."
	StatusMicrophoneError   = "Failed to access microphone."
	StatusOutputError       = "Failed to access audio output."
	StatusDisconnected      = "Concierge disconnected."
	StatusCredentialMissing = "API key required."
)

// AcquisitionError reports that a local audio device could not be acquired,
// typically because microphone permission was denied.
type AcquisitionError struct {
	// Device is "microphone" or "speaker".
	Device string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("concierge: acquire %s: %v", e.Device, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ConnectionError reports that the remote session could not be established
// or failed after it was established.
type ConnectionError struct {
	// Credential is true when the failure is a missing, invalid or
	// unauthorised API key, or a model the key cannot reach.
	Credential bool
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.Credential {
		return fmt.Sprintf("concierge: credential rejected: %v", e.Err)
	}
	return fmt.Sprintf("concierge: connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsCredentialError reports whether err is a [ConnectionError] caused by the
// API credential.
func IsCredentialError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Credential
}

// Role identifies who spoke a transcript line.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TranscriptEntry is one line of the running conversation transcript.
// Consecutive fragments from the same speaker are merged until the turn
// completes.
type TranscriptEntry struct {
	Role  Role      `json:"role"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
	Final bool      `json:"final"`
}

// Snapshot is a consistent view of the controller for display.
type Snapshot struct {
	SessionID      string            `json:"session_id,omitempty"`
	State          State             `json:"state"`
	Status         string            `json:"status"`
	Speaking       bool              `json:"speaking"`
	ActiveSegments int               `json:"active_segments"`
	NextStartTime  float64           `json:"next_start_time"`
	StartedAt      time.Time         `json:"started_at,omitzero"`
	Error          string            `json:"error,omitempty"`
	Transcript     []TranscriptEntry `json:"transcript"`
}
