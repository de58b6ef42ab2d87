// Package transcript wraps speech recognition as a start/stop capability that
// reports start, result, error and end events.
package transcript

import "errors"

var (
	ErrAlreadyStarted = errors.New("transcript: recognition already started")
	ErrUnavailable    = errors.New("transcript: recognition unavailable")
)

// Error codes carried by EventError.
const (
	ErrNoSpeech = "no-speech"
	ErrNetwork  = "network"
)

// EventKind discriminates recognizer events.
type EventKind int

const (
	EventStart EventKind = iota
	EventResult
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	}
	return "unknown"
}

// Event is emitted on the recognizer's Events channel. Every session that
// emitted EventStart eventually emits exactly one EventEnd.
type Event struct {
	Kind    EventKind
	Session uint64
	Text    string // EventResult
	Err     string // EventError
}
