// Package events defines the streaming event protocol shared between a
// plugin subprocess, the Plugin Protocol Adapter, and anything that
// consumes the resulting event stream (CLI, TUI, remote supervisor).
package events

import (
	"encoding/json"
	"time"
)

// Type discriminates the tagged union of stream events.
type Type string

const (
	TypeOutput     Type = "output"
	TypeProgress   Type = "progress"
	TypePhaseStart Type = "phase_start"
	TypePhaseEnd   Type = "phase_end"
	TypeCompletion Type = "completion"
)

// Phase names recognized on the wire, matching the plugin protocol's
// three-stage lifecycle.
const (
	PhaseCheck    = "check"
	PhaseDownload = "download"
	PhaseExecute  = "execute"
)

// Stream identifies which subprocess pipe an Output event originated from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Event is a single immutable record on a plugin's event stream. Every
// event carries the plugin it belongs to and the time it was observed by
// the adapter (not necessarily the time the plugin produced it).
type Event struct {
	Plugin    string    `json:"plugin"`
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`

	// Output fields
	Stream Stream `json:"stream,omitempty"`
	Line   string `json:"line,omitempty"`

	// Progress fields
	Phase           string  `json:"phase,omitempty"`
	Percent         *int    `json:"percent,omitempty"`
	Message         string  `json:"message,omitempty"`
	BytesDownloaded *int64  `json:"bytes_downloaded,omitempty"`
	BytesTotal      *int64  `json:"bytes_total,omitempty"`
	ItemsCompleted  *int    `json:"items_completed,omitempty"`
	ItemsTotal      *int    `json:"items_total,omitempty"`

	// PhaseEnd fields
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`

	// Completion fields
	ExitCode         *int `json:"exit_code,omitempty"`
	PackagesUpdated  *int `json:"packages_updated,omitempty"`
}

// MarshalLine renders the event as a single-line JSON object, the wire form
// described by the plugin protocol.
func (e Event) MarshalLine() ([]byte, error) {
	return json.Marshal(e)
}

// IsTerminal reports whether this event is the Completion event that must
// be the last event of a plugin session.
func (e Event) IsTerminal() bool {
	return e.Type == TypeCompletion
}

// Output constructs an Output event.
func Output(plugin string, stream Stream, line string) Event {
	return Event{Plugin: plugin, Timestamp: time.Now(), Type: TypeOutput, Stream: stream, Line: line}
}

// Completion constructs a Completion event.
func Completion(plugin string, success bool, exitCode int, err string) Event {
	return Event{
		Plugin:    plugin,
		Timestamp: time.Now(),
		Type:      TypeCompletion,
		Success:   &success,
		ExitCode:  &exitCode,
		Error:     err,
	}
}

// PhaseStart constructs a PhaseStart event.
func PhaseStart(plugin, phase string) Event {
	return Event{Plugin: plugin, Timestamp: time.Now(), Type: TypePhaseStart, Phase: phase}
}

// PhaseEnd constructs a PhaseEnd event.
func PhaseEnd(plugin, phase string, success bool, errMsg string) Event {
	return Event{Plugin: plugin, Timestamp: time.Now(), Type: TypePhaseEnd, Phase: phase, Success: &success, Error: errMsg}
}

// Progress constructs a Progress event. percent is omitted from the wire
// form when nil, per the "unknown-size download" open question: callers
// that cannot compute a percentage should pass nil rather than a guess.
func Progress(plugin, phase string, percent *int, message string) Event {
	return Event{Plugin: plugin, Timestamp: time.Now(), Type: TypeProgress, Phase: phase, Percent: percent, Message: message}
}

// ParseWireLine parses the JSON payload following a "PROGRESS:" prefix on a
// plugin's stderr. Unknown type values are preserved (the type field is
// kept as-is) rather than rejected, per the protocol's "informational"
// handling of unrecognized types.
func ParseWireLine(plugin string, payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, err
	}
	e.Plugin = plugin
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e, nil
}
