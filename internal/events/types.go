// Package events provides the pub/sub bus carrying policy pass progress to
// log, API and websocket consumers.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	EventPassStarted  EventType = "pass.started"
	EventPassFinished EventType = "pass.finished"
	EventProgress     EventType = "pass.progress"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
}

// PassData is the payload for EventPassStarted and EventPassFinished.
type PassData struct {
	PassID string `json:"pass_id"`
	Kind   string `json:"kind"` // "enable" or "disable"
	Error  string `json:"error,omitempty"`
}

// ProgressData is the payload for EventProgress.
type ProgressData struct {
	PassID  string `json:"pass_id"`
	Message string `json:"message"`
}
