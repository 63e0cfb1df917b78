package events

import "time"

// Event enumerates in-process topics of the control plane.
type Event string

const (
	EventSignalCreated    Event = "signal.created"
	EventSignalClosed     Event = "signal.closed"
	EventRoutingCompleted Event = "routing.completed"
	EventQueueRejected    Event = "queue.rejected"
	EventProcessorFailure Event = "processor.failure"
	EventFeedDegraded     Event = "feed.degraded"
)

// Failure describes a message that could not be handled.
type Failure struct {
	Component string
	Queue     string
	MessageID string
	Err       error
	At        time.Time
}
