package session

// EventType classifies session lifecycle events.
type EventType int

const (
	EventStarted   EventType = iota // new session allocated
	EventStepAdded                  // pipeline committed a step
	EventUpdated                    // status change or step edit
	EventCleared                    // session cancelled, expired or replaced
)

var eventTypeNames = map[EventType]string{
	EventStarted:   "started",
	EventStepAdded: "step_added",
	EventUpdated:   "updated",
	EventCleared:   "cleared",
}

func (t EventType) String() string {
	if n, ok := eventTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event carries a session snapshot to observers.
type Event struct {
	Type    EventType
	Session *CaptureSession // snapshot (safe to retain); nil for EventCleared
	StepID  string          // set for EventStepAdded
}
