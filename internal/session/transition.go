package session

// Action is a lifecycle request applied to a session's status.
type Action string

const (
	ActionStartCapture Action = "START_CAPTURE"
	ActionStop         Action = "STOP"
	ActionCancel       Action = "CANCEL"
	ActionPause        Action = "PAUSE"
	ActionResume       Action = "RESUME"
	ActionExportReady  Action = "EXPORT_READY"
	ActionEditorClosed Action = "EDITOR_CLOSED"
)

type transitionKey struct {
	from   Status
	action Action
}

var transitions = map[transitionKey]Status{
	{Idle, ActionStartCapture}:    Capturing,
	{Capturing, ActionStop}:       Editing,
	{Capturing, ActionCancel}:     Idle,
	{Capturing, ActionPause}:      Paused,
	{Paused, ActionResume}:        Capturing,
	{Paused, ActionCancel}:        Idle,
	{Editing, ActionExportReady}:  Done,
	{Editing, ActionEditorClosed}: Done,
}

// Transition looks up the status reached by applying action in state from.
// The boolean is false when the pair is not in the table; the returned
// status is then from, unchanged.
func Transition(from Status, action Action) (Status, bool) {
	to, ok := transitions[transitionKey{from, action}]
	if !ok {
		return from, false
	}
	return to, true
}
