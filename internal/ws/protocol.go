package ws

import (
	"encoding/json"

	"github.com/stepsnap/stepsnap/internal/pipeline"
	"github.com/stepsnap/stepsnap/internal/session"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgSession  MessageType = "session"
	MsgCleared  MessageType = "cleared"
	MsgResponse MessageType = "response"
)

// WSMessage is a server push to subscribers.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

// SessionPayload carries the (privacy-filtered) active session. Session is
// nil when there is none.
type SessionPayload struct {
	Session *session.CaptureSession `json:"session"`
	Event   string                  `json:"event,omitempty"`
	StepID  string                  `json:"stepId,omitempty"`
}

// RequestType names an inbound request.
type RequestType string

const (
	ReqStartCapture        RequestType = "start_capture"
	ReqStopCapture         RequestType = "stop_capture"
	ReqPauseCapture        RequestType = "pause_capture"
	ReqResumeCapture       RequestType = "resume_capture"
	ReqCancelCapture       RequestType = "cancel_capture"
	ReqExportReady         RequestType = "export_ready"
	ReqEditorClosed        RequestType = "editor_closed"
	ReqInteraction         RequestType = "interaction"
	ReqGetSession          RequestType = "get_session"
	ReqGetStepImage        RequestType = "get_step_image"
	ReqUpdateStep          RequestType = "update_step"
	ReqDeleteStep          RequestType = "delete_step"
	ReqReorderSteps        RequestType = "reorder_steps"
	ReqSaveToolbarPosition RequestType = "save_toolbar_position"
	ReqGetToolbarPosition  RequestType = "get_toolbar_position"
	ReqPreCapture          RequestType = "pre_capture"
	ReqTakeScreenshot      RequestType = "take_screenshot"
	ReqNavigation          RequestType = "navigation"
)

// Request is the inbound envelope, shared by the WebSocket and
// POST /api/messages.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response answers exactly one Request.
type Response struct {
	Type   MessageType    `json:"type"`
	ID     string         `json:"id,omitempty"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

func okResponse(id string, data map[string]any) Response {
	if data == nil {
		data = map[string]any{}
	}
	return Response{Type: MsgResponse, ID: id, Status: StatusOK, Data: data}
}

func errorResponse(id string, msg string) Response {
	return Response{Type: MsgResponse, ID: id, Status: StatusError, Error: msg}
}

type tabPayload struct {
	Tab session.TabRef `json:"tab"`
}

type interactionPayload struct {
	Event session.InteractionEvent `json:"event"`
}

type stepIDPayload struct {
	StepID string `json:"stepId"`
}

type updateStepPayload struct {
	StepID string `json:"stepId"`
	pipeline.StepPatch
}

type reorderPayload struct {
	StepIDs []string `json:"stepIds"`
}

type toolbarPayload struct {
	Position session.ToolbarPosition `json:"position"`
}

type navigationPayload struct {
	TabID   int    `json:"tabId"`
	FrameID int    `json:"frameId"`
	URL     string `json:"url"`
}
