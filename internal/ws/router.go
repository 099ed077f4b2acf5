package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stepsnap/stepsnap/internal/pipeline"
	"github.com/stepsnap/stepsnap/internal/session"
)

// TabResolver fills in title and URL for a tab id. It is optional.
type TabResolver interface {
	Ref(ctx context.Context, tabID int) (session.TabRef, error)
}

// Router turns inbound requests into orchestrator calls. Every failure,
// including a panic, comes back as an error Response.
type Router struct {
	orch *pipeline.Orchestrator
	tabs TabResolver
	log  *slog.Logger
}

func NewRouter(orch *pipeline.Orchestrator, tabs TabResolver, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{orch: orch, tabs: tabs, log: log}
}

func (r *Router) Dispatch(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("request handler panicked", "type", req.Type, "panic", p)
			resp = errorResponse(req.ID, fmt.Sprintf("internal error handling %s", req.Type))
		}
	}()

	r.orch.EnsureRestored(ctx)

	data, err := r.handle(ctx, req)
	if err != nil {
		r.log.Debug("request failed", "type", req.Type, "error", err)
		return errorResponse(req.ID, err.Error())
	}
	return okResponse(req.ID, data)
}

func decode(req Request, v any) error {
	if len(req.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", req.Type, err)
	}
	return nil
}

func (r *Router) handle(ctx context.Context, req Request) (map[string]any, error) {
	o := r.orch
	switch req.Type {
	case ReqStartCapture:
		var p tabPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		sess, ok := o.Start(ctx, r.resolve(ctx, p.Tab))
		if !ok {
			return nil, fmt.Errorf("cannot start capture while %s", o.Store().Status())
		}
		return map[string]any{"session": sess}, nil

	case ReqStopCapture:
		sess, ok := o.Stop(ctx)
		if !ok {
			return nil, fmt.Errorf("cannot stop capture while %s", o.Store().Status())
		}
		return map[string]any{"session": sess}, nil

	case ReqPauseCapture:
		return statusResult(o.Pause(ctx))
	case ReqResumeCapture:
		return statusResult(o.Resume(ctx))
	case ReqExportReady:
		return statusResult(o.ExportReady(ctx))
	case ReqEditorClosed:
		return statusResult(o.EditorClosed(ctx))

	case ReqCancelCapture:
		if !o.Cancel(ctx) {
			return nil, fmt.Errorf("cannot cancel capture while %s", o.Store().Status())
		}
		return nil, nil

	case ReqInteraction:
		var p interactionPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		if !p.Event.Kind.Valid() {
			return nil, fmt.Errorf("unknown interaction kind %q", p.Event.Kind)
		}
		res := o.Submit(ctx, p.Event)
		data := map[string]any{"outcome": res.Outcome}
		if res.Step != nil {
			data["step"] = res.Step
		}
		return data, nil

	case ReqGetSession:
		sess, ok := o.Store().Get()
		if !ok {
			return map[string]any{"session": nil}, nil
		}
		return map[string]any{"session": sess}, nil

	case ReqGetStepImage:
		var p stepIDPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		img, err := o.StepImage(p.StepID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"screenshot": img}, nil

	case ReqUpdateStep:
		var p updateStepPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		st, err := o.UpdateStep(ctx, p.StepID, p.StepPatch)
		if err != nil {
			return nil, err
		}
		return map[string]any{"step": st}, nil

	case ReqDeleteStep:
		var p stepIDPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		sess, err := o.DeleteStep(ctx, p.StepID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"session": sess}, nil

	case ReqReorderSteps:
		var p reorderPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		sess, err := o.ReorderSteps(ctx, p.StepIDs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"session": sess}, nil

	case ReqSaveToolbarPosition:
		var p toolbarPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		o.SaveToolbar(p.Position)
		return nil, nil

	case ReqGetToolbarPosition:
		pos, ok := o.Toolbar()
		if !ok {
			return map[string]any{"position": nil}, nil
		}
		return map[string]any{"position": pos}, nil

	case ReqPreCapture:
		var p tabPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		o.Buffer(ctx, p.Tab.ID)
		return nil, nil

	case ReqTakeScreenshot:
		var p tabPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		sess, err := o.TakeScreenshot(ctx, r.resolve(ctx, p.Tab))
		if err != nil {
			return nil, err
		}
		return map[string]any{"session": sess}, nil

	case ReqNavigation:
		var p navigationPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		return map[string]any{"reinjected": o.HandleNavigation(ctx, p.TabID, p.FrameID, p.URL)}, nil

	default:
		return nil, fmt.Errorf("unknown request type %q", req.Type)
	}
}

func statusResult(st session.Status, ok bool) (map[string]any, error) {
	if !ok {
		return nil, fmt.Errorf("transition not allowed from %s", st)
	}
	return map[string]any{"status": st}, nil
}

// resolve fills in a tab's title and URL when the caller only sent an id.
func (r *Router) resolve(ctx context.Context, tab session.TabRef) session.TabRef {
	if r.tabs == nil || (tab.Title != "" && tab.URL != "") {
		return tab
	}
	ref, err := r.tabs.Ref(ctx, tab.ID)
	if err != nil {
		return tab
	}
	if tab.Title != "" {
		ref.Title = tab.Title
	}
	if tab.URL != "" {
		ref.URL = tab.URL
	}
	return ref
}
