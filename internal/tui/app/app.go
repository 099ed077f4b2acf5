package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stepsnap/stepsnap/internal/session"
	"github.com/stepsnap/stepsnap/internal/tui/client"
	"github.com/stepsnap/stepsnap/internal/tui/theme"
	"github.com/stepsnap/stepsnap/internal/tui/views/detail"
	"github.com/stepsnap/stepsnap/internal/tui/views/eventlog"
	"github.com/stepsnap/stepsnap/internal/tui/views/status"
	"github.com/stepsnap/stepsnap/internal/tui/views/steps"
	"github.com/stepsnap/stepsnap/internal/ws"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDetail
	OverlayLog
)

type actionResultMsg struct {
	req  ws.RequestType
	resp *ws.Response
	err  error
}

type healthMsg struct {
	health *ws.Health
	err    error
}

type frameMsg time.Time

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	session *session.CaptureSession
	overlay Overlay
	lastErr string

	statusBar status.Model
	steps     steps.Model
	detail    detail.Model
	log       eventlog.Model

	connected bool
	animating bool
}

// New creates the root model.
func New(ws *client.WSClient, http *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		statusBar: status.New(),
		steps:     steps.New(),
		detail:    detail.New(),
		log:       eventlog.New(),
	}
}

// Init starts the WebSocket connection.
func (m Model) Init() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	return m.ws.Listen(m.ctx)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.steps.Width = msg.Width
		m.steps.Height = max(msg.Height-8, 3)
		if st, ok := m.steps.SelectedStep(); ok && m.overlay == OverlayDetail {
			m.detail.SetStep(st, m.width, m.height-4)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.log.Add("ws", "connected")
		return m, tea.Batch(m.readNext(), m.fetchHealth())

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		if msg.Err != nil {
			m.log.Add("ws", "disconnected: "+msg.Err.Error())
		} else {
			m.log.Add("ws", "disconnected")
		}
		if m.ws == nil {
			return m, nil
		}
		return m, m.ws.Listen(m.ctx)

	case client.WSSessionMsg:
		m.applySession(msg)
		cmd := tea.Batch(m.readNext(), m.startAnimation())
		return m, cmd

	case actionResultMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s: %v", msg.req, msg.err)
			m.log.Add("err", m.lastErr)
			return m, nil
		}
		m.lastErr = ""
		text := string(msg.req)
		if msg.resp != nil {
			if s, ok := msg.resp.Data["status"].(string); ok {
				text += " → " + s
			}
		}
		m.log.Add("act", text)
		return m, nil

	case healthMsg:
		if msg.err != nil {
			m.log.Add("err", "health: "+msg.err.Error())
			return m, nil
		}
		m.statusBar.SetMaxSteps(msg.health.MaxSteps)
		m.statusBar.InFlight = msg.health.InFlight
		cmd := m.startAnimation()
		return m, cmd

	case frameMsg:
		m.statusBar.Animate()
		if m.statusBar.Animating() {
			return m, frameTick()
		}
		m.animating = false
		return m, nil
	}

	return m, nil
}

func (m *Model) applySession(msg client.WSSessionMsg) {
	prev := m.session
	m.session = msg.Payload.Session
	m.statusBar.SetSession(m.session)
	if m.session == nil {
		m.steps.SetSteps(nil)
		if m.overlay == OverlayDetail {
			m.overlay = OverlayNone
		}
	} else {
		m.steps.SetSteps(m.session.Steps)
	}

	switch {
	case m.session == nil:
		if prev != nil {
			m.log.Add("step", "session cleared")
		}
	case msg.Payload.Event == "step_added":
		if st, ok := m.session.LastStep(); ok {
			m.log.Add("step", fmt.Sprintf("#%d %s", st.Number, st.Description))
		}
	case msg.Payload.Event == "started":
		m.log.Add("step", "capture started: "+m.session.Title)
	case prev == nil || prev.Status != m.session.Status:
		m.log.Add("step", "status "+m.session.Status.String())
	}
}

func (m Model) readNext() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	return m.ws.ReadLoop(m.ctx)
}

func (m Model) fetchHealth() tea.Cmd {
	if m.http == nil {
		return nil
	}
	hc := m.http
	return func() tea.Msg {
		h, err := hc.Health()
		return healthMsg{health: h, err: err}
	}
}

func (m Model) send(req ws.RequestType, payload any) tea.Cmd {
	if m.http == nil {
		return nil
	}
	hc := m.http
	return func() tea.Msg {
		resp, err := hc.Send(req, payload)
		return actionResultMsg{req: req, resp: resp, err: err}
	}
}

func (m *Model) startAnimation() tea.Cmd {
	if m.animating || !m.statusBar.Animating() {
		return nil
	}
	m.animating = true
	return frameTick()
}

func frameTick() tea.Cmd {
	return tea.Tick(time.Second/status.FPS, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.overlay != OverlayNone {
		if key.Matches(msg, m.keys.Escape) {
			m.overlay = OverlayNone
			return m, nil
		}
		if key.Matches(msg, m.keys.Quit) {
			m.cancel()
			return m, tea.Quit
		}
		switch m.overlay {
		case OverlayDetail:
			var cmd tea.Cmd
			m.detail, cmd = m.detail.Update(msg)
			return m, cmd
		case OverlayLog:
			switch {
			case key.Matches(msg, m.keys.Up):
				m.log.ScrollUp(1)
			case key.Matches(msg, m.keys.Down):
				m.log.ScrollDown(1)
			}
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		m.steps.Up()
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.steps.Down()
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		if st, ok := m.steps.SelectedStep(); ok {
			m.detail.SetStep(st, max(m.width, 40), max(m.height-4, 10))
			m.overlay = OverlayDetail
		}
		return m, nil

	case key.Matches(msg, m.keys.Log):
		m.overlay = OverlayLog
		return m, nil

	case key.Matches(msg, m.keys.Stop):
		return m, m.send(ws.ReqStopCapture, nil)

	case key.Matches(msg, m.keys.Pause):
		return m, m.send(ws.ReqPauseCapture, nil)

	case key.Matches(msg, m.keys.Resume):
		return m, m.send(ws.ReqResumeCapture, nil)

	case key.Matches(msg, m.keys.Cancel):
		return m, m.send(ws.ReqCancelCapture, nil)

	case key.Matches(msg, m.keys.Export):
		return m, m.send(ws.ReqExportReady, nil)

	case key.Matches(msg, m.keys.Delete):
		if st, ok := m.steps.SelectedStep(); ok {
			return m, m.send(ws.ReqDeleteStep, map[string]string{"stepId": st.ID})
		}
		return m, nil

	case key.Matches(msg, m.keys.MoveUp):
		return m, m.reorder(-1)

	case key.Matches(msg, m.keys.MoveDown):
		return m, m.reorder(1)
	}

	return m, nil
}

func (m Model) reorder(delta int) tea.Cmd {
	ids := m.steps.MovedIDs(delta)
	if ids == nil {
		return nil
	}
	return m.send(ws.ReqReorderSteps, map[string][]string{"stepIds": ids})
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if !m.connected {
		return m.renderDisconnected()
	}

	switch m.overlay {
	case OverlayDetail:
		return lipgloss.JoinVertical(lipgloss.Left, m.statusBar.View(), m.detail.View())
	case OverlayLog:
		return lipgloss.JoinVertical(lipgloss.Left, m.statusBar.View(), m.log.View(m.width, m.height-3))
	}

	count := 0
	if m.session != nil {
		count = len(m.session.Steps)
	}
	sections := []string{
		m.statusBar.View(),
		theme.StyleHeader.Render(fmt.Sprintf("=== STEPS (%d) ===", count)),
		m.steps.View(),
	}
	if m.lastErr != "" {
		sections = append(sections, theme.StyleError.Render("  "+m.lastErr))
	}
	sections = append(sections, theme.StyleDimmed.Render(
		"  j/k:navigate  enter:detail  s:stop  p:pause  r:resume  x:cancel  e:export  d:delete  J/K:move  l:log  q:quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderDisconnected() string {
	box := lipgloss.NewStyle().
		Padding(1, 4).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorDanger).
		Render(lipgloss.JoinVertical(lipgloss.Center,
			theme.StyleError.Bold(true).Render("DISCONNECTED"),
			theme.StyleDimmed.Render("Reconnecting to stepsnap server..."),
		))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
