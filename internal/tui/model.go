// Package tui is a terminal side panel. It connects to the panel websocket
// and plays both parts of the browser: it forwards the host tab when asked
// and renders whatever panel_state the server pushes.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/harshmpotenz/SideBar/internal/protocol"
)

// Sender writes one message to the frame channel.
type Sender interface {
	Send(v any) error
}

// Messages
type frameMsg struct {
	raw []byte
}

type disconnectedMsg struct{}

type sendErrMsg struct {
	err error
}

// Model is the root Bubble Tea model.
type Model struct {
	width  int
	height int

	sender Sender
	frames <-chan []byte

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	keys     keyMap

	state     protocol.PanelState
	hasState  bool
	tabURL    string
	tabTitle  string
	notice    string
	noticeErr bool
	closed    bool
}

// NewModel builds the panel. tabURL, when set, is reported as the host tab
// as soon as the server asks for it.
func NewModel(sender Sender, frames <-chan []byte, tabURL string) Model {
	ti := textinput.New()
	ti.Placeholder = "message, or /help"
	ti.Prompt = "› "
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = mutedStyle

	return Model{
		sender:   sender,
		frames:   frames,
		input:    ti,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		keys:     defaultKeyMap(),
		tabURL:   strings.TrimSpace(tabURL),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForFrame(m.frames))
}

func waitForFrame(frames <-chan []byte) tea.Cmd {
	if frames == nil {
		return nil
	}
	return func() tea.Msg {
		raw, ok := <-frames
		if !ok {
			return disconnectedMsg{}
		}
		return frameMsg{raw: raw}
	}
}

func (m Model) send(v any) tea.Cmd {
	sender := m.sender
	return func() tea.Msg {
		if err := sender.Send(v); err != nil {
			return sendErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-6, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Submit):
			line := m.input.Value()
			m.input.SetValue("")
			next, cmd := m.handleInput(line)
			return next, cmd
		case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case frameMsg:
		cmds = append(cmds, m.handleFrame(msg.raw), waitForFrame(m.frames))
		return m, tea.Batch(cmds...)

	case disconnectedMsg:
		m.closed = true
		m.setNotice("Disconnected from panel server", true)
		return m, nil

	case sendErrMsg:
		m.setNotice("send failed: "+msg.err.Error(), true)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleFrame(raw []byte) tea.Cmd {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	switch env.Type {
	case protocol.TypeRequestInitialData:
		if m.tabURL == "" {
			return nil
		}
		return m.send(m.tabInfo())
	case protocol.TypePanelState:
		var st protocol.PanelState
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil
		}
		m.state, m.hasState = st, true
		m.refresh()
	case protocol.TypeAuthResult:
		var res protocol.AuthResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil
		}
		switch {
		case res.Message != "":
			m.setNotice(res.Message, !res.OK)
		case res.OK:
			m.setNotice(res.Action+" ok", false)
		}
	case protocol.TypeOAuthRedirect:
		var r protocol.OAuthRedirect
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil
		}
		m.setNotice("Open this URL to continue with Google: "+r.URL, false)
	case protocol.TypeErrorEvent:
		var ev protocol.ErrorEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil
		}
		m.setNotice(fmt.Sprintf("%s: %s", ev.Code, ev.Detail), true)
	}
	return nil
}

func (m Model) tabInfo() protocol.TabInfo {
	return protocol.TabInfo{Type: protocol.TypeTabInfo, URL: m.tabURL, Title: m.tabTitle}
}

func control(action string) protocol.ClientControl {
	return protocol.ClientControl{Type: protocol.TypeClientControl, Action: action}
}

const helpText = "/open <url>  /agent <id>  /login <email> <password>  /signup <email> <password>  /google  /logout  /quit"

// handleInput turns one submitted line into a frame channel message.
func (m Model) handleInput(line string) (Model, tea.Cmd) {
	line = strings.TrimSpace(line)
	if line == "" {
		return m, nil
	}
	if !strings.HasPrefix(line, "/") {
		c := control(protocol.ActionSendChat)
		c.Text = line
		return m, m.send(c)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/q":
		return m, tea.Quit
	case "/help":
		m.setNotice(helpText, false)
		return m, nil
	case "/open":
		if len(fields) < 2 {
			m.setNotice("usage: /open <url>", true)
			return m, nil
		}
		m.tabURL = fields[1]
		m.tabTitle = strings.Join(fields[2:], " ")
		return m, m.send(m.tabInfo())
	case "/agent":
		if len(fields) != 2 {
			m.setNotice("usage: /agent <id>", true)
			return m, nil
		}
		c := control(protocol.ActionSelectAgent)
		c.AgentID = fields[1]
		return m, m.send(c)
	case "/login", "/signup":
		if len(fields) != 3 {
			m.setNotice("usage: "+fields[0]+" <email> <password>", true)
			return m, nil
		}
		action := protocol.ActionSignIn
		if fields[0] == "/signup" {
			action = protocol.ActionSignUp
		}
		c := control(action)
		c.Email, c.Password = fields[1], fields[2]
		return m, m.send(c)
	case "/google":
		return m, m.send(control(protocol.ActionOAuthStart))
	case "/logout":
		return m, m.send(control(protocol.ActionSignOut))
	default:
		m.setNotice("unknown command "+fields[0]+"; "+helpText, true)
		return m, nil
	}
}

func (m *Model) setNotice(text string, isErr bool) {
	m.notice, m.noticeErr = text, isErr
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.body())
}
