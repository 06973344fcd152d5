// Package panel runs one side panel per frame channel connection: it wires
// the session store, route gate, tab listener, task resolver, task fetcher
// and chat together and pushes the resulting render state to the frame.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harshmpotenz/SideBar/internal/chat"
	"github.com/harshmpotenz/SideBar/internal/identity"
	"github.com/harshmpotenz/SideBar/internal/navgate"
	"github.com/harshmpotenz/SideBar/internal/observability"
	"github.com/harshmpotenz/SideBar/internal/policy"
	"github.com/harshmpotenz/SideBar/internal/protocol"
	"github.com/harshmpotenz/SideBar/internal/session"
	"github.com/harshmpotenz/SideBar/internal/tabctx"
	"github.com/harshmpotenz/SideBar/internal/taskfetch"
	"github.com/harshmpotenz/SideBar/internal/taskid"
)

const (
	chatSaveTimeout = 3 * time.Second
	sendTimeout     = 5 * time.Second
)

type Config struct {
	Identity      identity.Service
	Fetcher       taskfetch.Fetcher
	Chat          chat.Store
	Registry      *Registry
	Metrics       *observability.Metrics
	OAuthProvider string
	RedirectURL   string
	FetchTimeout  time.Duration
	Logger        *slog.Logger
}

// Runtime serves panel connections.
type Runtime struct {
	cfg    Config
	logger *slog.Logger
}

func NewRuntime(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{cfg: cfg, logger: logger.With("component", "panel")}
}

// mount is the state of one connected panel. Fields below the channels are
// owned by the RunConnection goroutine.
type mount struct {
	rt       *Runtime
	id       string
	ctx      context.Context
	outbound chan<- any
	logger   *slog.Logger
	wg       sync.WaitGroup

	store      *session.Store
	listener   *tabctx.Listener
	fetch      *taskfetch.Controller
	transcript *chat.Transcript

	dirty chan struct{}

	route    string
	tab      tabctx.Snapshot
	identity taskid.Identity
	seq      int64
	last     *protocol.PanelState
}

// RunConnection drives one panel from mount to unmount. inbound carries raw
// frames from the hosting page; ctx cancellation or a closed inbound
// unmounts the panel.
func (rt *Runtime) RunConnection(ctx context.Context, inbound <-chan []byte, outbound chan<- any) error {
	if rt.cfg.Identity == nil || rt.cfg.Fetcher == nil {
		return errors.New("panel runtime requires an identity service and a task fetcher")
	}
	ctx, cancel := context.WithCancel(ctx)

	m := &mount{
		rt:         rt,
		id:         uuid.NewString(),
		ctx:        ctx,
		outbound:   outbound,
		transcript: chat.NewTranscript(),
		dirty:      make(chan struct{}, 1),
		route:      navgate.RouteMain,
	}
	m.logger = rt.logger.With("panel_id", m.id)
	defer func() {
		cancel()
		m.wg.Wait()
	}()

	if rt.cfg.Registry != nil {
		rt.cfg.Registry.Mount(m.id, cancel)
		defer func() { _, _ = rt.cfg.Registry.Unmount(m.id) }()
	}
	if rt.cfg.Metrics != nil {
		rt.cfg.Metrics.ActivePanels.Inc()
		rt.cfg.Metrics.PanelEvents.WithLabelValues("mounted").Inc()
		defer func() {
			rt.cfg.Metrics.ActivePanels.Dec()
			rt.cfg.Metrics.PanelEvents.WithLabelValues("unmounted").Inc()
		}()
	}

	m.store = session.NewStore(rt.cfg.Identity, session.Options{
		OAuthProvider: rt.cfg.OAuthProvider,
		RedirectURL:   rt.cfg.RedirectURL,
		Logger:        m.logger,
	})
	defer m.store.Close()
	disposeSession := m.store.OnSessionChanged(func(session.State) { m.markDirty() })
	defer disposeSession()

	var observer taskfetch.Observer
	if rt.cfg.Metrics != nil {
		observer = rt.cfg.Metrics
	}
	m.fetch = taskfetch.NewController(rt.cfg.Fetcher, func(taskfetch.State) { m.markDirty() }, taskfetch.Options{
		Timeout:  rt.cfg.FetchTimeout,
		Logger:   m.logger,
		Observer: observer,
	})
	defer m.fetch.Close()

	m.listener = tabctx.NewListener(m.post, m.applySnapshot)
	defer m.listener.Deactivate()

	m.logger.Info("panel mounted")
	m.pushState()

	started := time.Now()
	m.goSafe(func() {
		m.store.Initialize(ctx)
		if rt.cfg.Metrics != nil {
			rt.cfg.Metrics.ObserveSessionResolve(time.Since(started))
		}
	})

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("panel unmounted")
			return nil
		case raw, ok := <-inbound:
			if !ok {
				m.logger.Info("panel unmounted")
				return nil
			}
			m.handleFrame(raw)
		case <-m.dirty:
			m.reconcile()
		}
	}
}

func (m *mount) markDirty() {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

func (m *mount) goSafe(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// post sends a message to the hosting frame.
func (m *mount) post(msg any) error {
	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case m.outbound <- msg:
		m.countOutbound(msg)
		return nil
	case <-m.ctx.Done():
		return m.ctx.Err()
	case <-timer.C:
		m.logger.Warn("outbound queue stalled, dropping message", "type", string(typeOf(msg)))
		return errors.New("outbound queue stalled")
	}
}

func (m *mount) countOutbound(msg any) {
	if m.rt.cfg.Metrics == nil {
		return
	}
	if t := typeOf(msg); t != "" {
		m.rt.cfg.Metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
	}
}

// applySnapshot runs on the RunConnection goroutine via Listener.Deliver.
func (m *mount) applySnapshot(s tabctx.Snapshot) {
	m.tab = s
	m.identity = taskid.Resolve(s.URL)
	m.markDirty()
}

func (m *mount) handleFrame(raw []byte) {
	if m.rt.cfg.Registry != nil {
		_ = m.rt.cfg.Registry.Touch(m.id)
	}
	if m.listener.Deliver(raw) {
		m.countInbound(protocol.TypeTabInfo)
		return
	}

	msg, err := protocol.ParseClientMessage(raw)
	if err != nil {
		var env protocol.Envelope
		if json.Unmarshal(raw, &env) == nil && env.Type == protocol.TypeClientControl {
			m.sendError("invalid_client_message", "gateway", err.Error())
			return
		}
		m.logger.Debug("ignoring unrecognized frame", "error", err)
		return
	}

	control, ok := msg.(protocol.ClientControl)
	if !ok {
		return
	}
	m.countInbound(protocol.TypeClientControl)
	m.handleControl(control)
}

func (m *mount) countInbound(t protocol.MessageType) {
	if m.rt.cfg.Metrics != nil {
		m.rt.cfg.Metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
	}
}

func (m *mount) handleControl(c protocol.ClientControl) {
	switch c.Action {
	case protocol.ActionSignIn, protocol.ActionSignUp:
		email, password, action := c.Email, c.Password, c.Action
		m.goSafe(func() {
			var res session.Result
			if action == protocol.ActionSignUp {
				res = m.store.SignUp(m.ctx, email, password)
			} else {
				res = m.store.SignIn(m.ctx, email, password)
			}
			_ = m.post(protocol.AuthResult{Type: protocol.TypeAuthResult, Action: action, OK: res.OK, Message: res.Message})
		})
	case protocol.ActionSignOut:
		m.goSafe(func() {
			res := m.store.SignOut(m.ctx)
			_ = m.post(protocol.AuthResult{Type: protocol.TypeAuthResult, Action: protocol.ActionSignOut, OK: res.OK, Message: res.Message})
		})
	case protocol.ActionOAuthStart:
		m.goSafe(func() {
			target, res := m.store.SignInWithOAuth(m.ctx)
			if !res.OK {
				_ = m.post(protocol.AuthResult{Type: protocol.TypeAuthResult, Action: protocol.ActionOAuthStart, Message: res.Message})
				return
			}
			_ = m.post(protocol.OAuthRedirect{Type: protocol.TypeOAuthRedirect, URL: target})
		})
	case protocol.ActionNavigate:
		m.route = navgate.Normalize(c.Route)
		m.reconcile()
	case protocol.ActionSelectAgent:
		if !m.onMainScreen() {
			m.sendError("not_signed_in", "chat", "sign in to talk to the agent team")
			return
		}
		line, err := m.transcript.Select(c.AgentID, m.tab.URL)
		if err != nil {
			m.sendError("unknown_agent", "chat", err.Error())
			return
		}
		m.saveLine(line)
		m.reconcile()
	case protocol.ActionSendChat:
		if !m.onMainScreen() {
			m.sendError("not_signed_in", "chat", "sign in to talk to the agent team")
			return
		}
		line, err := m.transcript.Send(c.Text)
		if err != nil {
			// Empty text or no agent selected: nothing to send.
			return
		}
		m.saveLine(line)
		m.reconcile()
	}
}

func (m *mount) onMainScreen() bool {
	return navgate.Decide(m.store.State(), m.route).Screen == navgate.ScreenMain
}

func (m *mount) saveLine(line chat.Line) {
	if m.rt.cfg.Chat == nil {
		return
	}
	st := m.store.State()
	userID := ""
	if st.User != nil {
		userID = st.User.ID
	}
	text, redacted := policy.RedactPII(line.Text)
	record := chat.Record{
		ID:          line.ID,
		UserID:      userID,
		PanelID:     m.id,
		AgentID:     line.AgentID,
		Author:      line.Author,
		Text:        text,
		PIIRedacted: redacted,
		CreatedAt:   line.CreatedAt,
	}
	if record.ID == chat.GreetingID {
		// Greetings share an id across panels.
		record.ID = ""
	}
	store := m.rt.cfg.Chat
	m.goSafe(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), chatSaveTimeout)
		defer cancel()
		if err := store.SaveLine(ctx, record); err != nil {
			m.logger.Warn("saving chat line failed", "error", err)
		}
	})
}

func (m *mount) sendError(code, source, detail string) {
	_ = m.post(protocol.ErrorEvent{
		Type:    protocol.TypeErrorEvent,
		PanelID: m.id,
		Code:    code,
		Source:  source,
		Detail:  detail,
	})
}

// reconcile re-derives everything from the session, route and tab and
// pushes the render state if it changed.
func (m *mount) reconcile() {
	st := m.store.State()
	decision := navgate.Decide(st, m.route)
	if decision.Route != "" {
		m.route = decision.Route
	}

	switch {
	case decision.Screen == navgate.ScreenMain && !m.listener.Active():
		if err := m.listener.Activate(); err != nil {
			m.logger.Warn("requesting initial tab data failed", "error", err)
		}
	case decision.Screen != navgate.ScreenMain && m.listener.Active():
		m.listener.Deactivate()
		m.tab = tabctx.Snapshot{}
		m.identity = taskid.Identity{}
	}

	if !st.Resolving() {
		m.fetch.Update(m.identity.TaskID, st.Credential)
	}

	if decision.Redirected {
		m.logger.Debug("route redirected", "to", decision.Route)
	}
	m.pushStateWith(st, decision)
}

func (m *mount) pushState() {
	st := m.store.State()
	m.pushStateWith(st, navgate.Decide(st, m.route))
}

func (m *mount) pushStateWith(st session.State, decision navgate.Decision) {
	next := m.buildState(st, decision)
	if m.last != nil && reflect.DeepEqual(*m.last, next) {
		return
	}
	m.last = &next

	m.seq++
	out := next
	out.Seq = m.seq
	if m.rt.cfg.Registry != nil {
		_ = m.rt.cfg.Registry.Update(m.id, func(info *Info) {
			info.Screen = out.Screen
			info.TabURL = out.Tab.URL
			info.TaskID = out.Task.TaskID
			info.TaskStatus = out.Task.Status
			info.User = ""
			if out.User != nil {
				info.User = policy.RedactEmail(out.User.Email)
			}
		})
	}

	if err := m.post(out); err != nil {
		m.logger.Debug("panel state not delivered", "error", err)
	}
}

// buildState assembles the render state. Seq is left zero so that two
// states can be compared.
func (m *mount) buildState(st session.State, decision navgate.Decision) protocol.PanelState {
	ps := protocol.PanelState{
		Type:    protocol.TypePanelState,
		PanelID: m.id,
		Screen:  string(decision.Screen),
		Route:   decision.Route,
		Task:    protocol.TaskView{Status: string(taskfetch.KindIdle)},
		Chat:    protocol.ChatView{Agents: agentViews(), Messages: []protocol.ChatLine{}},
	}
	if decision.Redirected {
		ps.Redirect = decision.Route
	}
	if st.User != nil && decision.Screen != navgate.ScreenLoading {
		ps.User = &protocol.UserView{ID: st.User.ID, Email: st.User.Email}
	}
	if decision.Screen != navgate.ScreenMain {
		return ps
	}

	ps.Tab = protocol.TabView{URL: m.tab.URL, Title: m.tab.Title}
	fs := m.fetch.State()
	ps.Task = protocol.TaskView{
		TaskID:            m.identity.TaskID,
		DerivationMessage: m.identity.Message,
		Status:            string(fs.Kind),
		Error:             fs.Error,
		Data:              fs.Data,
	}
	ps.Chat.ActiveAgent = m.transcript.Active()
	for _, line := range m.transcript.Lines() {
		ps.Chat.Messages = append(ps.Chat.Messages, protocol.ChatLine{
			ID:     line.ID,
			Author: line.Author,
			Icon:   line.Icon,
			Text:   line.Text,
			IsUser: line.IsUser(),
		})
	}
	return ps
}

func agentViews() []protocol.AgentView {
	roster := chat.Roster()
	out := make([]protocol.AgentView, 0, len(roster))
	for _, a := range roster {
		out = append(out, protocol.AgentView{ID: a.ID, Name: a.Name, Icon: a.Icon, Color: a.Colour})
	}
	return out
}

func typeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.PanelState:
		return m.Type
	case protocol.RequestInitialData:
		return m.Type
	case protocol.AuthResult:
		return m.Type
	case protocol.OAuthRedirect:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return ""
	}
}
