package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies frame channel payload variants.
type MessageType string

const (
	TypeTabInfo            MessageType = "tabInfo"
	TypeRequestInitialData MessageType = "requestInitialData"
	TypeClientControl      MessageType = "client_control"
	TypePanelState         MessageType = "panel_state"
	TypeAuthResult         MessageType = "auth_result"
	TypeOAuthRedirect      MessageType = "oauth_redirect"
	TypeErrorEvent         MessageType = "error_event"
)

// Control actions sent by the panel page.
const (
	ActionSignIn      = "sign_in"
	ActionSignUp      = "sign_up"
	ActionSignOut     = "sign_out"
	ActionOAuthStart  = "oauth_start"
	ActionNavigate    = "navigate"
	ActionSelectAgent = "select_agent"
	ActionSendChat    = "send_chat"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrNotTabInfo      = errors.New("not a tabInfo envelope")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// TabInfo is the host tab snapshot forwarded by the hosting frame.
type TabInfo struct {
	Type  MessageType `json:"type"`
	URL   string      `json:"url"`
	Title string      `json:"title"`
}

// RequestInitialData asks the hosting frame for the current tab snapshot.
type RequestInitialData struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	Action   string      `json:"action"`
	Email    string      `json:"email,omitempty"`
	Password string      `json:"password,omitempty"`
	Route    string      `json:"route,omitempty"`
	AgentID  string      `json:"agent_id,omitempty"`
	Text     string      `json:"text,omitempty"`
}

type AuthResult struct {
	Type    MessageType `json:"type"`
	Action  string      `json:"action"`
	OK      bool        `json:"ok"`
	Message string      `json:"message,omitempty"`
}

type OAuthRedirect struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	PanelID string      `json:"panel_id"`
	Code    string      `json:"code"`
	Source  string      `json:"source"`
	Detail  string      `json:"detail"`
}

type UserView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type TabView struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type TaskView struct {
	TaskID            string          `json:"task_id,omitempty"`
	DerivationMessage string          `json:"derivation_message,omitempty"`
	Status            string          `json:"status"`
	Error             string          `json:"error,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`
}

type AgentView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

type ChatLine struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Icon   string `json:"icon"`
	Text   string `json:"text"`
	IsUser bool   `json:"is_user"`
}

type ChatView struct {
	Agents      []AgentView `json:"agents"`
	ActiveAgent string      `json:"active_agent,omitempty"`
	Messages    []ChatLine  `json:"messages"`
}

// PanelState is the full render state pushed after every change.
type PanelState struct {
	Type     MessageType `json:"type"`
	PanelID  string      `json:"panel_id"`
	Seq      int64       `json:"seq"`
	Screen   string      `json:"screen"`
	Route    string      `json:"route"`
	Redirect string      `json:"redirect,omitempty"`
	User     *UserView   `json:"user,omitempty"`
	Tab      TabView     `json:"tab"`
	Task     TaskView    `json:"task"`
	Chat     ChatView    `json:"chat"`
}

// ParseTabInfo accepts only {type:"tabInfo"} envelopes whose url and title,
// when present, are strings. Missing fields read as "".
func ParseTabInfo(raw []byte) (TabInfo, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return TabInfo{}, ErrNotTabInfo
	}
	var typ string
	if err := json.Unmarshal(fields["type"], &typ); err != nil || MessageType(typ) != TypeTabInfo {
		return TabInfo{}, ErrNotTabInfo
	}
	msg := TabInfo{Type: TypeTabInfo}
	var ok bool
	if msg.URL, ok = optionalString(fields["url"]); !ok {
		return TabInfo{}, ErrNotTabInfo
	}
	if msg.Title, ok = optionalString(fields["title"]); !ok {
		return TabInfo{}, ErrNotTabInfo
	}
	return msg, nil
}

func optionalString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// ParseClientMessage decodes one inbound frame into TabInfo or ClientControl.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTabInfo:
		msg, err := ParseTabInfo(raw)
		if err != nil {
			return nil, err
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if err := msg.validate(); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func (c ClientControl) validate() error {
	switch c.Action {
	case ActionSignIn, ActionSignUp:
		if strings.TrimSpace(c.Email) == "" || c.Password == "" {
			return fmt.Errorf("invalid client_control %s: email and password are required", c.Action)
		}
	case ActionNavigate:
		if strings.TrimSpace(c.Route) == "" {
			return errors.New("invalid client_control navigate: route is required")
		}
	case ActionSelectAgent:
		if strings.TrimSpace(c.AgentID) == "" {
			return errors.New("invalid client_control select_agent: agent_id is required")
		}
	case ActionSignOut, ActionOAuthStart, ActionSendChat:
	case "":
		return errors.New("invalid client_control: action is required")
	default:
		return fmt.Errorf("invalid client_control: unknown action %q", c.Action)
	}
	return nil
}
