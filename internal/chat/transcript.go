package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	UserAuthor = "user"
	UserIcon   = "🗨️"
	GreetingID = "hello"
)

var (
	ErrUnknownAgent = errors.New("unknown agent")
	ErrNoAgent      = errors.New("no agent selected")
	ErrEmptyMessage = errors.New("message is empty")
)

// Line is one transcript entry. Author is an agent id or "user".
type Line struct {
	ID        string
	AgentID   string
	Author    string
	Icon      string
	Text      string
	CreatedAt time.Time
}

func (l Line) IsUser() bool { return l.Author == UserAuthor }

// Transcript is the chat state of one panel.
type Transcript struct {
	mu     sync.Mutex
	active string
	lines  []Line
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Greeting is the first line an agent shows for the current tab.
func Greeting(tabURL string) string {
	if strings.TrimSpace(tabURL) == "" {
		tabURL = "—"
	}
	return fmt.Sprintf("Your current Tab URL is %s", tabURL)
}

// Select makes agentID active and replaces the visible transcript with its
// greeting.
func (t *Transcript) Select(agentID, tabURL string) (Line, error) {
	agent, ok := Lookup(agentID)
	if !ok {
		return Line{}, fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}
	line := Line{
		ID:        GreetingID,
		AgentID:   agent.ID,
		Author:    agent.ID,
		Icon:      agent.Icon,
		Text:      Greeting(tabURL),
		CreatedAt: time.Now().UTC(),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = agent.ID
	t.lines = []Line{line}
	return line, nil
}

// Send appends a user message to the active agent's transcript.
func (t *Transcript) Send(text string) (Line, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Line{}, ErrEmptyMessage
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == "" {
		return Line{}, ErrNoAgent
	}
	line := Line{
		ID:        uuid.NewString(),
		AgentID:   t.active,
		Author:    UserAuthor,
		Icon:      UserIcon,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	t.lines = append(t.lines, line)
	return line, nil
}

func (t *Transcript) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Transcript) Lines() []Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Line, len(t.lines))
	copy(out, t.lines)
	return out
}
