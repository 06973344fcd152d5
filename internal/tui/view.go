package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/harshmpotenz/SideBar/internal/clickup"
	"github.com/harshmpotenz/SideBar/internal/protocol"
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("NUCLEAS"))
	if m.hasState && m.state.User != nil {
		b.WriteString(mutedStyle.Render("  " + m.state.User.Email))
	}
	b.WriteString("\n")

	if !m.hasState || m.state.Screen == "loading" {
		b.WriteString(m.spinner.View() + " Loading...\n")
	} else {
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}

	if m.notice != "" {
		style := okStyle
		if m.noticeErr {
			style = errorStyle
		}
		b.WriteString(style.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	return b.String()
}

// body renders the scrollable part of the panel for the current screen.
func (m Model) body() string {
	switch m.state.Screen {
	case "auth":
		return boxStyle.Render(strings.Join([]string{
			"Sign in to continue",
			"",
			mutedStyle.Render("/login <email> <password>"),
			mutedStyle.Render("/signup <email> <password>"),
			mutedStyle.Render("/google"),
		}, "\n"))
	case "main":
		return lipgloss.JoinVertical(lipgloss.Left,
			renderTab(m.state.Tab),
			renderTask(m.state.Task),
			renderChat(m.state.Chat),
		)
	default:
		return ""
	}
}

func renderTab(tab protocol.TabView) string {
	url := tab.URL
	if url == "" {
		url = mutedStyle.Render("waiting for the host tab (/open <url>)")
	}
	return labelStyle.Render("Tab") + valueStyle.Render(url)
}

func renderTask(task protocol.TaskView) string {
	if task.DerivationMessage != "" {
		return boxStyle.Render(task.DerivationMessage)
	}
	switch task.Status {
	case "loading":
		return boxStyle.Render(mutedStyle.Render("Loading task " + task.TaskID + "..."))
	case "failed":
		return boxStyle.Render(errorStyle.Render(task.Error))
	case "loaded":
		lines := make([]string, 0, 20)
		for _, f := range clickup.Summarize(task.Data) {
			lines = append(lines, labelStyle.Render(f.Label)+valueStyle.Render(oneLine(f.Value)))
		}
		return boxStyle.Render(strings.Join(lines, "\n"))
	default:
		return ""
	}
}

func renderChat(chat protocol.ChatView) string {
	agents := make([]string, 0, len(chat.Agents))
	for _, a := range chat.Agents {
		agents = append(agents, agentStyle(a.Color, a.ID == chat.ActiveAgent).Render(a.Icon+" "+a.ID))
	}
	lines := []string{strings.Join(agents, " ")}
	if chat.ActiveAgent == "" {
		lines = append(lines, mutedStyle.Render("Pick an agent with /agent <id>"))
	}
	for _, msg := range chat.Messages {
		text := msg.Icon + " " + msg.Text
		if msg.IsUser {
			lines = append(lines, userLineStyle.Render(text))
			continue
		}
		lines = append(lines, valueStyle.Render(text))
	}
	return strings.Join(lines, "\n")
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 120 {
		return string(r[:117]) + "..."
	}
	return s
}
