// Package chat holds the static agent roster and the per-panel transcript.
// Agents never answer; the chat only records what the user types.
package chat

// Agent is one entry of the live agent team.
type Agent struct {
	ID     string
	Name   string
	Icon   string
	Colour string
}

var roster = []Agent{
	{ID: "scout", Name: "Scout", Icon: "🔍", Colour: "#c9f5f0"},
	{ID: "muse", Name: "Muse", Icon: "🧠", Colour: "#f9e1ff"},
	{ID: "echo", Name: "Echo", Icon: "🖊️", Colour: "#d8e9ff"},
	{ID: "atlas", Name: "Atlas", Icon: "🛡️", Colour: "#ffe6da"},
	{ID: "beacon", Name: "Beacon", Icon: "🌐", Colour: "#e3fff3"},
}

// Roster returns the agents in display order.
func Roster() []Agent {
	out := make([]Agent, len(roster))
	copy(out, roster)
	return out
}

func Lookup(id string) (Agent, bool) {
	for _, a := range roster {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}
