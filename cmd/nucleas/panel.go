package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/harshmpotenz/SideBar/internal/tui"
)

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Open a terminal side panel against a running server",
	Long: `Connects to the panel websocket of "nucleas serve" and acts as both the
host tab and the panel page. Use /open <url> to point the panel at a tab,
/agent <id> to pick an agent and /help for the rest.`,
	Args: cobra.NoArgs,
	RunE: runPanel,
}

func init() {
	panelCmd.Flags().String("server", "", "panel websocket URL (default derived from APP_BIND_ADDR)")
	panelCmd.Flags().String("tab", "", "host tab URL reported when the panel asks for it")
	rootCmd.AddCommand(panelCmd)
}

func runPanel(cmd *cobra.Command, _ []string) error {
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		server = panelURL(cfg.BindAddr)
	}
	tab, _ := cmd.Flags().GetString("tab")

	conn, err := tui.Dial(cmd.Context(), server)
	if err != nil {
		return err
	}
	defer conn.Close()

	p := tea.NewProgram(tui.NewModel(conn, conn.Frames(), tab), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal panel: %w", err)
	}
	return nil
}

// panelURL maps a listen address to the websocket URL a local client dials.
func panelURL(bind string) string {
	host := bind
	switch {
	case strings.HasPrefix(bind, ":"):
		host = "127.0.0.1" + bind
	case strings.HasPrefix(bind, "0.0.0.0:"):
		host = "127.0.0.1" + strings.TrimPrefix(bind, "0.0.0.0")
	}
	return "ws://" + host + "/v1/panel/ws"
}
