package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/stepsnap/stepsnap/internal/tui/app"
	"github.com/stepsnap/stepsnap/internal/tui/client"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		wsURL   string
		token   string
		logFile string
	)
	cmd := &cobra.Command{
		Use:          "stepsnap-tui",
		Short:        "Watch a stepsnap capture session from the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if logFile != "" {
				f, err := tea.LogToFile(logFile, "stepsnap-tui")
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))
			}

			ws := client.NewWSClient(wsURL, token)
			defer ws.Close()
			httpClient := client.NewHTTPClient(deriveHTTPBase(wsURL), token)

			p := tea.NewProgram(app.New(ws, httpClient), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&wsURL, "url", "ws://127.0.0.1:8765/ws", "WebSocket URL of the stepsnap server")
	cmd.Flags().StringVar(&token, "token", "", "auth token, if the server requires one")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write debug logs to this file")
	return cmd
}

// deriveHTTPBase converts ws://host:port/ws to http://host:port.
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8765"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
