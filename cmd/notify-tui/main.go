package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/client"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/logging"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/tui/app"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/tui/prefs"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "notify-tui",
	Short:         "Watch ERP notifications and order activity in the terminal",
	Args:          cobra.NoArgs,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.Flags()
	f.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the realtime server")
	f.String("poll-url", "", "Long-poll URL (derived from --url when empty)")
	f.Bool("no-poll", false, "Disable the long-polling fallback")
	f.StringP("user", "u", os.Getenv("USER"), "User id to connect as")
	f.String("token", "", "Auth token (if the server requires it)")
	f.StringSlice("order", nil, "Order id to watch on start (repeatable)")
	f.String("log-file", "", "Write debug logs to this file")
	f.String("state-dir", "", "Where to remember user and watched orders (default $XDG_STATE_HOME/erp-notify)")
	f.Bool("forget", false, "Do not restore or save user and watched orders")
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	wsURL, _ := flags.GetString("url")
	pollURL, _ := flags.GetString("poll-url")
	noPoll, _ := flags.GetBool("no-poll")
	user, _ := flags.GetString("user")
	token, _ := flags.GetString("token")
	orders, _ := flags.GetStringSlice("order")
	logFile, _ := flags.GetString("log-file")
	stateDir, _ := flags.GetString("state-dir")
	forget, _ := flags.GetBool("forget")

	store := prefs.NewStore(stateDir)
	saved := &prefs.Prefs{}
	if !forget {
		p, err := store.Load()
		if err != nil {
			return err
		}
		saved = p
		if !flags.Changed("user") && saved.User != "" {
			user = saved.User
		}
		if !flags.Changed("url") && saved.URL != "" {
			wsURL = saved.URL
		}
		orders = append(saved.Orders, orders...)
	}

	if pollURL == "" && !noPoll {
		pollURL = derivePollURL(wsURL)
	}
	if noPoll {
		pollURL = ""
	}

	// The terminal belongs to the UI, so logs go to a file or nowhere.
	log := zerolog.Nop()
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logging.Init(logging.Config{Level: logging.DebugLevel, JSONOutput: true, Output: f})
		log = logging.WithComponent("hook")
	}

	hook := client.NewHook(client.HookConfig{
		URL:     wsURL,
		PollURL: pollURL,
		Token:   token,
		Logger:  log,
	})
	defer hook.Close()

	m := app.New(hook)
	hook.SetIdentity(user)
	for _, id := range orders {
		// Not connected yet; the hook joins these once it is.
		_ = hook.JoinOrder(id)
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}

	if forget {
		return nil
	}
	saved.User = hook.Identity()
	saved.URL = wsURL
	saved.SetOrders(hook.Orders())
	if err := store.Save(saved); err != nil {
		return fmt.Errorf("save prefs: %w", err)
	}
	return nil
}

// derivePollURL converts ws://host:port/ws → http://host:port/poll
func derivePollURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://127.0.0.1:8080/poll"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/poll", scheme, u.Host)
}
