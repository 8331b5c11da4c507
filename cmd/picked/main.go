// Command picked runs the Picked messaging server and its maintenance tasks.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"picked/cmd/internal/app"
	"picked/cmd/internal/smoke"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "picked",
		Short:         "Picked messaging server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd(), newSmokeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, the realtime gateway and /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return app.Serve(cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PICKED_HTTP_ADDR)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the messaging and profile tables in PICKED_DATABASE_URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat))
		},
	}
}

func newTokenCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token for a profile id (local testing)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			tok, exp, err := app.IssueToken(cfg, userID, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "profile id placed in the uid claim")
	return cmd
}

func newSmokeCmd() *cobra.Command {
	var (
		o            smoke.Options
		userA, userB string
	)
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run one conversation end to end against a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			if o.TokenA, _, err = app.IssueToken(cfg, userA, now); err != nil {
				return err
			}
			if o.TokenB, _, err = app.IssueToken(cfg, userB, now); err != nil {
				return err
			}
			o.UserB = userB

			res, err := smoke.Run(cmd.Context(), o)
			if err != nil {
				return fmt.Errorf("smoke: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok conversation=%s message=%s marked=%d history=%d\n",
				res.ConversationID, res.MessageID, res.Marked, res.HistoryLen)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.BaseURL, "base", "http://127.0.0.1:8080", "server base URL")
	f.StringVar(&o.Origin, "origin", "http://localhost", "Origin header for the websocket handshake")
	f.StringVar(&o.Text, "text", "smoke check", "message text")
	f.DurationVar(&o.Timeout, "timeout", 7*time.Second, "per-step timeout")
	f.StringVar(&userA, "user-a", "smoke-a", "sender profile id")
	f.StringVar(&userB, "user-b", "smoke-b", "recipient profile id")
	return cmd
}
